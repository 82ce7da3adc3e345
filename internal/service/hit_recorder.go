package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/pkg/jobs"
)

const (
	hitJobType      = "rule_hits"
	hitFlushTimeout = 5 * time.Second
)

// HitRepository persists rule hit counters.
type HitRepository interface {
	IncrementHits(ctx context.Context, counts map[int64]int64, at time.Time) error
}

type hitBatch struct {
	counts map[int64]int64
	at     time.Time
}

// HitRecorder applies rule hit-count updates off the scan path. Updates are
// best effort: when the queue is full the batch is dropped. Batches still
// buffered at Stop are written synchronously.
type HitRecorder struct {
	repo   HitRepository
	queue  *jobs.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewHitRecorder builds a recorder with its own worker queue.
func NewHitRecorder(repo HitRepository, workers, buffer int, logger *zap.Logger) *HitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &HitRecorder{repo: repo, logger: logger, now: time.Now}
	r.queue = jobs.NewQueue("rule-hits", r.handle, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: buffer,
		MaxRetries: 1,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
		OnDiscard:  r.flush,
	})
	return r
}

// Start launches the workers.
func (r *HitRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop waits for the workers to exit and flushes pending batches.
func (r *HitRecorder) Stop() {
	r.queue.Stop()
}

// Queue exposes the backing queue for instrumentation.
func (r *HitRecorder) Queue() *jobs.Queue {
	return r.queue
}

// Record schedules counter updates for hits without blocking.
func (r *HitRecorder) Record(hits []models.RuleHit) {
	if len(hits) == 0 {
		return
	}
	counts := make(map[int64]int64, len(hits))
	for _, hit := range hits {
		counts[hit.RuleID]++
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    hitJobType,
		Payload: hitBatch{counts: counts, at: r.now().UTC()},
	}
	if err := r.queue.TryEnqueue(job); err != nil {
		r.logger.Warn("rule hit update dropped", zap.Int("rules", len(counts)), zap.Error(err))
	}
}

func (r *HitRecorder) handle(ctx context.Context, job jobs.Job) error {
	batch, ok := job.Payload.(hitBatch)
	if !ok {
		return fmt.Errorf("unexpected hit payload %T", job.Payload)
	}
	return r.repo.IncrementHits(ctx, batch.counts, batch.at)
}

func (r *HitRecorder) flush(job jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), hitFlushTimeout)
	defer cancel()
	if err := r.handle(ctx, job); err != nil {
		r.logger.Warn("flush rule hits on stop failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
