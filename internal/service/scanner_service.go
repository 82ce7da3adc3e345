package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/matcher"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

const defaultAutomatonTTL = 5 * time.Minute

// RuleLoader supplies the rules compiled into the automaton.
type RuleLoader interface {
	ListEnabled(ctx context.Context) ([]models.SensitiveRule, error)
}

// HitSink receives scanner hits for best-effort bookkeeping.
type HitSink interface {
	Record(hits []models.RuleHit)
}

// ScannerService serves scans from an immutable automaton snapshot held
// behind an atomic pointer. Snapshots are rebuilt wholesale and swapped in;
// a swap never replaces a snapshot of a newer generation.
type ScannerService struct {
	rules   RuleLoader
	hits    HitSink
	metrics *MetricsService
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	current    atomic.Pointer[matcher.Snapshot]
	generation atomic.Uint64
	// snapshots below this generation must be rebuilt before use
	minFresh atomic.Uint64
	group    singleflight.Group
}

// NewScannerService constructs the scanner. hits and metrics may be nil.
func NewScannerService(rules RuleLoader, hits HitSink, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *ScannerService {
	if ttl <= 0 {
		ttl = defaultAutomatonTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScannerService{
		rules:   rules,
		hits:    hits,
		metrics: metrics,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
	}
}

// ContainsMatch reports whether text contains any effective term.
func (s *ScannerService) ContainsMatch(ctx context.Context, text string) (bool, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Contains(text), nil
}

// FindMatches returns every hit in text and schedules hit-count updates.
func (s *ScannerService) FindMatches(ctx context.Context, text string) ([]models.RuleHit, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	hits := snap.Scan(text)
	if len(hits) > 0 {
		s.metrics.ObserveHits(hits)
		if s.hits != nil {
			s.hits.Record(hits)
		}
	}
	return hits, nil
}

// Redact masks every hit in text with replacement.
func (s *ScannerService) Redact(ctx context.Context, text string, replacement rune) (string, []models.RuleHit, error) {
	hits, err := s.FindMatches(ctx, text)
	if err != nil {
		return "", nil, err
	}
	return matcher.Redact(text, hits, replacement), hits, nil
}

// Refresh rebuilds the automaton synchronously. On failure the current
// snapshot is marked stale so the next scan retries the build.
func (s *ScannerService) Refresh(ctx context.Context) error {
	gen := s.generation.Add(1)
	if _, err := s.build(ctx, gen, "refresh"); err != nil {
		s.raiseMinFresh(gen)
		return appErrors.Wrap(err, appErrors.ErrPipeline.Code, appErrors.ErrPipeline.Status, "rebuild automaton")
	}
	return nil
}

// Status describes the active snapshot.
func (s *ScannerService) Status() dto.AutomatonStatus {
	snap := s.current.Load()
	if snap == nil {
		return dto.AutomatonStatus{Stale: true, Terms: map[models.RuleCategory]int{}}
	}
	stats := snap.Stats()
	builtAt := stats.BuiltAt
	return dto.AutomatonStatus{
		Generation: stats.Generation,
		BuiltAt:    &builtAt,
		Age:        s.now().Sub(builtAt).Truncate(time.Millisecond).String(),
		Stale:      !s.fresh(snap),
		Rules:      stats.Rules,
		Skipped:    stats.Skipped,
		Terms:      stats.Terms,
	}
}

func (s *ScannerService) fresh(snap *matcher.Snapshot) bool {
	return snap != nil &&
		snap.Generation() >= s.minFresh.Load() &&
		s.now().Sub(snap.BuiltAt()) < s.ttl
}

// snapshot returns a usable snapshot, rebuilding lazily when missing or
// stale. Concurrent lazy rebuilds share one build. A failed lazy rebuild
// falls back to the previous snapshot when there is one.
func (s *ScannerService) snapshot(ctx context.Context) (*matcher.Snapshot, error) {
	snap := s.current.Load()
	if s.fresh(snap) {
		return snap, nil
	}
	trigger := "stale"
	if snap == nil {
		trigger = "initial"
	}
	v, err, _ := s.group.Do("rebuild", func() (interface{}, error) {
		if cur := s.current.Load(); s.fresh(cur) {
			return cur, nil
		}
		return s.build(context.WithoutCancel(ctx), s.generation.Add(1), trigger)
	})
	if err != nil {
		if snap != nil {
			s.logger.Warn("automaton rebuild failed, serving previous snapshot",
				zap.Uint64("generation", snap.Generation()), zap.Error(err))
			return snap, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPipeline.Code, appErrors.ErrPipeline.Status, "build automaton")
	}
	return v.(*matcher.Snapshot), nil
}

// build loads rules and installs a snapshot stamped with gen. It returns the
// snapshot that is current afterwards, which may be a newer one.
func (s *ScannerService) build(ctx context.Context, gen uint64, trigger string) (*matcher.Snapshot, error) {
	start := s.now()
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		s.metrics.ObserveRebuild(trigger, err, 0, gen)
		s.logger.Error("load rules for automaton failed", zap.String("trigger", trigger), zap.Error(err))
		return nil, err
	}
	snap := matcher.Build(rules, s.now(), gen)
	installed := s.install(snap)
	stats := installed.Stats()
	s.metrics.ObserveRebuild(trigger, nil, stats.Rules, stats.Generation)
	s.logger.Info("automaton rebuilt",
		zap.String("trigger", trigger),
		zap.Uint64("generation", gen),
		zap.Bool("installed", installed == snap),
		zap.Int("rules", snap.Stats().Rules),
		zap.Duration("elapsed", s.now().Sub(start)),
	)
	return installed, nil
}

func (s *ScannerService) install(snap *matcher.Snapshot) *matcher.Snapshot {
	for {
		cur := s.current.Load()
		if cur != nil && cur.Generation() > snap.Generation() {
			return cur
		}
		if s.current.CompareAndSwap(cur, snap) {
			return snap
		}
	}
}

func (s *ScannerService) raiseMinFresh(gen uint64) {
	for {
		cur := s.minFresh.Load()
		if cur >= gen || s.minFresh.CompareAndSwap(cur, gen) {
			return
		}
	}
}
