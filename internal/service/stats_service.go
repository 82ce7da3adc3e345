package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

type statusCounter interface {
	CountByStatus(ctx context.Context, filter models.ModerationFilter) ([]models.StatusCount, error)
}

// StatsService aggregates moderation records per status. Results are cached
// for a short TTL when the cache is enabled.
type StatsService struct {
	repo     statusCounter
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatsService constructs a StatsService. cache may be nil.
func NewStatsService(repo statusCounter, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &StatsService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger, now: time.Now}
}

// Stats returns counts by status and the derived rates for the query window.
// The boolean reports whether the result came from cache.
func (s *StatsService) Stats(ctx context.Context, query dto.StatsQuery) (*models.ModerationStats, bool, error) {
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	key := statsCacheKey(query)
	var cached models.ModerationStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	counts, err := s.repo.CountByStatus(ctx, models.ModerationFilter{
		UserID: query.UserID,
		From:   query.From,
		To:     query.To,
	})
	if err != nil {
		s.logger.Error("count moderation records failed", zap.Error(err))
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load moderation statistics")
	}

	stats := aggregateStats(counts)
	stats.UserID = query.UserID
	stats.From = query.From
	stats.To = query.To
	stats.GeneratedAt = s.now().UTC()

	_ = s.cache.Set(ctx, key, stats, s.cacheTTL)
	return stats, false, nil
}

func aggregateStats(counts []models.StatusCount) *models.ModerationStats {
	stats := &models.ModerationStats{ByStatus: make(map[models.ModerationStatus]int64, len(models.ModerationStatuses))}
	for _, status := range models.ModerationStatuses {
		stats.ByStatus[status] = 0
	}
	for _, row := range counts {
		stats.ByStatus[row.Status] += row.Total
		stats.Total += row.Total
	}
	stats.ApprovalRate = ratio(stats.ByStatus[models.StatusApproved], stats.Total)
	stats.RejectionRate = ratio(stats.ByStatus[models.StatusRejected], stats.Total)
	stats.ReviewRate = ratio(stats.ByStatus[models.StatusNeedReview], stats.Total)
	return stats
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func statsCacheKey(query dto.StatsQuery) string {
	return fmt.Sprintf("stats:moderation:%s:%s:%s", query.UserID, formatKeyTime(query.From), formatKeyTime(query.To))
}

func formatKeyTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
