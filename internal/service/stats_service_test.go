package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

type statusCounterStub struct {
	counts  []models.StatusCount
	err     error
	calls   int
	filters []models.ModerationFilter
}

func (s *statusCounterStub) CountByStatus(ctx context.Context, filter models.ModerationFilter) ([]models.StatusCount, error) {
	s.calls++
	s.filters = append(s.filters, filter)
	return s.counts, s.err
}

func TestStatsServiceRatesAndZeroFill(t *testing.T) {
	repo := &statusCounterStub{counts: []models.StatusCount{
		{Status: models.StatusApproved, Total: 6},
		{Status: models.StatusRejected, Total: 3},
		{Status: models.StatusNeedReview, Total: 1},
	}}
	svc := NewStatsService(repo, nil, time.Minute, nil)

	stats, cached, err := svc.Stats(context.Background(), dto.StatsQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.EqualValues(t, 10, stats.Total)
	assert.InDelta(t, 0.6, stats.ApprovalRate, 1e-9)
	assert.InDelta(t, 0.3, stats.RejectionRate, 1e-9)
	assert.InDelta(t, 0.1, stats.ReviewRate, 1e-9)
	assert.Len(t, stats.ByStatus, len(models.ModerationStatuses))
	assert.EqualValues(t, 0, stats.ByStatus[models.StatusError])
	assert.Equal(t, "user-1", repo.filters[0].UserID)
}

func TestStatsServiceEmptyWindowHasZeroRates(t *testing.T) {
	svc := NewStatsService(&statusCounterStub{}, nil, time.Minute, nil)

	stats, _, err := svc.Stats(context.Background(), dto.StatsQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Total)
	assert.Zero(t, stats.ApprovalRate)
	assert.Zero(t, stats.RejectionRate)
}

func TestStatsServiceUsesCache(t *testing.T) {
	repo := &statusCounterStub{counts: []models.StatusCount{{Status: models.StatusApproved, Total: 2}}}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewStatsService(repo, cache, time.Minute, nil)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := dto.StatsQuery{From: &from}

	_, cached, err := svc.Stats(context.Background(), query)
	require.NoError(t, err)
	assert.False(t, cached)

	stats, cached, err := svc.Stats(context.Background(), query)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.EqualValues(t, 2, stats.Total)
	assert.Equal(t, 1, repo.calls)

	_, cached, err = svc.Stats(context.Background(), dto.StatsQuery{UserID: "other"})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, repo.calls)
}

func TestStatsServiceErrors(t *testing.T) {
	svc := NewStatsService(&statusCounterStub{err: errors.New("db down")}, nil, time.Minute, nil)
	_, _, err := svc.Stats(context.Background(), dto.StatsQuery{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	from := time.Now()
	to := from.Add(-time.Minute)
	_, _, err = svc.Stats(context.Background(), dto.StatsQuery{From: &from, To: &to})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
