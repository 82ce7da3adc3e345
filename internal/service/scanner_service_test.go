package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/matcher"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

type testClock struct {
	ns atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.ns.Store(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *testClock) Now() time.Time {
	return time.Unix(0, c.ns.Load()).UTC()
}

func (c *testClock) Advance(d time.Duration) {
	c.ns.Add(int64(d))
}

type hitSinkStub struct {
	mu   sync.Mutex
	hits []models.RuleHit
}

func (h *hitSinkStub) Record(hits []models.RuleHit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, hits...)
}

func newScannerForTest(repo *ruleRepoStub, sink HitSink) (*ScannerService, *testClock) {
	clock := newTestClock()
	svc := NewScannerService(repo, sink, NewMetricsService(), time.Minute, nil)
	svc.now = clock.Now
	return svc, clock
}

func gamblingRule(term string, severity models.Severity) models.SensitiveRule {
	return models.SensitiveRule{Term: term, Category: models.CategoryGambling, Severity: severity, Enabled: true}
}

func TestScannerBuildsLazilyOnFirstUse(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	sink := &hitSinkStub{}
	svc, _ := newScannerForTest(repo, sink)

	assert.True(t, svc.Status().Stale)

	hits, err := svc.FindMatches(context.Background(), "online casino here")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 7, hits[0].StartIndex)
	assert.Equal(t, 13, hits[0].EndIndex)
	assert.Len(t, sink.hits, 1)

	status := svc.Status()
	assert.False(t, status.Stale)
	assert.Equal(t, 1, status.Rules)
	assert.Equal(t, 1, status.Terms[models.CategoryGambling])
	assert.Equal(t, 1, repo.lists)
}

func TestScannerRefreshMakesNewRulesVisible(t *testing.T) {
	repo := newRuleRepoStub()
	svc, _ := newScannerForTest(repo, nil)
	ctx := context.Background()

	matched, err := svc.ContainsMatch(ctx, "play poker")
	require.NoError(t, err)
	assert.False(t, matched)

	require.NoError(t, repo.Create(ctx, &models.SensitiveRule{Term: "poker", Category: models.CategoryGambling, Severity: models.SeverityMedium, MatchMode: models.MatchContains, Enabled: true}))
	require.NoError(t, svc.Refresh(ctx))

	matched, err = svc.ContainsMatch(ctx, "play poker")
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestScannerRebuildsWhenStale(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	svc, clock := newScannerForTest(repo, nil)
	ctx := context.Background()

	_, err := svc.FindMatches(ctx, "casino")
	require.NoError(t, err)
	_, err = svc.FindMatches(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lists)

	clock.Advance(2 * time.Minute)
	_, err = svc.FindMatches(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lists)
	assert.EqualValues(t, 2, svc.Status().Generation)
}

func TestScannerFailedLazyRebuildServesPreviousSnapshot(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	svc, clock := newScannerForTest(repo, nil)
	ctx := context.Background()

	_, err := svc.FindMatches(ctx, "casino")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	repo.setListErr(errors.New("db down"))
	hits, err := svc.FindMatches(ctx, "casino")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.True(t, svc.Status().Stale)
}

func TestScannerInitialBuildFailure(t *testing.T) {
	repo := newRuleRepoStub()
	repo.setListErr(errors.New("db down"))
	svc, _ := newScannerForTest(repo, nil)

	_, err := svc.FindMatches(context.Background(), "anything")
	assert.ErrorIs(t, err, appErrors.ErrPipeline)
}

func TestScannerFailedRefreshForcesRetry(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	svc, _ := newScannerForTest(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	assert.False(t, svc.Status().Stale)

	repo.setListErr(errors.New("db down"))
	err := svc.Refresh(ctx)
	assert.ErrorIs(t, err, appErrors.ErrPipeline)
	assert.True(t, svc.Status().Stale)

	repo.setListErr(nil)
	require.NoError(t, repo.Create(ctx, &models.SensitiveRule{Term: "dice", Category: models.CategoryGambling, Severity: models.SeverityLow, MatchMode: models.MatchContains, Enabled: true}))
	hits, err := svc.FindMatches(ctx, "dice")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.False(t, svc.Status().Stale)
}

func TestScannerInstallKeepsNewestGeneration(t *testing.T) {
	svc, clock := newScannerForTest(newRuleRepoStub(), nil)
	rules := []models.SensitiveRule{gamblingRule("casino", models.SeverityHigh)}
	rules[0].ID = 1
	rules[0].MatchMode = models.MatchContains

	newer := matcher.Build(rules, clock.Now(), 5)
	older := matcher.Build(nil, clock.Now(), 3)

	assert.Same(t, newer, svc.install(newer))
	assert.Same(t, newer, svc.install(older))
	assert.EqualValues(t, 5, svc.current.Load().Generation())
}

func TestScannerRedact(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("赌博", models.SeverityHigh))
	svc, _ := newScannerForTest(repo, nil)

	out, hits, err := svc.Redact(context.Background(), "不要赌博", '*')
	require.NoError(t, err)
	assert.Equal(t, "不要**", out)
	assert.Len(t, hits, 1)
}

func TestScannerConcurrentScansDuringRefresh(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	svc, _ := newScannerForTest(repo, nil)
	ctx := context.Background()
	require.NoError(t, svc.Refresh(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hits, err := svc.FindMatches(ctx, "casino")
				assert.NoError(t, err)
				assert.Len(t, hits, 1)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Refresh(ctx))
	}
	wg.Wait()
	assert.EqualValues(t, 11, svc.Status().Generation)
}

func TestRuleUpdatesTakeEffectOnScanner(t *testing.T) {
	repo := newRuleRepoStub(gamblingRule("casino", models.SeverityHigh))
	scanner, _ := newScannerForTest(repo, nil)
	rules := NewRuleService(repo, scanner, nil, nil)
	ctx := context.Background()

	hits, err := scanner.FindMatches(ctx, "casino night")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	ruleID := hits[0].RuleID
	disabled, enabled := false, true
	_, err = rules.Update(ctx, ruleID, dto.UpdateRuleRequest{Enabled: &disabled})
	require.NoError(t, err)
	hits, err = scanner.FindMatches(ctx, "casino night")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = rules.Update(ctx, ruleID, dto.UpdateRuleRequest{Enabled: &enabled})
	require.NoError(t, err)
	hits, err = scanner.FindMatches(ctx, "casino night")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "casino", hits[0].Term)
}
