package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/repository"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

type ruleRepoStub struct {
	mu      sync.Mutex
	rules   map[int64]models.SensitiveRule
	nextID  int64
	listErr error
	lists   int
}

func newRuleRepoStub(rules ...models.SensitiveRule) *ruleRepoStub {
	s := &ruleRepoStub{rules: map[int64]models.SensitiveRule{}}
	for _, r := range rules {
		if r.MatchMode == "" {
			r.MatchMode = models.MatchContains
		}
		s.nextID++
		if r.ID == 0 {
			r.ID = s.nextID
		}
		s.rules[r.ID] = r
	}
	return s
}

func (s *ruleRepoStub) exists(term string) bool {
	for _, r := range s.rules {
		if r.Term == term {
			return true
		}
	}
	return false
}

func (s *ruleRepoStub) Create(ctx context.Context, rule *models.SensitiveRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists(rule.Term) {
		return repository.ErrDuplicate
	}
	s.nextID++
	rule.ID = s.nextID
	s.rules[rule.ID] = *rule
	return nil
}

func (s *ruleRepoStub) CreateBatch(ctx context.Context, rules []models.SensitiveRule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, rule := range rules {
		if s.exists(rule.Term) {
			continue
		}
		s.nextID++
		rule.ID = s.nextID
		s.rules[rule.ID] = rule
		added++
	}
	return added, nil
}

func (s *ruleRepoStub) GetByID(ctx context.Context, id int64) (*models.SensitiveRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rule, nil
}

func (s *ruleRepoStub) Update(ctx context.Context, rule *models.SensitiveRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return sql.ErrNoRows
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *ruleRepoStub) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.rules, id)
	return nil
}

func (s *ruleRepoStub) Search(ctx context.Context, filter models.RuleFilter) ([]models.SensitiveRule, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SensitiveRule
	for _, r := range s.rules {
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(r.Term, filter.Keyword) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *ruleRepoStub) SetCategoryEnabled(ctx context.Context, category models.RuleCategory, enabled bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for id, r := range s.rules {
		if r.Category == category && r.Enabled != enabled {
			r.Enabled = enabled
			s.rules[id] = r
			affected++
		}
	}
	return affected, nil
}

func (s *ruleRepoStub) CountByCategory(ctx context.Context) ([]models.CategoryRuleCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.RuleCategory]*models.CategoryRuleCount{}
	for _, r := range s.rules {
		c, ok := counts[r.Category]
		if !ok {
			c = &models.CategoryRuleCount{Category: r.Category}
			counts[r.Category] = c
		}
		c.Total++
		if r.Enabled {
			c.Enabled++
		}
		c.Hits += r.HitCount
	}
	out := make([]models.CategoryRuleCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	return out, nil
}

func (s *ruleRepoStub) TopHits(ctx context.Context, limit int) ([]models.SensitiveRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SensitiveRule
	for _, r := range s.rules {
		if r.HitCount > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HitCount > out[j].HitCount })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ruleRepoStub) ListEnabled(ctx context.Context) ([]models.SensitiveRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.SensitiveRule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ruleRepoStub) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

type refresherStub struct {
	calls int
	err   error
}

func (r *refresherStub) Refresh(ctx context.Context) error {
	r.calls++
	return r.err
}

func createReq(term string, category models.RuleCategory, severity models.Severity) dto.CreateRuleRequest {
	return dto.CreateRuleRequest{Term: term, Category: category, Severity: severity}
}

func TestRuleServiceCreate(t *testing.T) {
	repo := newRuleRepoStub()
	refresher := &refresherStub{}
	svc := NewRuleService(repo, refresher, nil, nil)

	rule, err := svc.Create(context.Background(), createReq("  casino ", models.CategoryGambling, models.SeverityHigh), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "casino", rule.Term)
	assert.Equal(t, models.MatchContains, rule.MatchMode)
	assert.Equal(t, models.SourceManual, rule.Source)
	assert.True(t, rule.Enabled)
	require.NotNil(t, rule.CreatedBy)
	assert.Equal(t, "admin-1", *rule.CreatedBy)
	assert.Equal(t, 1, refresher.calls)

	_, err = svc.Create(context.Background(), createReq("casino", models.CategoryFraud, models.SeverityLow), "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRule)
	assert.Equal(t, 1, refresher.calls)
}

func TestRuleServiceCreateValidation(t *testing.T) {
	svc := NewRuleService(newRuleRepoStub(), &refresherStub{}, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, createReq("   ", models.CategoryGambling, models.SeverityHigh), "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, createReq("x", "MUSIC", models.SeverityHigh), "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, createReq("x", models.CategoryGambling, "EXTREME"), "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	req := createReq("x", models.CategoryGambling, models.SeverityHigh)
	req.MatchMode = models.MatchRegex
	_, err = svc.Create(ctx, req, "")
	assert.ErrorIs(t, err, appErrors.ErrUnsupportedMatchMode)

	req.MatchMode = "GLOB"
	_, err = svc.Create(ctx, req, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	from := time.Now()
	to := from.Add(-time.Hour)
	req = createReq("x", models.CategoryGambling, models.SeverityHigh)
	req.ValidFrom, req.ValidTo = &from, &to
	_, err = svc.Create(ctx, req, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRuleServiceKeepsCommittedWritesWhenRefreshFails(t *testing.T) {
	repo := newRuleRepoStub()
	refresher := &refresherStub{err: appErrors.Clone(appErrors.ErrPipeline, "boom")}
	svc := NewRuleService(repo, refresher, nil, nil)
	ctx := context.Background()

	rule, err := svc.Create(ctx, createReq("casino", models.CategoryGambling, models.SeverityHigh), "")
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)
	assert.True(t, repo.exists("casino"))

	_, err = svc.Create(ctx, createReq("casino", models.CategoryGambling, models.SeverityHigh), "")
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRule)

	result, err := svc.BatchImport(ctx, dto.BatchImportRequest{
		Terms:    []string{"poker", "casino"},
		Category: models.CategoryGambling,
		Severity: models.SeverityMedium,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Skipped)

	_, err = svc.ToggleCategory(ctx, models.CategoryGambling, false)
	require.NoError(t, err)
	assert.Equal(t, 3, refresher.calls)
}

func TestRuleServiceDeleteProtectsSystemRules(t *testing.T) {
	repo := newRuleRepoStub(
		models.SensitiveRule{ID: 1, Term: "seed", Category: models.CategoryPolitics, Severity: models.SeverityCritical, Source: models.SourceSystem, Enabled: true},
		models.SensitiveRule{ID: 2, Term: "mine", Category: models.CategoryCustom, Severity: models.SeverityLow, Source: models.SourceManual, Enabled: true},
	)
	refresher := &refresherStub{}
	svc := NewRuleService(repo, refresher, nil, nil)
	ctx := context.Background()

	err := svc.Delete(ctx, 1)
	assert.ErrorIs(t, err, appErrors.ErrSystemRuleProtected)
	_, err = svc.Get(ctx, 1)
	assert.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 2))
	_, err = svc.Get(ctx, 2)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 1, refresher.calls)

	assert.ErrorIs(t, svc.Delete(ctx, 99), appErrors.ErrNotFound)
}

func TestRuleServiceUpdate(t *testing.T) {
	repo := newRuleRepoStub(models.SensitiveRule{ID: 5, Term: "spam", Category: models.CategoryAdvertisement, Severity: models.SeverityLow, Enabled: true})
	svc := NewRuleService(repo, &refresherStub{}, nil, nil)
	ctx := context.Background()

	disabled := false
	high := models.SeverityHigh
	rule, err := svc.Update(ctx, 5, dto.UpdateRuleRequest{Enabled: &disabled, Severity: &high})
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
	assert.Equal(t, models.SeverityHigh, rule.Severity)

	bogus := models.Severity("NOPE")
	_, err = svc.Update(ctx, 5, dto.UpdateRuleRequest{Severity: &bogus})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Update(ctx, 6, dto.UpdateRuleRequest{Enabled: &disabled})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRuleServiceBatchImportCounts(t *testing.T) {
	repo := newRuleRepoStub(models.SensitiveRule{Term: "existing", Category: models.CategoryGambling, Severity: models.SeverityLow, Enabled: true})
	refresher := &refresherStub{}
	svc := NewRuleService(repo, refresher, nil, nil)

	result, err := svc.BatchImport(context.Background(), dto.BatchImportRequest{
		Terms:    []string{"poker", "dice", " poker ", "", "existing", strings.Repeat("z", models.MaxTermLength+1)},
		Category: models.CategoryGambling,
		Severity: models.SeverityMedium,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, dto.BatchImportResult{Added: 2, Skipped: 2, Failed: 2, Total: 6}, *result)
	assert.Equal(t, 1, refresher.calls)

	result, err = svc.BatchImport(context.Background(), dto.BatchImportRequest{
		Terms:    []string{"poker"},
		Category: models.CategoryGambling,
		Severity: models.SeverityMedium,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, refresher.calls)
}

func TestRuleServiceToggleCategory(t *testing.T) {
	repo := newRuleRepoStub(
		models.SensitiveRule{Term: "a", Category: models.CategoryAbuse, Severity: models.SeverityLow, Enabled: true},
		models.SensitiveRule{Term: "b", Category: models.CategoryAbuse, Severity: models.SeverityLow, Enabled: true},
		models.SensitiveRule{Term: "c", Category: models.CategoryAdvertisement, Severity: models.SeverityLow, Enabled: true},
	)
	refresher := &refresherStub{}
	svc := NewRuleService(repo, refresher, nil, nil)
	ctx := context.Background()

	affected, err := svc.ToggleCategory(ctx, models.CategoryAbuse, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "c", enabled[0].Term)

	_, err = svc.ToggleCategory(ctx, "NOPE", true)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 1, refresher.calls)
}

func TestRuleServiceCategoriesZeroFilled(t *testing.T) {
	repo := newRuleRepoStub(models.SensitiveRule{Term: "a", Category: models.CategoryCustom, Severity: models.SeverityLow, Enabled: true, HitCount: 4})
	svc := NewRuleService(repo, nil, nil, nil)

	summaries, err := svc.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, len(models.RuleCategories))
	last := summaries[len(summaries)-1]
	assert.Equal(t, models.CategoryCustom, last.Category)
	assert.Equal(t, models.ViolationOther, last.ViolationType)
	assert.EqualValues(t, 1, last.Total)
	assert.EqualValues(t, 4, last.Hits)
	assert.EqualValues(t, 0, summaries[0].Total)

	stats, err := svc.Stats(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, stats.TopRules, 1)
}

func TestRuleServiceSearchPagination(t *testing.T) {
	repo := newRuleRepoStub(models.SensitiveRule{Term: "casino", Category: models.CategoryGambling, Severity: models.SeverityLow, Enabled: true})
	svc := NewRuleService(repo, nil, nil, nil)

	rules, page, err := svc.Search(context.Background(), dto.RuleQuery{Keyword: "cas"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = svc.Search(context.Background(), dto.RuleQuery{Category: "NOPE"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRuleServiceWrapsRepositoryErrors(t *testing.T) {
	repo := &failingRuleRepo{ruleRepoStub: newRuleRepoStub(), err: errors.New("db down")}
	svc := NewRuleService(repo, nil, nil, nil)

	_, err := svc.Get(context.Background(), 1)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

type failingRuleRepo struct {
	*ruleRepoStub
	err error
}

func (f *failingRuleRepo) GetByID(ctx context.Context, id int64) (*models.SensitiveRule, error) {
	return nil, f.err
}
