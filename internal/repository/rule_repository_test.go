package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/moderation-engine/internal/models"
)

var ruleRowColumns = []string{"id", "term", "category", "severity", "match_mode", "enabled", "valid_from", "valid_to",
	"source", "description", "hit_count", "last_hit_at", "created_by", "created_at", "updated_at"}

func newRuleRepoMock(t *testing.T) (*RuleRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewRuleRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestRuleRepositoryCreate(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sensitive_rules")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	rule := &models.SensitiveRule{Term: "casino", Category: models.CategoryGambling, Severity: models.SeverityHigh, Enabled: true}
	require.NoError(t, repo.Create(context.Background(), rule))
	assert.Equal(t, int64(42), rule.ID)
	assert.Equal(t, models.MatchContains, rule.MatchMode)
	assert.Equal(t, models.SourceManual, rule.Source)
	assert.False(t, rule.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateDuplicate(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sensitive_rules")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &models.SensitiveRule{Term: "casino", Category: models.CategoryGambling, Severity: models.SeverityHigh})
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestRuleRepositoryGetByID(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, term, category")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(ruleRowColumns).
			AddRow(int64(7), "scam", "FRAUD", "CRITICAL", "CONTAINS", true, nil, nil, "SYSTEM", nil, int64(3), now, nil, now, now))

	rule, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "scam", rule.Term)
	assert.Equal(t, models.SourceSystem, rule.Source)
	assert.Equal(t, int64(3), rule.HitCount)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, term, category")).
		WithArgs(int64(8)).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(context.Background(), 8)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryUpdateAndDeleteMissing(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sensitive_rules SET enabled")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), &models.SensitiveRule{ID: 1, Enabled: false, Severity: models.SeverityLow}))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sensitive_rules SET enabled")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Update(context.Background(), &models.SensitiveRule{ID: 2}), sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sensitive_rules")).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), 3), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateBatchSkipsConflicts(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (term) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (term) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (term) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, err := repo.CreateBatch(context.Background(), []models.SensitiveRule{
		{Term: "a", Category: models.CategoryAbuse, Severity: models.SeverityLow, Enabled: true},
		{Term: "b", Category: models.CategoryAbuse, Severity: models.SeverityLow, Enabled: true},
		{Term: "c", Category: models.CategoryAbuse, Severity: models.SeverityLow, Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateBatchRollsBack(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sensitive_rules")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := repo.CreateBatch(context.Background(), []models.SensitiveRule{{Term: "a", Category: models.CategoryAbuse, Severity: models.SeverityLow}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositorySearch(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	enabled := true
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sensitive_rules WHERE term ILIKE $1 AND category = $2 AND enabled = $3")).
		WithArgs("%cas%", models.CategoryGambling, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT id, term, category.*LIMIT 10 OFFSET 10`).
		WithArgs("%cas%", models.CategoryGambling, true).
		WillReturnRows(sqlmock.NewRows(ruleRowColumns).
			AddRow(int64(1), "casino", "GAMBLING", "HIGH", "CONTAINS", true, nil, nil, "MANUAL", nil, int64(0), nil, nil, now, now))

	rules, total, err := repo.Search(context.Background(), models.RuleFilter{
		Keyword:  " cas ",
		Category: models.CategoryGambling,
		Enabled:  &enabled,
		Page:     2,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rules, 1)
	assert.Equal(t, "casino", rules[0].Term)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositorySetCategoryEnabled(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sensitive_rules SET enabled = $1")).
		WithArgs(false, sqlmock.AnyArg(), models.CategoryAdvertisement).
		WillReturnResult(sqlmock.NewResult(0, 5))

	affected, err := repo.SetCategoryEnabled(context.Background(), models.CategoryAdvertisement, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryIncrementHits(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("FROM unnest($1::bigint[], $2::bigint[])")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementHits(context.Background(), map[int64]int64{9: 2}, at))
	require.NoError(t, repo.IncrementHits(context.Background(), nil, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCountByCategory(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT category, COUNT(*) AS total")).
		WillReturnRows(sqlmock.NewRows([]string{"category", "total", "enabled", "hits"}).
			AddRow("FRAUD", int64(4), int64(3), int64(12)))

	counts, err := repo.CountByCategory(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, models.CategoryFraud, counts[0].Category)
	assert.Equal(t, int64(12), counts[0].Hits)
	require.NoError(t, mock.ExpectationsWereMet())
}
