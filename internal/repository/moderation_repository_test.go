package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/moderation-engine/internal/models"
)

var moderationRowColumns = []string{"id", "user_id", "content_type", "content_id", "content", "summary", "content_hash",
	"is_ai_generated", "ai_model", "high_priority", "status", "moderation_type", "violation_type", "violation_details",
	"hit_words", "provider", "provider_response", "provider_request_id", "retry_count", "process_time_ms",
	"manual_review_required", "manual_review_result", "reviewer_id", "reviewed_at", "review_remark", "created_at", "updated_at"}

func newModerationRepoMock(t *testing.T) (*ModerationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewModerationRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func moderationRow(id string, status models.ModerationStatus, created time.Time) []driver.Value {
	return []driver.Value{id, "user-1", "COMMENT", "content-1", "hello", "hello", "abc", false, nil, false,
		string(status), "AUTO_LOCAL", "NONE", nil, []byte(`[]`), nil, nil, nil, 0, int64(4),
		false, nil, nil, nil, nil, created, created}
}

func TestModerationRepositoryCreateDefaults(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO moderation_records")).WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.ModerationRecord{UserID: "user-1", ContentType: models.ContentComment, Content: "hello"}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.StatusPending, record.Status)
	assert.Equal(t, models.ViolationNone, record.ViolationType)
	assert.Equal(t, models.ModerationAutoLocal, record.ModerationType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModerationRepositoryFindRecentByContent(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('APPROVED', 'REJECTED', 'NEED_REVIEW')")).
		WithArgs("content-1", models.ContentComment, since).
		WillReturnRows(sqlmock.NewRows(moderationRowColumns).AddRow(moderationRow("rec-1", models.StatusApproved, time.Now())...))

	record, err := repo.FindRecentByContent(context.Background(), "content-1", models.ContentComment, since)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, models.StatusApproved, record.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM moderation_records")).
		WithArgs("content-2", models.ContentComment, since).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindRecentByContent(context.Background(), "content-2", models.ContentComment, since)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModerationRepositorySaveOutcome(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE moderation_records SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveOutcome(context.Background(), &models.ModerationRecord{ID: "rec-1", Status: models.StatusRejected}))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE moderation_records SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SaveOutcome(context.Background(), &models.ModerationRecord{ID: "missing"}), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModerationRepositoryApplyManualReview(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	remark := "false positive"
	reviewedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("manual_review_required = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("AND status NOT IN (")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApplyManualReview(context.Background(), ManualReviewParams{
		ID:         "rec-1",
		Result:     models.StatusApproved,
		ReviewerID: "mod-1",
		ReviewedAt: reviewedAt,
		Remark:     &remark,
	})
	require.NoError(t, err)

	err = repo.ApplyManualReview(context.Background(), ManualReviewParams{
		ID:         "rec-2",
		Result:     models.StatusRejected,
		ReviewerID: "mod-1",
		ReviewedAt: reviewedAt,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModerationRepositoryCountByStatusFilters(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	from := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS total FROM moderation_records WHERE user_id = $1 AND created_at >= $2 GROUP BY status")).
		WithArgs("user-1", from).
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
			AddRow("APPROVED", int64(3)).
			AddRow("REJECTED", int64(1)))

	counts, err := repo.CountByStatus(context.Background(), models.ModerationFilter{UserID: "user-1", From: &from})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, models.StatusApproved, counts[0].Status)
	assert.Equal(t, int64(3), counts[0].Total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModerationRepositoryListAndCount(t *testing.T) {
	repo, mock, cleanup := newModerationRepoMock(t)
	defer cleanup()

	filter := models.ModerationFilter{Status: []models.ModerationStatus{models.StatusNeedReview}, Limit: 20, Offset: 20}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM moderation_records WHERE status IN ($1)")).
		WithArgs(models.StatusNeedReview).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 20 OFFSET 20")).
		WithArgs(models.StatusNeedReview).
		WillReturnRows(sqlmock.NewRows(moderationRowColumns).AddRow(moderationRow("rec-21", models.StatusNeedReview, time.Now())...))

	total, err := repo.Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 21, total)

	records, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-21", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
