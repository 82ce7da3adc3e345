package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/moderation-engine/internal/models"
)

const moderationColumns = `id, user_id, content_type, content_id, content, summary, content_hash, is_ai_generated,
       ai_model, high_priority, status, moderation_type, violation_type, violation_details, hit_words,
       provider, provider_response, provider_request_id, retry_count, process_time_ms,
       manual_review_required, manual_review_result, reviewer_id, reviewed_at, review_remark,
       created_at, updated_at`

// ModerationRepository persists moderation records.
type ModerationRepository struct {
	db *sqlx.DB
}

// NewModerationRepository constructs the repository.
func NewModerationRepository(db *sqlx.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

// Create inserts a new record in PENDING unless a status is already set.
func (r *ModerationRepository) Create(ctx context.Context, record *models.ModerationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	if record.ViolationType == "" {
		record.ViolationType = models.ViolationNone
	}
	if record.ModerationType == "" {
		record.ModerationType = models.ModerationAutoLocal
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO moderation_records
	(id, user_id, content_type, content_id, content, summary, content_hash, is_ai_generated, ai_model, high_priority,
	 status, moderation_type, violation_type, retry_count, process_time_ms, manual_review_required, created_at, updated_at)
	VALUES (:id, :user_id, :content_type, :content_id, :content, :summary, :content_hash, :is_ai_generated, :ai_model, :high_priority,
	 :status, :moderation_type, :violation_type, :retry_count, :process_time_ms, :manual_review_required, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create moderation record: %w", err)
	}
	return nil
}

// GetByID fetches a record by identifier.
func (r *ModerationRepository) GetByID(ctx context.Context, id string) (*models.ModerationRecord, error) {
	query := `SELECT ` + moderationColumns + ` FROM moderation_records WHERE id = $1`
	var record models.ModerationRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindRecentByContent returns the newest settled record for the content created
// at or after since. In-flight and ERROR records are ignored.
func (r *ModerationRepository) FindRecentByContent(ctx context.Context, contentID string, contentType models.ContentType, since time.Time) (*models.ModerationRecord, error) {
	query := `SELECT ` + moderationColumns + ` FROM moderation_records
	WHERE content_id = $1 AND content_type = $2 AND created_at >= $3
	  AND status IN ('APPROVED', 'REJECTED', 'NEED_REVIEW')
	ORDER BY created_at DESC LIMIT 1`
	var record models.ModerationRecord
	if err := r.db.GetContext(ctx, &record, query, contentID, contentType, since); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateStatus moves a record to the given status.
func (r *ModerationRepository) UpdateStatus(ctx context.Context, id string, status models.ModerationStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE moderation_records SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update moderation status: %w", err)
	}
	return expectRow(res, "moderation status")
}

// SaveOutcome persists the verdict and pipeline bookkeeping of a record. The
// manual review overlay is written as well so re-checks can clear it.
func (r *ModerationRepository) SaveOutcome(ctx context.Context, record *models.ModerationRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE moderation_records SET
	status = :status, moderation_type = :moderation_type, violation_type = :violation_type,
	violation_details = :violation_details, hit_words = :hit_words, provider = :provider,
	provider_response = :provider_response, provider_request_id = :provider_request_id,
	retry_count = :retry_count, process_time_ms = :process_time_ms,
	manual_review_required = :manual_review_required, manual_review_result = :manual_review_result,
	reviewer_id = :reviewer_id, reviewed_at = :reviewed_at, review_remark = :review_remark,
	updated_at = :updated_at
	WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return fmt.Errorf("save moderation outcome: %w", err)
	}
	return expectRow(res, "moderation outcome")
}

// ManualReviewParams groups the columns written by a reviewer decision.
type ManualReviewParams struct {
	ID         string
	Result     models.ModerationStatus
	ReviewerID string
	ReviewedAt time.Time
	Remark     *string
}

// ApplyManualReview overlays a reviewer decision onto a record. Records the
// pipeline still owns are left untouched and reported as sql.ErrNoRows.
func (r *ModerationRepository) ApplyManualReview(ctx context.Context, params ManualReviewParams) error {
	const query = `UPDATE moderation_records SET
	status = :result, moderation_type = :moderation_type, manual_review_required = FALSE,
	manual_review_result = :result, reviewer_id = :reviewer_id, reviewed_at = :reviewed_at,
	review_remark = :remark, updated_at = :reviewed_at
	WHERE id = :id AND status NOT IN (:pending, :processing)`
	res, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":              params.ID,
		"result":          params.Result,
		"moderation_type": models.ModerationManual,
		"reviewer_id":     params.ReviewerID,
		"reviewed_at":     params.ReviewedAt,
		"remark":          params.Remark,
		"pending":         models.StatusPending,
		"processing":      models.StatusProcessing,
	})
	if err != nil {
		return fmt.Errorf("apply manual review: %w", err)
	}
	return expectRow(res, "manual review")
}

// List returns records matching the filter, newest first.
func (r *ModerationRepository) List(ctx context.Context, filter models.ModerationFilter) ([]models.ModerationRecord, error) {
	where, args := moderationConditions(filter)
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s FROM moderation_records%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		moderationColumns, where, limit, offset)
	var records []models.ModerationRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list moderation records: %w", err)
	}
	return records, nil
}

// Count returns the number of records matching the filter.
func (r *ModerationRepository) Count(ctx context.Context, filter models.ModerationFilter) (int, error) {
	where, args := moderationConditions(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM moderation_records"+where, args...); err != nil {
		return 0, fmt.Errorf("count moderation records: %w", err)
	}
	return total, nil
}

// CountByStatus aggregates record counts per status.
func (r *ModerationRepository) CountByStatus(ctx context.Context, filter models.ModerationFilter) ([]models.StatusCount, error) {
	where, args := moderationConditions(filter)
	query := "SELECT status, COUNT(*) AS total FROM moderation_records" + where + " GROUP BY status"
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count moderation records by status: %w", err)
	}
	return counts, nil
}

func moderationConditions(filter models.ModerationFilter) (string, []interface{}) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ContentType != "" {
		args = append(args, filter.ContentType)
		conditions = append(conditions, fmt.Sprintf("content_type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func expectRow(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", what, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
