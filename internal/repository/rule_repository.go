package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/moderation-engine/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

const uniqueViolation = "23505"

const ruleColumns = `id, term, category, severity, match_mode, enabled, valid_from, valid_to, source,
       description, hit_count, last_hit_at, created_by, created_at, updated_at`

// RuleRepository persists sensitive rules.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs the repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func stampRule(rule *models.SensitiveRule) {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.MatchMode == "" {
		rule.MatchMode = models.MatchContains
	}
	if rule.Source == "" {
		rule.Source = models.SourceManual
	}
}

// Create inserts a rule and populates its identifier.
func (r *RuleRepository) Create(ctx context.Context, rule *models.SensitiveRule) error {
	stampRule(rule)
	const query = `INSERT INTO sensitive_rules
	(term, category, severity, match_mode, enabled, valid_from, valid_to, source, description, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`
	err := r.db.QueryRowxContext(ctx, query,
		rule.Term, rule.Category, rule.Severity, rule.MatchMode, rule.Enabled, rule.ValidFrom, rule.ValidTo,
		rule.Source, rule.Description, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	).Scan(&rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// CreateBatch inserts rules in one transaction, skipping terms that already
// exist. It returns the number of rows inserted.
func (r *RuleRepository) CreateBatch(ctx context.Context, rules []models.SensitiveRule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rule import: %w", err)
	}
	const query = `INSERT INTO sensitive_rules
	(term, category, severity, match_mode, enabled, source, created_by, created_at, updated_at)
	VALUES (:term, :category, :severity, :match_mode, :enabled, :source, :created_by, :created_at, :updated_at)
	ON CONFLICT (term) DO NOTHING`
	added := 0
	for i := range rules {
		stampRule(&rules[i])
		res, err := tx.NamedExecContext(ctx, query, &rules[i])
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("import rule %q: %w", rules[i].Term, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("check import rows: %w", err)
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rule import: %w", err)
	}
	return added, nil
}

// GetByID fetches a rule by identifier.
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*models.SensitiveRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sensitive_rules WHERE id = $1`
	var rule models.SensitiveRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Update persists the mutable rule columns.
func (r *RuleRepository) Update(ctx context.Context, rule *models.SensitiveRule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sensitive_rules SET enabled = :enabled, severity = :severity, description = :description,
	updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, rule)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return expectRow(res, "rule update")
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sensitive_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return expectRow(res, "rule delete")
}

// ListEnabled returns every enabled rule; validity windows are evaluated by the caller.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]models.SensitiveRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sensitive_rules WHERE enabled = TRUE ORDER BY id`
	var rules []models.SensitiveRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return rules, nil
}

// Search returns a page of rules matching the filter and the total match count.
func (r *RuleRepository) Search(ctx context.Context, filter models.RuleFilter) ([]models.SensitiveRule, int, error) {
	filter.Normalize()
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if filter.Keyword != "" {
		args = append(args, "%"+filter.Keyword+"%")
		conditions = append(conditions, fmt.Sprintf("term ILIKE $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM sensitive_rules"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM sensitive_rules%s ORDER BY id DESC LIMIT %d OFFSET %d",
		ruleColumns, where, filter.PageSize, (filter.Page-1)*filter.PageSize)
	var rules []models.SensitiveRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("search rules: %w", err)
	}
	return rules, total, nil
}

// SetCategoryEnabled toggles every rule in a category and returns the rows changed.
func (r *RuleRepository) SetCategoryEnabled(ctx context.Context, category models.RuleCategory, enabled bool) (int64, error) {
	const query = `UPDATE sensitive_rules SET enabled = $1, updated_at = $2 WHERE category = $3 AND enabled <> $1`
	res, err := r.db.ExecContext(ctx, query, enabled, time.Now().UTC(), category)
	if err != nil {
		return 0, fmt.Errorf("toggle category: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check category toggle rows: %w", err)
	}
	return rows, nil
}

// IncrementHits adds the given per-rule counts and stamps last_hit_at.
func (r *RuleRepository) IncrementHits(ctx context.Context, counts map[int64]int64, at time.Time) error {
	if len(counts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(counts))
	deltas := make([]int64, 0, len(counts))
	for id, n := range counts {
		ids = append(ids, id)
		deltas = append(deltas, n)
	}
	const query = `UPDATE sensitive_rules AS r
	SET hit_count = r.hit_count + v.n, last_hit_at = $3
	FROM unnest($1::bigint[], $2::bigint[]) AS v(id, n)
	WHERE r.id = v.id`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), pq.Array(deltas), at); err != nil {
		return fmt.Errorf("increment rule hits: %w", err)
	}
	return nil
}

// CountByCategory aggregates rule totals per category.
func (r *RuleRepository) CountByCategory(ctx context.Context) ([]models.CategoryRuleCount, error) {
	const query = `SELECT category, COUNT(*) AS total,
       COUNT(*) FILTER (WHERE enabled) AS enabled,
       COALESCE(SUM(hit_count), 0) AS hits
	FROM sensitive_rules GROUP BY category ORDER BY category`
	var counts []models.CategoryRuleCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count rules by category: %w", err)
	}
	return counts, nil
}

// TopHits returns the most frequently matched rules.
func (r *RuleRepository) TopHits(ctx context.Context, limit int) ([]models.SensitiveRule, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	query := `SELECT ` + ruleColumns + ` FROM sensitive_rules WHERE hit_count > 0 ORDER BY hit_count DESC, id LIMIT $1`
	var rules []models.SensitiveRule
	if err := r.db.SelectContext(ctx, &rules, query, limit); err != nil {
		return nil, fmt.Errorf("top hit rules: %w", err)
	}
	return rules, nil
}
