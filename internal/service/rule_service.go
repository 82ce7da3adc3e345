package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/repository"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

const defaultTopRules = 10

type ruleRepository interface {
	Create(ctx context.Context, rule *models.SensitiveRule) error
	CreateBatch(ctx context.Context, rules []models.SensitiveRule) (int, error)
	GetByID(ctx context.Context, id int64) (*models.SensitiveRule, error)
	Update(ctx context.Context, rule *models.SensitiveRule) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, filter models.RuleFilter) ([]models.SensitiveRule, int, error)
	SetCategoryEnabled(ctx context.Context, category models.RuleCategory, enabled bool) (int64, error)
	CountByCategory(ctx context.Context) ([]models.CategoryRuleCount, error)
	TopHits(ctx context.Context, limit int) ([]models.SensitiveRule, error)
}

type automatonRefresher interface {
	Refresh(ctx context.Context) error
}

// RuleService administers sensitive rules. Every successful mutation
// rebuilds the automaton before returning.
type RuleService struct {
	repo      ruleRepository
	automaton automatonRefresher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRuleService constructs a RuleService.
func NewRuleService(repo ruleRepository, automaton automatonRefresher, validate *validator.Validate, logger *zap.Logger) *RuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{repo: repo, automaton: automaton, validator: validate, logger: logger}
}

// Create registers a single rule.
func (s *RuleService) Create(ctx context.Context, req dto.CreateRuleRequest, createdBy string) (*models.SensitiveRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	term, err := normalizeTerm(req.Term)
	if err != nil {
		return nil, err
	}
	if err := validateClassification(req.Category, req.Severity); err != nil {
		return nil, err
	}
	mode := req.MatchMode
	if mode == "" {
		mode = models.MatchContains
	}
	if !mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown match mode %q", mode))
	}
	if !mode.Supported() {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMatchMode, fmt.Sprintf("match mode %s is not supported; only %s is executed", mode, models.MatchContains))
	}
	if req.ValidFrom != nil && req.ValidTo != nil && req.ValidFrom.After(*req.ValidTo) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "validFrom must not be after validTo")
	}

	rule := &models.SensitiveRule{
		Term:        term,
		Category:    req.Category,
		Severity:    req.Severity,
		MatchMode:   mode,
		Enabled:     true,
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
		Source:      models.SourceManual,
		Description: req.Description,
		CreatedBy:   optionalString(createdBy),
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRule, fmt.Sprintf("rule %q already exists", term))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rule")
	}
	s.logger.Info("rule created", zap.Int64("rule_id", rule.ID), zap.String("category", string(rule.Category)), zap.String("severity", string(rule.Severity)))
	s.refresh(ctx)
	return rule, nil
}

// Get returns a rule by id.
func (s *RuleService) Get(ctx context.Context, id int64) (*models.SensitiveRule, error) {
	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rule")
	}
	return rule, nil
}

// Update applies partial changes to enabled, severity and description.
func (s *RuleService) Update(ctx context.Context, id int64, req dto.UpdateRuleRequest) (*models.SensitiveRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	if req.Severity != nil && !req.Severity.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", *req.Severity))
	}
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Severity != nil {
		rule.Severity = *req.Severity
	}
	if req.Description != nil {
		rule.Description = req.Description
	}
	if err := s.repo.Update(ctx, rule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rule")
	}
	s.refresh(ctx)
	return rule, nil
}

// Delete removes a rule unless it is system-sourced.
func (s *RuleService) Delete(ctx context.Context, id int64) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule.Source == models.SourceSystem {
		return appErrors.Clone(appErrors.ErrSystemRuleProtected, fmt.Sprintf("rule %d is a system rule", id))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete rule")
	}
	s.logger.Info("rule deleted", zap.Int64("rule_id", id))
	s.refresh(ctx)
	return nil
}

// BatchImport adds many terms with one category and severity. Blank or
// oversized terms count as failed; terms repeated in the request or already
// stored count as skipped.
func (s *RuleService) BatchImport(ctx context.Context, req dto.BatchImportRequest, createdBy string) (*dto.BatchImportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid import payload")
	}
	if err := validateClassification(req.Category, req.Severity); err != nil {
		return nil, err
	}

	result := &dto.BatchImportResult{Total: len(req.Terms)}
	seen := make(map[string]struct{}, len(req.Terms))
	rules := make([]models.SensitiveRule, 0, len(req.Terms))
	for _, raw := range req.Terms {
		term, err := normalizeTerm(raw)
		if err != nil {
			result.Failed++
			continue
		}
		if _, dup := seen[term]; dup {
			result.Skipped++
			continue
		}
		seen[term] = struct{}{}
		rules = append(rules, models.SensitiveRule{
			Term:      term,
			Category:  req.Category,
			Severity:  req.Severity,
			MatchMode: models.MatchContains,
			Enabled:   true,
			Source:    models.SourceImported,
			CreatedBy: optionalString(createdBy),
		})
	}

	added, err := s.repo.CreateBatch(ctx, rules)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import rules")
	}
	result.Added = added
	result.Skipped += len(rules) - added
	s.logger.Info("rules imported",
		zap.String("category", string(req.Category)),
		zap.Int("added", result.Added),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	if added > 0 {
		s.refresh(ctx)
	}
	return result, nil
}

// ToggleCategory enables or disables every rule in category.
func (s *RuleService) ToggleCategory(ctx context.Context, category models.RuleCategory, enabled bool) (int64, error) {
	if !category.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", category))
	}
	affected, err := s.repo.SetCategoryEnabled(ctx, category, enabled)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle category")
	}
	s.logger.Info("category toggled", zap.String("category", string(category)), zap.Bool("enabled", enabled), zap.Int64("affected", affected))
	s.refresh(ctx)
	return affected, nil
}

// Search returns a page of rules.
func (s *RuleService) Search(ctx context.Context, query dto.RuleQuery) ([]models.SensitiveRule, *models.Pagination, error) {
	if query.Category != "" && !query.Category.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", query.Category))
	}
	filter := models.RuleFilter{
		Keyword:  query.Keyword,
		Category: query.Category,
		Enabled:  query.Enabled,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	filter.Normalize()
	rules, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search rules")
	}
	if rules == nil {
		rules = []models.SensitiveRule{}
	}
	return rules, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Categories lists every category with its rule counts, including empty ones.
func (s *RuleService) Categories(ctx context.Context) ([]dto.CategorySummary, error) {
	counts, err := s.repo.CountByCategory(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count rules")
	}
	byCategory := make(map[models.RuleCategory]models.CategoryRuleCount, len(counts))
	for _, c := range counts {
		byCategory[c.Category] = c
	}
	summaries := make([]dto.CategorySummary, 0, len(models.RuleCategories))
	for _, category := range models.RuleCategories {
		c := byCategory[category]
		summaries = append(summaries, dto.CategorySummary{
			Category:      category,
			ViolationType: category.ViolationType(),
			Total:         c.Total,
			Enabled:       c.Enabled,
			Hits:          c.Hits,
		})
	}
	return summaries, nil
}

// Stats combines per-category counts with the most frequently hit rules.
func (s *RuleService) Stats(ctx context.Context, limit int) (*dto.RuleStatsResponse, error) {
	categories, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTopRules
	}
	top, err := s.repo.TopHits(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load top rules")
	}
	if top == nil {
		top = []models.SensitiveRule{}
	}
	return &dto.RuleStatsResponse{Categories: categories, TopRules: top}, nil
}

// refresh rebuilds the automaton after a committed write. A failure leaves the
// write in place; the scanner marks its snapshot stale and retries on the next
// scan.
func (s *RuleService) refresh(ctx context.Context) {
	if s.automaton == nil {
		return
	}
	if err := s.automaton.Refresh(ctx); err != nil {
		s.logger.Error("automaton refresh after rule change failed", zap.Error(err))
	}
}

func normalizeTerm(raw string) (string, error) {
	term := strings.TrimSpace(raw)
	if term == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "term must not be empty")
	}
	if utf8.RuneCountInString(term) > models.MaxTermLength {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term exceeds %d characters", models.MaxTermLength))
	}
	return term, nil
}

func validateClassification(category models.RuleCategory, severity models.Severity) error {
	if !category.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", category))
	}
	if !severity.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", severity))
	}
	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
