package dto

import (
	"time"

	"github.com/noah-isme/moderation-engine/internal/models"
)

// CreateRuleRequest payload for registering a sensitive term.
type CreateRuleRequest struct {
	Term        string              `json:"term" validate:"required,max=200"`
	Category    models.RuleCategory `json:"category" validate:"required"`
	Severity    models.Severity     `json:"severity" validate:"required"`
	MatchMode   models.MatchMode    `json:"matchMode"`
	Description *string             `json:"description,omitempty" validate:"omitempty,max=500"`
	ValidFrom   *time.Time          `json:"validFrom,omitempty"`
	ValidTo     *time.Time          `json:"validTo,omitempty"`
}

// UpdateRuleRequest carries partial rule changes; nil fields are untouched.
type UpdateRuleRequest struct {
	Enabled     *bool            `json:"enabled,omitempty"`
	Severity    *models.Severity `json:"severity,omitempty"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=500"`
}

// BatchImportRequest imports many terms sharing one category and severity.
type BatchImportRequest struct {
	Terms    []string            `json:"terms" validate:"required,min=1,max=5000"`
	Category models.RuleCategory `json:"category" validate:"required"`
	Severity models.Severity     `json:"severity" validate:"required"`
}

// BatchImportResult summarises an import run.
type BatchImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// ToggleCategoryRequest enables or disables every rule in a category.
type ToggleCategoryRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ToggleCategoryResponse reports how many rules changed.
type ToggleCategoryResponse struct {
	Category models.RuleCategory `json:"category"`
	Enabled  bool                `json:"enabled"`
	Affected int64               `json:"affected"`
}

// RuleQuery mirrors supported listing filters.
type RuleQuery struct {
	Keyword  string
	Category models.RuleCategory
	Enabled  *bool
	Page     int
	PageSize int
}

// CategorySummary is one entry of the category catalogue.
type CategorySummary struct {
	Category      models.RuleCategory  `json:"category"`
	ViolationType models.ViolationType `json:"violationType"`
	Total         int64                `json:"total"`
	Enabled       int64                `json:"enabled"`
	Hits          int64                `json:"hits"`
}

// RuleStatsResponse groups per-category counts and the most frequently hit rules.
type RuleStatsResponse struct {
	Categories []CategorySummary      `json:"categories"`
	TopRules   []models.SensitiveRule `json:"topRules"`
}
