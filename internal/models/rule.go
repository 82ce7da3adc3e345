package models

import (
	"strings"
	"time"
)

// RuleCategory classifies a sensitive rule.
type RuleCategory string

const (
	CategoryPolitics      RuleCategory = "POLITICS"
	CategoryPornography   RuleCategory = "PORNOGRAPHY"
	CategoryViolence      RuleCategory = "VIOLENCE"
	CategoryTerrorism     RuleCategory = "TERRORISM"
	CategoryGambling      RuleCategory = "GAMBLING"
	CategoryFraud         RuleCategory = "FRAUD"
	CategoryAbuse         RuleCategory = "ABUSE"
	CategoryAdvertisement RuleCategory = "ADVERTISEMENT"
	CategoryPrivacy       RuleCategory = "PRIVACY"
	CategoryCustom        RuleCategory = "CUSTOM"
)

// RuleCategories lists every category in scan order.
var RuleCategories = []RuleCategory{
	CategoryPolitics,
	CategoryPornography,
	CategoryViolence,
	CategoryTerrorism,
	CategoryGambling,
	CategoryFraud,
	CategoryAbuse,
	CategoryAdvertisement,
	CategoryPrivacy,
	CategoryCustom,
}

// Valid reports whether c belongs to the closed category set.
func (c RuleCategory) Valid() bool {
	for _, known := range RuleCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ViolationType maps a rule category onto the record violation taxonomy.
func (c RuleCategory) ViolationType() ViolationType {
	switch c {
	case CategoryCustom:
		return ViolationOther
	case "":
		return ViolationNone
	default:
		return ViolationType(c)
	}
}

// Severity is the ordered risk level of a rule.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// MatchMode describes how a term is matched against text.
type MatchMode string

const (
	MatchExact    MatchMode = "EXACT"
	MatchContains MatchMode = "CONTAINS"
	MatchPrefix   MatchMode = "PREFIX"
	MatchSuffix   MatchMode = "SUFFIX"
	MatchRegex    MatchMode = "REGEX"
	MatchFuzzy    MatchMode = "FUZZY"
)

// Valid reports whether m is a declared match mode.
func (m MatchMode) Valid() bool {
	switch m {
	case MatchExact, MatchContains, MatchPrefix, MatchSuffix, MatchRegex, MatchFuzzy:
		return true
	}
	return false
}

// Supported reports whether the scanner executes m.
func (m MatchMode) Supported() bool {
	return m == MatchContains
}

// RuleSource records where a rule came from.
type RuleSource string

const (
	SourceSystem   RuleSource = "SYSTEM"
	SourceImported RuleSource = "IMPORTED"
	SourceManual   RuleSource = "MANUAL"
)

// MaxTermLength bounds rule terms in runes.
const MaxTermLength = 200

// SensitiveRule is one catalogued sensitive term.
type SensitiveRule struct {
	ID          int64        `db:"id" json:"id"`
	Term        string       `db:"term" json:"term"`
	Category    RuleCategory `db:"category" json:"category"`
	Severity    Severity     `db:"severity" json:"severity"`
	MatchMode   MatchMode    `db:"match_mode" json:"matchMode"`
	Enabled     bool         `db:"enabled" json:"enabled"`
	ValidFrom   *time.Time   `db:"valid_from" json:"validFrom,omitempty"`
	ValidTo     *time.Time   `db:"valid_to" json:"validTo,omitempty"`
	Source      RuleSource   `db:"source" json:"source"`
	Description *string      `db:"description" json:"description,omitempty"`
	HitCount    int64        `db:"hit_count" json:"hitCount"`
	LastHitAt   *time.Time   `db:"last_hit_at" json:"lastHitAt,omitempty"`
	CreatedBy   *string      `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

// IsEffective reports whether the rule participates in scanning at now.
func (r SensitiveRule) IsEffective(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return false
	}
	return true
}

// RuleFilter constrains rule searches.
type RuleFilter struct {
	Keyword  string
	Category RuleCategory
	Enabled  *bool
	Page     int
	PageSize int
}

// Normalize clamps paging values.
func (f *RuleFilter) Normalize() {
	f.Keyword = strings.TrimSpace(f.Keyword)
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 20
	}
}

// RuleHit is one located match of a rule inside a text. Offsets count runes;
// EndIndex is exclusive.
type RuleHit struct {
	RuleID     int64        `json:"ruleId"`
	Term       string       `json:"term"`
	Category   RuleCategory `json:"category"`
	Severity   Severity     `json:"severity"`
	StartIndex int          `json:"startIndex"`
	EndIndex   int          `json:"endIndex"`
}

// CategoryRuleCount aggregates rules per category.
type CategoryRuleCount struct {
	Category RuleCategory `db:"category" json:"category"`
	Total    int64        `db:"total" json:"total"`
	Enabled  int64        `db:"enabled" json:"enabled"`
	Hits     int64        `db:"hits" json:"hits"`
}
