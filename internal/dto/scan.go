package dto

import (
	"time"

	"github.com/noah-isme/moderation-engine/internal/models"
)

// ScanRequest carries text for the scanning endpoints.
type ScanRequest struct {
	Text        string `json:"text" validate:"required"`
	Replacement string `json:"replacement,omitempty" validate:"omitempty,max=4"`
}

// ContainsResponse reports whether any rule matched.
type ContainsResponse struct {
	Matched bool `json:"matched"`
}

// MatchesResponse lists every hit.
type MatchesResponse struct {
	Hits  []models.RuleHit `json:"hits"`
	Count int              `json:"count"`
}

// RedactResponse returns the masked text and the hits that were masked.
type RedactResponse struct {
	Text  string           `json:"text"`
	Hits  []models.RuleHit `json:"hits"`
	Count int              `json:"count"`
}

// AutomatonStatus exposes the current snapshot metadata.
type AutomatonStatus struct {
	Generation uint64                      `json:"generation"`
	BuiltAt    *time.Time                  `json:"builtAt,omitempty"`
	Age        string                      `json:"age"`
	Stale      bool                        `json:"stale"`
	Rules      int                         `json:"rules"`
	Skipped    int                         `json:"skipped"`
	Terms      map[models.RuleCategory]int `json:"terms"`
}
