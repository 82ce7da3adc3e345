package dto

import (
	"time"

	"github.com/noah-isme/moderation-engine/internal/models"
)

// ModerationRequest describes one piece of content to moderate.
type ModerationRequest struct {
	ContentType   models.ContentType `json:"contentType" validate:"required"`
	ContentID     *string            `json:"contentId,omitempty" validate:"omitempty,max=128"`
	Content       string             `json:"content" validate:"required"`
	IsAIGenerated bool               `json:"isAiGenerated"`
	AIModel       *string            `json:"aiModel,omitempty" validate:"omitempty,max=128"`
	ForceReCheck  bool               `json:"forceReCheck"`
	HighPriority  bool               `json:"highPriority"`
}

// BatchModerationRequest wraps several moderation requests.
type BatchModerationRequest struct {
	Items []ModerationRequest `json:"items" validate:"required,min=1,max=100"`
}

// ModerationResponse summarises a moderation decision.
type ModerationResponse struct {
	LogID                string                  `json:"logId,omitempty"`
	Status               models.ModerationStatus `json:"status"`
	Approved             bool                    `json:"approved"`
	ShouldBlock          bool                    `json:"shouldBlock"`
	ViolationType        models.ViolationType    `json:"violationType"`
	ViolationDetails     string                  `json:"violationDetails,omitempty"`
	HitWords             []models.RuleHit        `json:"hitWords"`
	ModerationType       models.ModerationType   `json:"moderationType"`
	Provider             string                  `json:"provider,omitempty"`
	SuggestedAction      models.SuggestedAction  `json:"suggestedAction"`
	ManualReviewRequired bool                    `json:"manualReviewRequired"`
	RetryCount           int                     `json:"retryCount"`
	ProcessTimeMs        int64                   `json:"processTimeMs"`
	Cached               bool                    `json:"cached"`
}

// ManualReviewRequest captures a reviewer decision.
type ManualReviewRequest struct {
	Result models.ModerationStatus `json:"result" validate:"required"`
	Remark string                  `json:"remark" validate:"max=1000"`
}

// ReviewQueueItem is one record awaiting a reviewer.
type ReviewQueueItem struct {
	LogID         string               `json:"logId"`
	UserID        string               `json:"userId"`
	ContentType   models.ContentType   `json:"contentType"`
	ContentID     *string              `json:"contentId,omitempty"`
	Summary       string               `json:"summary"`
	ViolationType models.ViolationType `json:"violationType"`
	HitWords      []models.RuleHit     `json:"hitWords"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// StatsQuery selects the window and user for aggregate statistics.
type StatsQuery struct {
	UserID string
	From   *time.Time
	To     *time.Time
}

// ExportQuery selects records to export.
type ExportQuery struct {
	Format string
	UserID string
	Status []models.ModerationStatus
	From   *time.Time
	To     *time.Time
}
