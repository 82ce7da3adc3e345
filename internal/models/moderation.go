package models

import "time"

// ModerationStatus is the state of a moderation record.
type ModerationStatus string

const (
	StatusPending    ModerationStatus = "PENDING"
	StatusProcessing ModerationStatus = "PROCESSING"
	StatusApproved   ModerationStatus = "APPROVED"
	StatusRejected   ModerationStatus = "REJECTED"
	StatusNeedReview ModerationStatus = "NEED_REVIEW"
	StatusError      ModerationStatus = "ERROR"
)

// ModerationStatuses lists every status, used for zero-filled aggregates.
var ModerationStatuses = []ModerationStatus{
	StatusPending,
	StatusProcessing,
	StatusApproved,
	StatusRejected,
	StatusNeedReview,
	StatusError,
}

// Blocking reports whether content in this status is withheld from display.
func (s ModerationStatus) Blocking() bool {
	return s != StatusApproved
}

// InFlight reports whether the pipeline still owns the record.
func (s ModerationStatus) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// ModerationType records who produced the verdict.
type ModerationType string

const (
	ModerationAutoLocal    ModerationType = "AUTO_LOCAL"
	ModerationAutoProvider ModerationType = "AUTO_PROVIDER"
	ModerationManual       ModerationType = "MANUAL"
	ModerationHybrid       ModerationType = "HYBRID"
)

// ViolationType is the closed violation taxonomy.
type ViolationType string

const (
	ViolationNone          ViolationType = "NONE"
	ViolationPolitics      ViolationType = "POLITICS"
	ViolationPornography   ViolationType = "PORNOGRAPHY"
	ViolationViolence      ViolationType = "VIOLENCE"
	ViolationTerrorism     ViolationType = "TERRORISM"
	ViolationGambling      ViolationType = "GAMBLING"
	ViolationFraud         ViolationType = "FRAUD"
	ViolationAbuse         ViolationType = "ABUSE"
	ViolationAdvertisement ViolationType = "ADVERTISEMENT"
	ViolationPrivacy       ViolationType = "PRIVACY"
	ViolationSpam          ViolationType = "SPAM"
	ViolationOther         ViolationType = "OTHER"
)

// ParseViolationType folds free-form provider labels onto the taxonomy.
func ParseViolationType(raw string) ViolationType {
	switch ViolationType(raw) {
	case ViolationNone, ViolationPolitics, ViolationPornography, ViolationViolence,
		ViolationTerrorism, ViolationGambling, ViolationFraud, ViolationAbuse,
		ViolationAdvertisement, ViolationPrivacy, ViolationSpam, ViolationOther:
		return ViolationType(raw)
	case "":
		return ViolationNone
	}
	switch raw {
	case "porn", "sexy", "sexual":
		return ViolationPornography
	case "politics", "political":
		return ViolationPolitics
	case "violence", "bloody":
		return ViolationViolence
	case "terrorism":
		return ViolationTerrorism
	case "gamble", "gambling":
		return ViolationGambling
	case "fraud", "scam":
		return ViolationFraud
	case "abuse", "insult":
		return ViolationAbuse
	case "ad", "ads", "advertisement":
		return ViolationAdvertisement
	case "privacy", "pii":
		return ViolationPrivacy
	case "spam", "flood":
		return ViolationSpam
	}
	return ViolationOther
}

// ContentType identifies the surface the moderated text belongs to.
type ContentType string

const (
	ContentCardTitle   ContentType = "CARD_TITLE"
	ContentCardBody    ContentType = "CARD_CONTENT"
	ContentAISummary   ContentType = "AI_SUMMARY"
	ContentSourceInfo  ContentType = "SOURCE_DESCRIPTION"
	ContentComment     ContentType = "COMMENT"
	ContentChatMessage ContentType = "CHAT_MESSAGE"
	ContentUserProfile ContentType = "USER_PROFILE"
	ContentGenericText ContentType = "TEXT"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentCardTitle, ContentCardBody, ContentAISummary, ContentSourceInfo,
		ContentComment, ContentChatMessage, ContentUserProfile, ContentGenericText:
		return true
	}
	return false
}

// SuggestedAction tells callers what to do with the content.
type SuggestedAction string

const (
	ActionAllow  SuggestedAction = "ALLOW"
	ActionBlock  SuggestedAction = "BLOCK"
	ActionReview SuggestedAction = "REVIEW"
	ActionRetry  SuggestedAction = "RETRY"
)

// ModerationRecord is the durable audit entry for one moderation decision.
type ModerationRecord struct {
	ID                   string            `db:"id" json:"id"`
	UserID               string            `db:"user_id" json:"userId"`
	ContentType          ContentType       `db:"content_type" json:"contentType"`
	ContentID            *string           `db:"content_id" json:"contentId,omitempty"`
	Content              string            `db:"content" json:"content"`
	Summary              string            `db:"summary" json:"summary"`
	ContentHash          string            `db:"content_hash" json:"contentHash"`
	IsAIGenerated        bool              `db:"is_ai_generated" json:"isAiGenerated"`
	AIModel              *string           `db:"ai_model" json:"aiModel,omitempty"`
	HighPriority         bool              `db:"high_priority" json:"highPriority"`
	Status               ModerationStatus  `db:"status" json:"status"`
	ModerationType       ModerationType    `db:"moderation_type" json:"moderationType"`
	ViolationType        ViolationType     `db:"violation_type" json:"violationType"`
	ViolationDetails     *string           `db:"violation_details" json:"violationDetails,omitempty"`
	HitWords             []byte            `db:"hit_words" json:"hitWords,omitempty"`
	Provider             *string           `db:"provider" json:"provider,omitempty"`
	ProviderResponse     *string           `db:"provider_response" json:"providerResponse,omitempty"`
	ProviderRequestID    *string           `db:"provider_request_id" json:"providerRequestId,omitempty"`
	RetryCount           int               `db:"retry_count" json:"retryCount"`
	ProcessTimeMs        int64             `db:"process_time_ms" json:"processTimeMs"`
	ManualReviewRequired bool              `db:"manual_review_required" json:"manualReviewRequired"`
	ManualReviewResult   *ModerationStatus `db:"manual_review_result" json:"manualReviewResult,omitempty"`
	ReviewerID           *string           `db:"reviewer_id" json:"reviewerId,omitempty"`
	ReviewedAt           *time.Time        `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewRemark         *string           `db:"review_remark" json:"reviewRemark,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updatedAt"`
}

// ModerationFilter constrains record listings and aggregates.
type ModerationFilter struct {
	UserID      string
	Status      []ModerationStatus
	ContentType ContentType
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// ModerationStats aggregates record counts and derived rates.
type ModerationStats struct {
	UserID        string                     `json:"userId,omitempty"`
	From          *time.Time                 `json:"from,omitempty"`
	To            *time.Time                 `json:"to,omitempty"`
	Total         int64                      `json:"total"`
	ByStatus      map[ModerationStatus]int64 `json:"byStatus"`
	ApprovalRate  float64                    `json:"approvalRate"`
	RejectionRate float64                    `json:"rejectionRate"`
	ReviewRate    float64                    `json:"reviewRate"`
	GeneratedAt   time.Time                  `json:"generatedAt"`
}

// StatusCount is one row of a status aggregate.
type StatusCount struct {
	Status ModerationStatus `db:"status"`
	Total  int64            `db:"total"`
}
