package service

import "github.com/noah-isme/moderation-engine/internal/models"

// EscalationInput holds the request traits that decide provider escalation.
type EscalationInput struct {
	HighPriority  bool
	IsAIGenerated bool
	ContentType   models.ContentType
}

// directUGC lists surfaces where end users publish text directly.
var directUGC = map[models.ContentType]struct{}{
	models.ContentComment:     {},
	models.ContentChatMessage: {},
	models.ContentUserProfile: {},
}

// EscalationPolicy decides whether hit-free content goes to the external provider.
type EscalationPolicy func(EscalationInput) bool

// ShouldEscalate sends content to the provider when it is high priority,
// human-written, or published on a direct user-facing surface.
func ShouldEscalate(in EscalationInput) bool {
	if in.HighPriority || !in.IsAIGenerated {
		return true
	}
	_, direct := directUGC[in.ContentType]
	return direct
}
