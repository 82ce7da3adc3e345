// Package provider talks to third-party text moderation services.
package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/pkg/config"
)

// Result is the normalised verdict of an external provider.
type Result struct {
	Success        bool
	ConclusionPass bool
	ViolationType  string
	ViolationDesc  string
	RequestID      string
	RawResponse    string
}

// Provider checks text against an external moderation service.
type Provider interface {
	Name() string
	CheckText(ctx context.Context, text string) (*Result, error)
}

// New returns the configured provider, or nil when no endpoint is set.
func New(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	if cfg.URL == "" {
		return nil
	}
	return NewHTTPProvider(cfg.Name, cfg.URL, cfg.APIKey, nil, logger)
}
