package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
)

const maxResponseBytes = 1 << 20

type checkRequest struct {
	DataID string `json:"dataId"`
	Text   string `json:"text"`
}

type checkResponse struct {
	Success     *bool  `json:"success"`
	Conclusion  string `json:"conclusion"`
	Label       string `json:"label"`
	Description string `json:"description"`
	RequestID   string `json:"requestId"`
	Message     string `json:"message"`
}

// HTTPProvider posts text to a JSON moderation endpoint.
type HTTPProvider struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider constructs an HTTP provider client.
func NewHTTPProvider(name, url, apiKey string, httpClient *http.Client, logger *zap.Logger) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "http"
	}
	return &HTTPProvider{
		name:       name,
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With(zap.String("provider", name)),
	}
}

// Name identifies the provider on moderation records.
func (p *HTTPProvider) Name() string {
	return p.name
}

// CheckText submits text for review. Transport failures and non-2xx replies
// return PROVIDER_TRANSPORT_ERROR; undecodable bodies return PROVIDER_PARSE_ERROR.
// A decoded reply with success=false is returned as-is for the caller to judge.
func (p *HTTPProvider) CheckText(ctx context.Context, text string) (*Result, error) {
	payload, err := json.Marshal(checkRequest{DataID: uuid.NewString(), Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrProviderTransport.Code, appErrors.ErrProviderTransport.Status, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("provider request failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, appErrors.Wrap(err, appErrors.ErrProviderTransport.Code, appErrors.ErrProviderTransport.Status, appErrors.ErrProviderTransport.Message)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrProviderTransport.Code, appErrors.ErrProviderTransport.Status, "read provider response")
	}
	p.logger.Debug("provider responded", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("provider returned status %d", resp.StatusCode)
		var failure checkResponse
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, failure.Message)
		}
		return nil, appErrors.New(appErrors.ErrProviderTransport.Code, appErrors.ErrProviderTransport.Status, msg)
	}

	var decoded checkResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrProviderParse.Code, appErrors.ErrProviderParse.Status, appErrors.ErrProviderParse.Message)
	}
	if decoded.Success == nil {
		return nil, appErrors.Clone(appErrors.ErrProviderParse, "provider response missing success flag")
	}

	result := &Result{
		Success:       *decoded.Success,
		ViolationType: decoded.Label,
		ViolationDesc: decoded.Description,
		RequestID:     decoded.RequestID,
		RawResponse:   string(body),
	}
	if !result.Success {
		if result.ViolationDesc == "" {
			result.ViolationDesc = decoded.Message
		}
		return result, nil
	}

	switch strings.ToLower(decoded.Conclusion) {
	case "pass":
		result.ConclusionPass = true
	case "block", "reject", "review":
		result.ConclusionPass = false
	default:
		return nil, appErrors.Clone(appErrors.ErrProviderParse, fmt.Sprintf("unknown provider conclusion %q", decoded.Conclusion))
	}
	return result, nil
}
