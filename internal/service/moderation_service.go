package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/provider"
	"github.com/noah-isme/moderation-engine/internal/repository"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/jobs"
)

const (
	defaultCacheWindow     = 24 * time.Hour
	defaultSummaryLength   = 100
	defaultProviderTimeout = 3 * time.Second
	defaultReviewPageSize  = 20
)

type moderationRepository interface {
	Create(ctx context.Context, record *models.ModerationRecord) error
	GetByID(ctx context.Context, id string) (*models.ModerationRecord, error)
	FindRecentByContent(ctx context.Context, contentID string, contentType models.ContentType, since time.Time) (*models.ModerationRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.ModerationStatus) error
	SaveOutcome(ctx context.Context, record *models.ModerationRecord) error
	ApplyManualReview(ctx context.Context, params repository.ManualReviewParams) error
	List(ctx context.Context, filter models.ModerationFilter) ([]models.ModerationRecord, error)
	Count(ctx context.Context, filter models.ModerationFilter) (int, error)
}

type textScanner interface {
	FindMatches(ctx context.Context, text string) ([]models.RuleHit, error)
}

// ModerationServiceConfig tunes the decision pipeline.
type ModerationServiceConfig struct {
	CacheWindow      time.Duration
	SummaryLength    int
	ProviderTimeout  time.Duration
	ProviderCacheTTL time.Duration
	Escalate         EscalationPolicy
}

// providerVerdict is the cached part of a successful provider reply.
type providerVerdict struct {
	Pass          bool   `json:"pass"`
	ViolationType string `json:"violationType"`
	ViolationDesc string `json:"violationDesc"`
	RequestID     string `json:"requestId"`
}

// ModerationService runs the moderation pipeline and the manual review path.
type ModerationService struct {
	repo      moderationRepository
	scanner   textScanner
	provider  provider.Provider
	cache     *CacheService
	pool      *jobs.Pool
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ModerationServiceConfig
	now       func() time.Time
}

// NewModerationService constructs the orchestrator. provider, cache, pool and
// metrics are optional.
func NewModerationService(
	repo moderationRepository,
	scanner textScanner,
	prov provider.Provider,
	cache *CacheService,
	pool *jobs.Pool,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ModerationServiceConfig,
) *ModerationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = defaultCacheWindow
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = defaultSummaryLength
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.ProviderCacheTTL <= 0 {
		cfg.ProviderCacheTTL = cfg.CacheWindow
	}
	if cfg.Escalate == nil {
		cfg.Escalate = ShouldEscalate
	}
	return &ModerationService{
		repo:      repo,
		scanner:   scanner,
		provider:  prov,
		cache:     cache,
		pool:      pool,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Moderate runs the pipeline for one request. Errors are returned only for
// invalid input or when no record could be created; failures after that are
// reported as an ERROR record.
func (s *ModerationService) Moderate(ctx context.Context, userID string, req dto.ModerationRequest) (*dto.ModerationResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if !req.ForceReCheck && req.ContentID != nil && *req.ContentID != "" {
		if prior := s.recentDecision(ctx, *req.ContentID, req.ContentType); prior != nil {
			resp := toModerationResponse(prior)
			resp.Cached = true
			return resp, nil
		}
	}

	record := s.newRecord(userID, req)
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("create moderation record failed", zap.String("user_id", userID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrPipeline.Code, appErrors.ErrPipeline.Status, "failed to create moderation record")
	}
	return s.run(ctx, record, req.ForceReCheck), nil
}

// ModerateAsync runs Moderate on the worker pool. The returned future may be
// abandoned; persisted state is kept either way.
func (s *ModerationService) ModerateAsync(ctx context.Context, userID string, req dto.ModerationRequest) *jobs.Future[*dto.ModerationResponse] {
	if err := s.validateRequest(req); err != nil {
		return jobs.Resolved[*dto.ModerationResponse](nil, err)
	}
	if s.pool == nil {
		resp, err := s.Moderate(ctx, userID, req)
		return jobs.Resolved(resp, err)
	}
	return jobs.Submit(s.pool, func(poolCtx context.Context) (*dto.ModerationResponse, error) {
		return s.Moderate(poolCtx, userID, req)
	})
}

// BatchModerate moderates items sequentially. A failing item yields an ERROR
// response in its slot and the batch continues.
func (s *ModerationService) BatchModerate(ctx context.Context, userID string, reqs []dto.ModerationRequest) []dto.ModerationResponse {
	out := make([]dto.ModerationResponse, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.Moderate(ctx, userID, req)
		if err != nil {
			s.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
			out = append(out, errorResponse(err))
			continue
		}
		out = append(out, *resp)
	}
	return out
}

// ManualReview applies a reviewer verdict. It may overturn any settled
// verdict; records the pipeline is still working on are refused with a
// conflict. Repeating the same review yields the same final state.
func (s *ModerationService) ManualReview(ctx context.Context, recordID, reviewerID string, req dto.ManualReviewRequest) (*dto.ModerationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if req.Result != models.StatusApproved && req.Result != models.StatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "review result must be APPROVED or REJECTED")
	}
	if reviewerID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer is required")
	}

	record, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status.InFlight() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("record is %s, retry once moderation finishes", record.Status))
	}
	reviewedAt := s.now().UTC()
	params := repository.ManualReviewParams{
		ID:         record.ID,
		Result:     req.Result,
		ReviewerID: reviewerID,
		ReviewedAt: reviewedAt,
		Remark:     optionalString(strings.TrimSpace(req.Remark)),
	}
	if err := s.repo.ApplyManualReview(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "record re-entered moderation before the review was applied")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply review")
	}

	previous := record.Status
	record.Status = req.Result
	record.ModerationType = models.ModerationManual
	record.ManualReviewRequired = false
	record.ManualReviewResult = &req.Result
	record.ReviewerID = &reviewerID
	record.ReviewedAt = &reviewedAt
	record.ReviewRemark = params.Remark
	record.UpdatedAt = reviewedAt

	s.metrics.ObserveDecision(record.Status, record.ModerationType, 0)
	s.logger.Info("manual review applied",
		zap.String("record_id", record.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("from", string(previous)),
		zap.String("to", string(req.Result)),
	)
	return toModerationResponse(record), nil
}

// ReModerate reruns the pipeline on an existing record, ignoring every cache.
// The manual review overlay is cleared; reviews are refused until the rerun
// settles.
func (s *ModerationService) ReModerate(ctx context.Context, recordID, requestedBy string) (*dto.ModerationResponse, error) {
	record, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("re-moderation requested",
		zap.String("record_id", record.ID),
		zap.String("requested_by", requestedBy),
		zap.String("status", string(record.Status)),
	)
	resetVerdict(record)
	return s.run(ctx, record, true), nil
}

// Get loads a moderation record.
func (s *ModerationService) Get(ctx context.Context, recordID string) (*models.ModerationRecord, error) {
	record, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "moderation record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load moderation record")
	}
	return record, nil
}

// PendingReviews lists records waiting for a reviewer, newest first.
func (s *ModerationService) PendingReviews(ctx context.Context, page, pageSize int) ([]dto.ReviewQueueItem, *models.Pagination, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = defaultReviewPageSize
	}
	filter := models.ModerationFilter{
		Status: []models.ModerationStatus{models.StatusNeedReview},
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count review queue")
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review queue")
	}
	items := make([]dto.ReviewQueueItem, 0, len(records))
	for _, record := range records {
		items = append(items, dto.ReviewQueueItem{
			LogID:         record.ID,
			UserID:        record.UserID,
			ContentType:   record.ContentType,
			ContentID:     record.ContentID,
			Summary:       record.Summary,
			ViolationType: record.ViolationType,
			HitWords:      decodeHits(record.HitWords),
			CreatedAt:     record.CreatedAt,
		})
	}
	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *ModerationService) validateRequest(req dto.ModerationRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid moderation request")
	}
	if !req.ContentType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content type %q", req.ContentType))
	}
	if strings.TrimSpace(req.Content) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "content must not be blank")
	}
	return nil
}

// recentDecision returns a settled record for the content inside the cache
// window. Lookup failures are logged and treated as a miss.
func (s *ModerationService) recentDecision(ctx context.Context, contentID string, contentType models.ContentType) *models.ModerationRecord {
	since := s.now().Add(-s.cfg.CacheWindow)
	prior, err := s.repo.FindRecentByContent(ctx, contentID, contentType, since)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("moderation cache lookup failed", zap.String("content_id", contentID), zap.Error(err))
		}
		return nil
	}
	return prior
}

func (s *ModerationService) newRecord(userID string, req dto.ModerationRequest) *models.ModerationRecord {
	sum := blake2b.Sum256([]byte(req.Content))
	return &models.ModerationRecord{
		UserID:         userID,
		ContentType:    req.ContentType,
		ContentID:      req.ContentID,
		Content:        req.Content,
		Summary:        summarize(req.Content, s.cfg.SummaryLength),
		ContentHash:    hex.EncodeToString(sum[:]),
		IsAIGenerated:  req.IsAIGenerated,
		AIModel:        req.AIModel,
		HighPriority:   req.HighPriority,
		Status:         models.StatusPending,
		ModerationType: models.ModerationAutoLocal,
		ViolationType:  models.ViolationNone,
	}
}

// run drives a created record through PROCESSING to a verdict and persists it.
// State writes outlive ctx so a departed caller never strands a record in
// PROCESSING.
func (s *ModerationService) run(ctx context.Context, record *models.ModerationRecord, force bool) *dto.ModerationResponse {
	start := s.now()
	store := context.WithoutCancel(ctx)
	if err := s.repo.UpdateStatus(store, record.ID, models.StatusProcessing); err != nil {
		return s.fail(store, record, start, "mark processing", err)
	}
	record.Status = models.StatusProcessing

	hits, err := s.scanner.FindMatches(ctx, record.Content)
	if err != nil {
		return s.fail(store, record, start, "scan", err)
	}
	if err := s.decide(ctx, record, hits, force); err != nil {
		return s.fail(store, record, start, "provider check", err)
	}

	record.ProcessTimeMs = s.now().Sub(start).Milliseconds()
	if err := s.repo.SaveOutcome(store, record); err != nil {
		return s.fail(store, record, start, "persist outcome", err)
	}
	s.metrics.ObserveDecision(record.Status, record.ModerationType, s.now().Sub(start))
	s.logger.Info("content moderated",
		zap.String("record_id", record.ID),
		zap.String("status", string(record.Status)),
		zap.String("moderation_type", string(record.ModerationType)),
		zap.Int("hits", len(hits)),
		zap.Int64("process_time_ms", record.ProcessTimeMs),
	)
	return toModerationResponse(record)
}

// fail moves the record to ERROR. Persisting the ERROR state is best effort.
func (s *ModerationService) fail(ctx context.Context, record *models.ModerationRecord, start time.Time, stage string, cause error) *dto.ModerationResponse {
	s.logger.Error("moderation pipeline failed",
		zap.String("record_id", record.ID),
		zap.String("stage", stage),
		zap.Error(cause),
	)
	record.Status = models.StatusError
	record.ModerationType = models.ModerationAutoLocal
	record.ManualReviewRequired = false
	details := fmt.Sprintf("%s: %s failed: %v", appErrors.ErrPipeline.Code, stage, cause)
	record.ViolationDetails = &details
	record.ProcessTimeMs = s.now().Sub(start).Milliseconds()
	if err := s.repo.SaveOutcome(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("persist ERROR state failed", zap.String("record_id", record.ID), zap.Error(err))
	}
	s.metrics.ObserveDecision(record.Status, record.ModerationType, s.now().Sub(start))
	return toModerationResponse(record)
}

// decide applies the local verdict and, for hit-free content, the escalation
// path. It fails only when ctx ends while the provider is consulted.
func (s *ModerationService) decide(ctx context.Context, record *models.ModerationRecord, hits []models.RuleHit, force bool) error {
	record.HitWords = encodeHits(hits)
	record.ModerationType = models.ModerationAutoLocal
	record.ViolationType = models.ViolationNone
	record.ManualReviewRequired = false

	if len(hits) > 0 {
		top := highestSeverity(hits)
		details := describeHits(hits)
		record.ViolationDetails = &details
		switch top.Severity {
		case models.SeverityCritical:
			record.Status = models.StatusRejected
			record.ViolationType = top.Category.ViolationType()
		case models.SeverityHigh:
			record.Status = models.StatusNeedReview
			record.ViolationType = top.Category.ViolationType()
			record.ManualReviewRequired = true
		default:
			record.Status = models.StatusApproved
		}
		return nil
	}

	in := EscalationInput{
		HighPriority:  record.HighPriority,
		IsAIGenerated: record.IsAIGenerated,
		ContentType:   record.ContentType,
	}
	if !s.cfg.Escalate(in) {
		record.Status = models.StatusApproved
		return nil
	}
	if s.provider == nil {
		record.Status = models.StatusApproved
		note := "escalation skipped: no moderation provider configured"
		record.ViolationDetails = &note
		return nil
	}
	return s.consultProvider(ctx, record, force)
}

// consultProvider applies the provider verdict. Provider failures fall back
// to approval; a cancelled caller is returned as an error instead.
func (s *ModerationService) consultProvider(ctx context.Context, record *models.ModerationRecord, force bool) error {
	name := s.provider.Name()
	record.Provider = &name
	key := fmt.Sprintf("provider:%s:%s", name, record.ContentHash)

	if !force {
		var cached providerVerdict
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			s.metrics.ObserveProviderCall(name, "cached")
			applyVerdict(record, cached)
			return nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	result, err := s.provider.CheckText(callCtx, record.Content)
	if err == nil && !result.Success {
		msg := "provider reported an unsuccessful check"
		if result.ViolationDesc != "" {
			msg = fmt.Sprintf("%s: %s", msg, result.ViolationDesc)
		}
		err = appErrors.Clone(appErrors.ErrProviderTransport, msg)
	}
	if err != nil && ctx.Err() != nil {
		s.metrics.ObserveProviderCall(name, "cancelled")
		return fmt.Errorf("caller gone during provider check: %w", ctx.Err())
	}
	if result != nil && result.RawResponse != "" {
		raw := result.RawResponse
		record.ProviderResponse = &raw
	}
	if err != nil {
		appErr := appErrors.FromError(err)
		record.Status = models.StatusApproved
		record.ModerationType = models.ModerationAutoLocal
		record.RetryCount++
		note := fmt.Sprintf("%s: provider %s unavailable, approved on local rules: %s", appErr.Code, name, appErr.Error())
		record.ViolationDetails = &note
		s.metrics.ObserveProviderCall(name, "failure")
		s.logger.Warn("provider check failed, falling back to local verdict",
			zap.String("record_id", record.ID),
			zap.String("provider", name),
			zap.Int("retry_count", record.RetryCount),
			zap.Error(err),
		)
		return nil
	}

	verdict := providerVerdict{
		Pass:          result.ConclusionPass,
		ViolationType: result.ViolationType,
		ViolationDesc: result.ViolationDesc,
		RequestID:     result.RequestID,
	}
	applyVerdict(record, verdict)
	outcome := "block"
	if verdict.Pass {
		outcome = "pass"
	}
	s.metrics.ObserveProviderCall(name, outcome)
	_ = s.cache.Set(context.WithoutCancel(ctx), key, verdict, s.cfg.ProviderCacheTTL)
	return nil
}

func applyVerdict(record *models.ModerationRecord, verdict providerVerdict) {
	record.ModerationType = models.ModerationAutoProvider
	if verdict.RequestID != "" {
		id := verdict.RequestID
		record.ProviderRequestID = &id
	}
	if verdict.Pass {
		record.Status = models.StatusApproved
		record.ViolationType = models.ViolationNone
		return
	}
	record.Status = models.StatusRejected
	record.ViolationType = models.ParseViolationType(verdict.ViolationType)
	if record.ViolationType == models.ViolationNone {
		record.ViolationType = models.ViolationOther
	}
	if verdict.ViolationDesc != "" {
		desc := verdict.ViolationDesc
		record.ViolationDetails = &desc
	}
}

func resetVerdict(record *models.ModerationRecord) {
	record.Status = models.StatusPending
	record.ModerationType = models.ModerationAutoLocal
	record.ViolationType = models.ViolationNone
	record.ViolationDetails = nil
	record.HitWords = nil
	record.Provider = nil
	record.ProviderResponse = nil
	record.ProviderRequestID = nil
	record.ManualReviewRequired = false
	record.ManualReviewResult = nil
	record.ReviewerID = nil
	record.ReviewedAt = nil
	record.ReviewRemark = nil
}

func highestSeverity(hits []models.RuleHit) models.RuleHit {
	top := hits[0]
	for _, hit := range hits[1:] {
		if hit.Severity.Rank() > top.Severity.Rank() {
			top = hit
		}
	}
	return top
}

func describeHits(hits []models.RuleHit) string {
	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		parts = append(parts, fmt.Sprintf("%s(%s/%s)", hit.Term, hit.Category, hit.Severity))
	}
	return fmt.Sprintf("matched %d rule hit(s): %s", len(hits), strings.Join(parts, ", "))
}

func encodeHits(hits []models.RuleHit) []byte {
	if hits == nil {
		hits = []models.RuleHit{}
	}
	raw, err := json.Marshal(hits)
	if err != nil {
		return []byte("[]")
	}
	return raw
}

func decodeHits(raw []byte) []models.RuleHit {
	hits := []models.RuleHit{}
	if len(raw) == 0 {
		return hits
	}
	if err := json.Unmarshal(raw, &hits); err != nil {
		return []models.RuleHit{}
	}
	return hits
}

func summarize(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}

// SuggestedAction maps a status onto the caller-facing action.
func SuggestedAction(status models.ModerationStatus) models.SuggestedAction {
	switch status {
	case models.StatusApproved:
		return models.ActionAllow
	case models.StatusRejected:
		return models.ActionBlock
	case models.StatusNeedReview:
		return models.ActionReview
	default:
		return models.ActionRetry
	}
}

func toModerationResponse(record *models.ModerationRecord) *dto.ModerationResponse {
	resp := &dto.ModerationResponse{
		LogID:                record.ID,
		Status:               record.Status,
		Approved:             record.Status == models.StatusApproved,
		ShouldBlock:          record.Status.Blocking(),
		ViolationType:        record.ViolationType,
		HitWords:             decodeHits(record.HitWords),
		ModerationType:       record.ModerationType,
		SuggestedAction:      SuggestedAction(record.Status),
		ManualReviewRequired: record.ManualReviewRequired,
		RetryCount:           record.RetryCount,
		ProcessTimeMs:        record.ProcessTimeMs,
	}
	if record.ViolationDetails != nil {
		resp.ViolationDetails = *record.ViolationDetails
	}
	if record.Provider != nil {
		resp.Provider = *record.Provider
	}
	return resp
}

func errorResponse(err error) dto.ModerationResponse {
	return dto.ModerationResponse{
		Status:           models.StatusError,
		ShouldBlock:      true,
		ViolationType:    models.ViolationNone,
		ViolationDetails: appErrors.FromError(err).Error(),
		HitWords:         []models.RuleHit{},
		ModerationType:   models.ModerationAutoLocal,
		SuggestedAction:  models.ActionRetry,
	}
}
