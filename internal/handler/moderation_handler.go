package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/response"
)

const maxBatchItems = 100

type moderationService interface {
	Moderate(ctx context.Context, userID string, req dto.ModerationRequest) (*dto.ModerationResponse, error)
	BatchModerate(ctx context.Context, userID string, reqs []dto.ModerationRequest) []dto.ModerationResponse
	ManualReview(ctx context.Context, recordID, reviewerID string, req dto.ManualReviewRequest) (*dto.ModerationResponse, error)
	ReModerate(ctx context.Context, recordID, requestedBy string) (*dto.ModerationResponse, error)
	Get(ctx context.Context, recordID string) (*models.ModerationRecord, error)
	PendingReviews(ctx context.Context, page, pageSize int) ([]dto.ReviewQueueItem, *models.Pagination, error)
}

// ModerationHandler exposes the moderation pipeline.
type ModerationHandler struct {
	service moderationService
}

// NewModerationHandler builds a ModerationHandler.
func NewModerationHandler(service moderationService) *ModerationHandler {
	return &ModerationHandler{service: service}
}

// Moderate godoc
// @Summary Moderate content
// @Tags Moderation
// @Accept json
// @Produce json
// @Param payload body dto.ModerationRequest true "Content"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /moderation [post]
func (h *ModerationHandler) Moderate(c *gin.Context) {
	var req dto.ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid moderation payload"))
		return
	}
	result, err := h.service.Moderate(c.Request.Context(), callerID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Batch godoc
// @Summary Moderate several items
// @Tags Moderation
// @Accept json
// @Produce json
// @Param payload body dto.BatchModerationRequest true "Items"
// @Success 200 {object} response.Envelope
// @Router /moderation/batch [post]
func (h *ModerationHandler) Batch(c *gin.Context) {
	var req dto.BatchModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "items must contain between 1 and 100 entries"))
		return
	}
	results := h.service.BatchModerate(c.Request.Context(), callerID(c), req.Items)
	response.JSON(c, http.StatusOK, results, nil)
}

// Get godoc
// @Summary Get moderation record
// @Tags Moderation
// @Produce json
// @Param id path string true "Record ID"
// @Description Reviewers may read any record; other callers only their own.
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /moderation/{id} [get]
func (h *ModerationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canReadRecord(claims, record) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "record belongs to another user"))
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

func canReadRecord(claims *models.JWTClaims, record *models.ModerationRecord) bool {
	switch claims.Role {
	case models.RoleAdmin, models.RoleModerator:
		return true
	}
	return claims.UserID != "" && claims.UserID == record.UserID
}

// Reviews godoc
// @Summary Pending manual reviews
// @Tags Moderation
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /moderation/reviews [get]
func (h *ModerationHandler) Reviews(c *gin.Context) {
	items, pagination, err := h.service.PendingReviews(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "pageSize", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Review godoc
// @Summary Record a manual review verdict
// @Tags Moderation
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.ManualReviewRequest true "Verdict"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "record still being moderated"
// @Router /moderation/{id}/review [post]
func (h *ModerationHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ManualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	result, err := h.service.ManualReview(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Recheck godoc
// @Summary Re-run moderation for a record
// @Tags Moderation
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /moderation/{id}/recheck [post]
func (h *ModerationHandler) Recheck(c *gin.Context) {
	result, err := h.service.ReModerate(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
