package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/response"
)

type ruleService interface {
	Create(ctx context.Context, req dto.CreateRuleRequest, createdBy string) (*models.SensitiveRule, error)
	Get(ctx context.Context, id int64) (*models.SensitiveRule, error)
	Update(ctx context.Context, id int64, req dto.UpdateRuleRequest) (*models.SensitiveRule, error)
	Delete(ctx context.Context, id int64) error
	BatchImport(ctx context.Context, req dto.BatchImportRequest, createdBy string) (*dto.BatchImportResult, error)
	ToggleCategory(ctx context.Context, category models.RuleCategory, enabled bool) (int64, error)
	Search(ctx context.Context, query dto.RuleQuery) ([]models.SensitiveRule, *models.Pagination, error)
	Categories(ctx context.Context) ([]dto.CategorySummary, error)
}

// RuleHandler exposes sensitive rule administration.
type RuleHandler struct {
	service ruleService
}

// NewRuleHandler builds a RuleHandler.
func NewRuleHandler(service ruleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// Create godoc
// @Summary Create sensitive rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body dto.CreateRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var req dto.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Create(c.Request.Context(), req, callerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// List godoc
// @Summary Search sensitive rules
// @Tags Rules
// @Produce json
// @Param keyword query string false "Term keyword"
// @Param category query string false "Category"
// @Param enabled query bool false "Enabled flag"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	query := dto.RuleQuery{
		Keyword:  c.Query("keyword"),
		Category: models.RuleCategory(strings.ToUpper(c.Query("category"))),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enabled must be a boolean"))
			return
		}
		query.Enabled = &enabled
	}
	rules, pagination, err := h.service.Search(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, pagination)
}

// Get godoc
// @Summary Get sensitive rule
// @Tags Rules
// @Produce json
// @Param id path int true "Rule ID"
// @Success 200 {object} response.Envelope
// @Router /rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	rule, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Update godoc
// @Summary Update sensitive rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path int true "Rule ID"
// @Param payload body dto.UpdateRuleRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /rules/{id} [patch]
func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	var req dto.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Delete godoc
// @Summary Delete sensitive rule
// @Tags Rules
// @Param id path int true "Rule ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /rules/{id} [delete]
func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Import godoc
// @Summary Batch import terms
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body dto.BatchImportRequest true "Terms"
// @Success 200 {object} response.Envelope
// @Router /rules/import [post]
func (h *RuleHandler) Import(c *gin.Context) {
	var req dto.BatchImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
		return
	}
	result, err := h.service.BatchImport(c.Request.Context(), req, callerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ToggleCategory godoc
// @Summary Enable or disable a category
// @Tags Rules
// @Accept json
// @Produce json
// @Param category path string true "Category"
// @Param payload body dto.ToggleCategoryRequest true "Toggle"
// @Success 200 {object} response.Envelope
// @Router /rules/categories/{category} [put]
func (h *RuleHandler) ToggleCategory(c *gin.Context) {
	var req dto.ToggleCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enabled is required"))
		return
	}
	category := models.RuleCategory(strings.ToUpper(c.Param("category")))
	affected, err := h.service.ToggleCategory(c.Request.Context(), category, *req.Enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ToggleCategoryResponse{Category: category, Enabled: *req.Enabled, Affected: affected}, nil)
}

// Categories godoc
// @Summary List rule categories
// @Tags Rules
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /rules/categories [get]
func (h *RuleHandler) Categories(c *gin.Context) {
	summaries, err := h.service.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}

func ruleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rule id must be a positive integer"))
		return 0, false
	}
	return id, true
}
