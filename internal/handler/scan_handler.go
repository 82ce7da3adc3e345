package handler

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/response"
)

const defaultReplacement = '*'

type scannerService interface {
	ContainsMatch(ctx context.Context, text string) (bool, error)
	FindMatches(ctx context.Context, text string) ([]models.RuleHit, error)
	Redact(ctx context.Context, text string, replacement rune) (string, []models.RuleHit, error)
	Refresh(ctx context.Context) error
	Status() dto.AutomatonStatus
}

// ScanHandler exposes the sensitive word scanner.
type ScanHandler struct {
	scanner   scannerService
	validator *validator.Validate
}

// NewScanHandler builds a ScanHandler.
func NewScanHandler(scanner scannerService) *ScanHandler {
	return &ScanHandler{scanner: scanner, validator: validator.New()}
}

// Contains godoc
// @Summary Check text for sensitive terms
// @Tags Scanner
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Text"
// @Success 200 {object} response.Envelope
// @Router /scan/contains [post]
func (h *ScanHandler) Contains(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	matched, err := h.scanner.ContainsMatch(c.Request.Context(), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ContainsResponse{Matched: matched}, nil)
}

// Matches godoc
// @Summary List sensitive term hits
// @Tags Scanner
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Text"
// @Success 200 {object} response.Envelope
// @Router /scan/matches [post]
func (h *ScanHandler) Matches(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	hits, err := h.scanner.FindMatches(c.Request.Context(), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	if hits == nil {
		hits = []models.RuleHit{}
	}
	response.JSON(c, http.StatusOK, dto.MatchesResponse{Hits: hits, Count: len(hits)}, nil)
}

// Redact godoc
// @Summary Mask sensitive terms
// @Tags Scanner
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Text and optional single-character replacement"
// @Success 200 {object} response.Envelope
// @Router /scan/redact [post]
func (h *ScanHandler) Redact(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	replacement := defaultReplacement
	if req.Replacement != "" {
		if utf8.RuneCountInString(req.Replacement) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "replacement must be a single character"))
			return
		}
		replacement, _ = utf8.DecodeRuneInString(req.Replacement)
	}
	text, hits, err := h.scanner.Redact(c.Request.Context(), req.Text, replacement)
	if err != nil {
		response.Error(c, err)
		return
	}
	if hits == nil {
		hits = []models.RuleHit{}
	}
	response.JSON(c, http.StatusOK, dto.RedactResponse{Text: text, Hits: hits, Count: len(hits)}, nil)
}

// Status godoc
// @Summary Automaton snapshot status
// @Tags Scanner
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scan/automaton [get]
func (h *ScanHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.scanner.Status(), nil)
}

// Refresh godoc
// @Summary Rebuild the automaton
// @Tags Scanner
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /scan/automaton/refresh [post]
func (h *ScanHandler) Refresh(c *gin.Context) {
	if err := h.scanner.Refresh(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.scanner.Status(), nil)
}

func (h *ScanHandler) bind(c *gin.Context) (dto.ScanRequest, bool) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "text is required"))
		return req, false
	}
	return req, true
}
