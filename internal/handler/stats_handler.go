package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/middleware"
	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/service"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/response"
)

type statsService interface {
	Stats(ctx context.Context, query dto.StatsQuery) (*models.ModerationStats, bool, error)
}

type ruleStatsService interface {
	Stats(ctx context.Context, limit int) (*dto.RuleStatsResponse, error)
}

type exportService interface {
	Export(ctx context.Context, query dto.ExportQuery) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// StatsHandler serves moderation statistics and exports.
type StatsHandler struct {
	stats   statsService
	rules   ruleStatsService
	exports exportService
}

// NewStatsHandler builds a StatsHandler.
func NewStatsHandler(stats statsService, rules ruleStatsService, exports exportService) *StatsHandler {
	return &StatsHandler{stats: stats, rules: rules, exports: exports}
}

// Stats godoc
// @Summary Moderation statistics
// @Tags Statistics
// @Produce json
// @Param userId query string false "Restrict to one submitter"
// @Param from query string false "Window start (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "Window end (RFC3339 or YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /moderation/stats [get]
func (h *StatsHandler) Stats(c *gin.Context) {
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, cached, err := h.stats.Stats(c.Request.Context(), dto.StatsQuery{UserID: c.Query("userId"), From: from, To: to})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// RuleStats godoc
// @Summary Rule hit statistics
// @Tags Statistics
// @Produce json
// @Param limit query int false "Top rules to return"
// @Success 200 {object} response.Envelope
// @Router /moderation/stats/rules [get]
func (h *StatsHandler) RuleStats(c *gin.Context) {
	stats, err := h.rules.Stats(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export moderation records
// @Tags Statistics
// @Produce json
// @Param format query string false "csv or pdf"
// @Param userId query string false "Submitter"
// @Param status query string false "Comma separated statuses"
// @Param from query string false "Window start"
// @Param to query string false "Window end"
// @Success 200 {object} response.Envelope
// @Router /moderation/export [get]
func (h *StatsHandler) Export(c *gin.Context) {
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	query := dto.ExportQuery{
		Format: strings.ToLower(c.Query("format")),
		UserID: c.Query("userId"),
		From:   from,
		To:     to,
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			query.Status = append(query.Status, models.ModerationStatus(strings.ToUpper(raw)))
		}
	}
	result, err := h.exports.Export(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download an exported file
// @Tags Statistics
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /moderation/export/download/{token} [get]
func (h *StatsHandler) Download(c *gin.Context) {
	file, relPath, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	contentType := "text/csv"
	if strings.HasSuffix(relPath, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(relPath)+`"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stream export"))
	}
}
