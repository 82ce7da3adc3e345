package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/models"
	appErrors "github.com/noah-isme/moderation-engine/pkg/errors"
	"github.com/noah-isme/moderation-engine/pkg/export"
	"github.com/noah-isme/moderation-engine/pkg/storage"
)

const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"

	exportPageSize = 500
)

type moderationLister interface {
	List(ctx context.Context, filter models.ModerationFilter) ([]models.ModerationRecord, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	MaxRows   int
}

// ExportResult describes a stored export and its signed download link.
type ExportResult struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	Truncated bool      `json:"truncated"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportService renders moderation records to CSV or PDF and stores them for download.
type ExportService struct {
	records moderationLister
	storage fileStorage
	signer  *storage.SignedURLSigner
	csv     datasetRenderer
	pdf     datasetRenderer
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to pkg/export.
func NewExportService(records moderationLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		records: records,
		storage: store,
		signer:  signer,
		csv:     csv,
		pdf:     pdf,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Export renders the records selected by query and returns a signed link to the file.
func (s *ExportService) Export(ctx context.Context, query dto.ExportQuery) (*ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(query.Format))
	if format == "" {
		format = ExportFormatCSV
	}
	var renderer datasetRenderer
	switch format {
	case ExportFormatCSV:
		renderer = s.csv
	case ExportFormatPDF:
		renderer = s.pdf
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	records, truncated, err := s.collect(ctx, query)
	if err != nil {
		s.logger.Error("load records for export failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load moderation records")
	}

	payload, err := renderer.Render(recordDataset(records, s.now()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	id := uuid.NewString()
	name := fmt.Sprintf("moderation/%s_%s.%s", s.now().UTC().Format("20060102_150405"), id[:8], format)
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("moderation export generated",
		zap.String("export_id", id),
		zap.String("format", format),
		zap.Int("rows", len(records)),
		zap.Bool("truncated", truncated),
	)
	return &ExportResult{
		ID:        id,
		Format:    format,
		Rows:      len(records),
		Truncated: truncated,
		URL:       fmt.Sprintf("%s/moderation/export/download/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a download token and opens the referenced file.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, relPath, nil
}

// Cleanup removes exports older than ttl, or the configured ResultTTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) collect(ctx context.Context, query dto.ExportQuery) ([]models.ModerationRecord, bool, error) {
	filter := models.ModerationFilter{
		UserID: query.UserID,
		Status: query.Status,
		From:   query.From,
		To:     query.To,
		Limit:  exportPageSize,
	}
	var records []models.ModerationRecord
	for {
		page, err := s.records.List(ctx, filter)
		if err != nil {
			return nil, false, err
		}
		records = append(records, page...)
		if len(records) >= s.cfg.MaxRows {
			return records[:s.cfg.MaxRows], len(records) > s.cfg.MaxRows || len(page) == exportPageSize, nil
		}
		if len(page) < exportPageSize {
			return records, false, nil
		}
		filter.Offset += exportPageSize
	}
}

func recordDataset(records []models.ModerationRecord, now time.Time) export.Dataset {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		reviewer := ""
		if record.ReviewerID != nil {
			reviewer = *record.ReviewerID
		}
		contentID := ""
		if record.ContentID != nil {
			contentID = *record.ContentID
		}
		rows = append(rows, []string{
			record.ID,
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.UserID,
			string(record.ContentType),
			contentID,
			string(record.Status),
			string(record.ModerationType),
			string(record.ViolationType),
			strconv.Itoa(record.RetryCount),
			reviewer,
			record.Summary,
		})
	}
	return export.Dataset{
		Title: fmt.Sprintf("Moderation records (%s)", now.UTC().Format("2006-01-02 15:04 MST")),
		Headers: []string{
			"Log ID", "Created At", "User ID", "Content Type", "Content ID", "Status",
			"Moderation Type", "Violation Type", "Retries", "Reviewer", "Summary",
		},
		Widths: []float64{2.4, 1.6, 1.2, 1.1, 1, 1, 1.1, 1.1, 0.6, 1, 3},
		Rows:   rows,
	}
}
