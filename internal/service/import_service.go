package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/importer"
	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/export"
)

type batchCreator interface {
	CreateMany(ctx context.Context, ownerID string, students []models.Student) ([]models.Student, error)
}

// ImportPreview summarises a normalized file before the caller commits it.
type ImportPreview struct {
	Total    int              `json:"total"`
	Students []models.Student `json:"students"`
}

// ImportService turns uploaded workbooks into committed student batches.
// Normalization is all-or-nothing: any row problem rejects the whole file.
type ImportService struct {
	directory batchCreator
	exporter  *export.XLSXExporter
	logger    *zap.Logger
	cfg       config.ImportConfig
	now       func() time.Time
}

// NewImportService constructs the import service.
func NewImportService(directory batchCreator, exporter *export.XLSXExporter, cfg config.ImportConfig, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		directory: directory,
		exporter:  exporter,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Preview parses and normalizes the workbook without writing anything.
func (s *ImportService) Preview(ctx context.Context, r io.Reader) (*ImportPreview, error) {
	students, err := s.normalize(r)
	if err != nil {
		return nil, err
	}
	return &ImportPreview{Total: len(students), Students: students}, nil
}

// Commit normalizes the workbook and writes the whole batch in one
// transaction.
func (s *ImportService) Commit(ctx context.Context, ownerID string, r io.Reader) ([]models.Student, error) {
	students, err := s.normalize(r)
	if err != nil {
		return nil, err
	}
	created, err := s.directory.CreateMany(ctx, ownerID, students)
	if err != nil {
		return nil, err
	}
	s.logger.Info("import committed",
		zap.String("owner_id", ownerID),
		zap.Int("count", len(created)))
	return created, nil
}

// Template renders the blank import workbook: required headers plus one
// example row showing the expected formats.
func (s *ImportService) Template() ([]byte, error) {
	example := map[string]string{
		"الاسم الكامل":    "محمد عبدالله",
		"الجنس":           "ذكر",
		"تاريخ الميلاد":   "15/05/2010",
		"المستوى الدراسي": "5 إبتدائي",
		"اسم الولي":       "عبدالله أحمد",
		"رقم الهاتف 1":    "0555123456",
		"رقم الهاتف 2":    "",
		"مقر السكن":       "حي النصر",
		"الحالة":          "تم الانضمام",
		"رقم الصفحة":      "1",
		"ملاحظات":         "",
	}
	data := export.Dataset{
		SheetName: "الطلاب",
		Headers:   importer.RequiredHeaders,
		Rows:      []map[string]string{example},
	}
	payload, err := s.exporter.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build template")
	}
	return payload, nil
}

func (s *ImportService) normalize(r io.Reader) ([]models.Student, error) {
	limited := io.LimitReader(r, s.cfg.MaxFileSizeBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if int64(len(payload)) > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxFileSizeBytes))
	}

	rows, err := s.readRows(payload)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxRows > 0 && len(rows) > s.cfg.MaxRows+1 {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d row limit", s.cfg.MaxRows))
	}

	students, err := importer.Normalize(rows, s.now())
	if err != nil {
		return nil, mapImporterError(err)
	}
	return students, nil
}

// readRows extracts the first sheet as typed cells. Only the date
// columns are reinterpreted as numbers, so serial dates survive the trip
// while text like a leading-zero phone number stays exactly as written.
func (s *ImportService) readRows(payload []byte) ([][]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file is not a readable workbook")
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrImportRejected, importer.ErrEmptyFile.Error())
	}

	raw, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read worksheet")
	}

	dateCols := make(map[int]struct{})
	if len(raw) > 0 {
		for j, cell := range raw[0] {
			switch strings.TrimSpace(cell) {
			case importer.HeaderBirthDate, importer.HeaderRegistrationDate:
				dateCols[j] = struct{}{}
			}
		}
	}

	rows := make([][]any, len(raw))
	for i, cells := range raw {
		row := make([]any, len(cells))
		for j, cell := range cells {
			if _, ok := dateCols[j]; ok && i > 0 {
				row[j] = typeCell(cell)
			} else {
				row[j] = strings.TrimSpace(cell)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// typeCell types a date-column cell: numeric raw values become float64 so
// the serial-number branch of date parsing can run.
func typeCell(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return ""
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	return trimmed
}

func mapImporterError(err error) error {
	var missing *importer.MissingHeadersError
	if errors.As(err, &missing) {
		return appErrors.Clone(appErrors.ErrImportRejected, missing.Error())
	}
	var rowErrs *importer.RowErrorsError
	if errors.As(err, &rowErrs) {
		return appErrors.Clone(appErrors.ErrImportRejected, rowErrs.Error())
	}
	if errors.Is(err, importer.ErrEmptyFile) || errors.Is(err, importer.ErrNoValidRecords) {
		return appErrors.Clone(appErrors.ErrImportRejected, err.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to normalize file")
}
