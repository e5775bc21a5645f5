package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/importer"
	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/export"
)

type captureCreator struct {
	created []models.Student
	err     error
}

func (c *captureCreator) CreateMany(ctx context.Context, ownerID string, students []models.Student) ([]models.Student, error) {
	if c.err != nil {
		return nil, c.err
	}
	for i := range students {
		students[i].OwnerID = ownerID
	}
	c.created = students
	return students, nil
}

func testImportConfig() config.ImportConfig {
	return config.ImportConfig{MaxFileSizeBytes: 1 << 20, MaxRows: 100}
}

func newTestImport(creator batchCreator) *ImportService {
	return NewImportService(creator, export.NewXLSXExporter(), testImportConfig(), zap.NewNop())
}

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func workbookHeaderRow() []interface{} {
	row := make([]interface{}, len(importer.RequiredHeaders))
	for i, h := range importer.RequiredHeaders {
		row[i] = h
	}
	return row
}

func workbookDataRow(name, birth string) []interface{} {
	return []interface{}{name, "ذكر", birth, "5 إبتدائي", "عبدالله", "0555123456", "", "حي النصر", "تم الانضمام", 3, ""}
}

func TestImportPreview(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	file := buildWorkbook(t, [][]interface{}{
		workbookHeaderRow(),
		workbookDataRow("محمد", "15/05/2010"),
		workbookDataRow("سارة", "2012-03-01"),
	})

	preview, err := svc.Preview(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.Total)
	assert.Equal(t, "محمد", preview.Students[0].FullName)
	assert.Equal(t, models.StatusJoined, preview.Students[0].Status)
	assert.Equal(t, "0555123456", preview.Students[0].Phone1)
}

func TestImportKeepsPhoneTextVerbatim(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	row := workbookDataRow("محمد", "15/05/2010")
	row[5] = "0555123456"
	row[6] = "0661234567"
	file := buildWorkbook(t, [][]interface{}{workbookHeaderRow(), row})

	preview, err := svc.Preview(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, preview.Students, 1)
	// Phone cells are text: the leading zero must not be eaten by a
	// numeric reinterpretation.
	assert.Equal(t, "0555123456", preview.Students[0].Phone1)
	assert.Equal(t, "0661234567", preview.Students[0].Phone2)
}

func TestImportSerialBirthDateThroughWorkbook(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	row := workbookDataRow("سارة", "")
	row[2] = 40313
	file := buildWorkbook(t, [][]interface{}{workbookHeaderRow(), row})

	preview, err := svc.Preview(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, preview.Students, 1)
	assert.Equal(t, time.Date(2010, time.May, 15, 0, 0, 0, 0, time.UTC), preview.Students[0].BirthDate)
}

func TestImportCommit(t *testing.T) {
	creator := &captureCreator{}
	svc := newTestImport(creator)

	file := buildWorkbook(t, [][]interface{}{
		workbookHeaderRow(),
		workbookDataRow("محمد", "15/05/2010"),
	})

	students, err := svc.Commit(context.Background(), "owner", file)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "owner", creator.created[0].OwnerID)
	assert.Equal(t, 3, creator.created[0].PageNumber)
	assert.Equal(t, "0555123456", creator.created[0].Phone1)
}

func TestImportRejectsBadRowWithoutCommitting(t *testing.T) {
	creator := &captureCreator{}
	svc := newTestImport(creator)

	file := buildWorkbook(t, [][]interface{}{
		workbookHeaderRow(),
		workbookDataRow("محمد", "15/05/2010"),
		workbookDataRow("خالد", "ليس تاريخاً"),
	})

	_, err := svc.Commit(context.Background(), "owner", file)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrImportRejected.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "خالد")
	assert.Empty(t, creator.created)
}

func TestImportRejectsMissingHeaders(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	file := buildWorkbook(t, [][]interface{}{
		{"الاسم الكامل", "الجنس"},
		{"محمد", "ذكر"},
	})

	_, err := svc.Preview(context.Background(), file)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrImportRejected.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "تاريخ الميلاد")
}

func TestImportRejectsNonWorkbook(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	_, err := svc.Preview(context.Background(), bytes.NewReader([]byte("plain text, not a workbook")))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestImportRejectsOversizedFile(t *testing.T) {
	cfg := config.ImportConfig{MaxFileSizeBytes: 16, MaxRows: 100}
	svc := NewImportService(&captureCreator{}, export.NewXLSXExporter(), cfg, zap.NewNop())

	_, err := svc.Preview(context.Background(), bytes.NewReader(make([]byte, 64)))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestImportTemplateRoundTrip(t *testing.T) {
	svc := newTestImport(&captureCreator{})

	payload, err := svc.Template()
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows("الطلاب")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, importer.RequiredHeaders, rows[0])
	assert.Equal(t, "محمد عبدالله", rows[1][0])
}
