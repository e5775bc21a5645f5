package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/models"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/export"
)

type registrationLister interface {
	ListByRegistrationRange(ctx context.Context, ownerID string, from, to time.Time) ([]models.Student, error)
}

// ReportPeriod selects which registration window a report covers.
type ReportPeriod string

const (
	PeriodDay   ReportPeriod = "day"
	PeriodRange ReportPeriod = "range"
	PeriodMonth ReportPeriod = "month"
	PeriodYear  ReportPeriod = "year"
)

// ReportRequest describes the window. Day uses Date; Range uses From/To
// inclusive; Month and Year use Year plus, for Month, the Month field.
type ReportRequest struct {
	Period ReportPeriod `json:"period"`
	Date   time.Time    `json:"date"`
	From   time.Time    `json:"from"`
	To     time.Time    `json:"to"`
	Year   int          `json:"year"`
	Month  time.Month   `json:"month"`
}

// Report is a resolved registration report.
type Report struct {
	Period   ReportPeriod     `json:"period"`
	From     time.Time        `json:"from"`
	To       time.Time        `json:"to"`
	Total    int              `json:"total"`
	Students []models.Student `json:"students"`
}

// Spreadsheet column headers for report and directory exports, in sheet
// order.
var exportHeaders = []string{
	"الاسم الكامل",
	"الجنس",
	"تاريخ الميلاد",
	"العمر",
	"المستوى الدراسي",
	"اسم الولي",
	"رقم الهاتف 1",
	"رقم الهاتف 2",
	"مقر السكن",
	"رقم الصفحة",
	"تاريخ التسجيل",
	"الحالة",
	"الشيخ المسؤول",
	"نقاط التذكير",
	"الملاحظات",
}

// ReportService resolves registration-window reports and renders them as
// right-to-left workbooks or printable PDFs.
type ReportService struct {
	repo   registrationLister
	xlsx   *export.XLSXExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(repo registrationLister, xlsx *export.XLSXExporter, pdf *export.PDFExporter, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{repo: repo, xlsx: xlsx, pdf: pdf, logger: logger}
}

// Build resolves the requested window and loads the matching students,
// newest registration first.
func (s *ReportService) Build(ctx context.Context, ownerID string, req ReportRequest) (*Report, error) {
	from, to, err := resolveWindow(req)
	if err != nil {
		return nil, err
	}
	students, err := s.repo.ListByRegistrationRange(ctx, ownerID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build report")
	}
	return &Report{
		Period:   req.Period,
		From:     from,
		To:       to,
		Total:    len(students),
		Students: students,
	}, nil
}

// RenderXLSX renders the report students as a workbook.
func (s *ReportService) RenderXLSX(report *Report) ([]byte, error) {
	payload, err := s.xlsx.Render(reportDataset(report.Students))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render workbook")
	}
	return payload, nil
}

// RenderPDF renders the report students as a printable table.
func (s *ReportService) RenderPDF(report *Report) ([]byte, error) {
	title := fmt.Sprintf("تقرير التسجيلات %s - %s",
		report.From.Format("2006-01-02"), report.To.Add(-time.Nanosecond).Format("2006-01-02"))
	payload, err := s.pdf.Render(reportDataset(report.Students), title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return payload, nil
}

// ExportDirectory renders the full (optionally filtered) directory as a
// workbook using the same column set as reports.
func (s *ReportService) ExportDirectory(students []models.Student) ([]byte, error) {
	payload, err := s.xlsx.Render(reportDataset(students))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render workbook")
	}
	return payload, nil
}

// resolveWindow turns the request into a half-open [from, to) UTC window.
func resolveWindow(req ReportRequest) (time.Time, time.Time, error) {
	switch req.Period {
	case PeriodDay:
		if req.Date.IsZero() {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "day report requires a date")
		}
		from := startOfDay(req.Date)
		return from, from.AddDate(0, 0, 1), nil
	case PeriodRange:
		if req.From.IsZero() || req.To.IsZero() {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "range report requires from and to dates")
		}
		from := startOfDay(req.From)
		to := startOfDay(req.To).AddDate(0, 0, 1)
		if !from.Before(to) {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "range start must not be after range end")
		}
		return from, to, nil
	case PeriodMonth:
		if req.Year == 0 || req.Month < time.January || req.Month > time.December {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "month report requires a year and month")
		}
		from := time.Date(req.Year, req.Month, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0), nil
	case PeriodYear:
		if req.Year == 0 {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "year report requires a year")
		}
		from := time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "unknown report period")
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// reportDataset maps students onto the Arabic export columns. Dates use
// yyyy-MM-dd; empty optional fields render as a dash.
func reportDataset(students []models.Student) export.Dataset {
	rows := make([]map[string]string, 0, len(students))
	for _, st := range students {
		rows = append(rows, map[string]string{
			"الاسم الكامل":    st.FullName,
			"الجنس":           st.Gender.Label(),
			"تاريخ الميلاد":   st.BirthDate.Format("2006-01-02"),
			"العمر":           fmt.Sprintf("%d", st.Age),
			"المستوى الدراسي": st.Level,
			"اسم الولي":       st.GuardianName,
			"رقم الهاتف 1":    orDash(st.Phone1),
			"رقم الهاتف 2":    orDash(st.Phone2),
			"مقر السكن":       st.Address,
			"رقم الصفحة":      fmt.Sprintf("%d", st.PageNumber),
			"تاريخ التسجيل":   st.RegistrationDate.Format("2006-01-02"),
			"الحالة":          st.Status.Label(),
			"الشيخ المسؤول":   orDash(st.AssignedSheikh),
			"نقاط التذكير":    fmt.Sprintf("%d", st.ReminderPoints),
			"الملاحظات":       orDash(st.Note),
		})
	}
	return export.Dataset{SheetName: "الطلاب", Headers: exportHeaders, Rows: rows}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
