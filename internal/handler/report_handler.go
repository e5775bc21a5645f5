package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/al-shafii/registry-api/internal/service"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/response"
)

// ReportHandler exposes registration reports and directory exports.
type ReportHandler struct {
	reports   *service.ReportService
	directory *service.DirectoryService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports *service.ReportService, directory *service.DirectoryService) *ReportHandler {
	return &ReportHandler{reports: reports, directory: directory}
}

// Build godoc
// @Summary Build a registration report for a day, range, month or year
// @Tags Reports
// @Produce json
// @Param period query string true "day, range, month or year"
// @Param date query string false "yyyy-MM-dd, for day reports"
// @Param from query string false "yyyy-MM-dd, for range reports"
// @Param to query string false "yyyy-MM-dd, for range reports"
// @Param year query int false "for month and year reports"
// @Param month query int false "1-12, for month reports"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) Build(c *gin.Context) {
	req, err := reportRequestFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.reports.Build(c.Request.Context(), ownerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Export a registration report as xlsx or pdf
// @Tags Reports
// @Produce application/octet-stream
// @Param period query string true "day, range, month or year"
// @Param format query string false "xlsx (default) or pdf"
// @Success 200
// @Router /reports/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	req, err := reportRequestFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.reports.Build(c.Request.Context(), ownerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	switch c.DefaultQuery("format", "xlsx") {
	case "xlsx":
		payload, err := h.reports.RenderXLSX(report)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="report.xlsx"`)
		c.Data(http.StatusOK, xlsxContentType, payload)
	case "pdf":
		payload, err := h.reports.RenderPDF(report)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="report.pdf"`)
		c.Data(http.StatusOK, "application/pdf", payload)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be xlsx or pdf"))
	}
}

// ExportDirectory godoc
// @Summary Export the filtered directory as a workbook
// @Tags Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200
// @Router /students/export [get]
func (h *ReportHandler) ExportDirectory(c *gin.Context) {
	students, err := h.directory.List(c.Request.Context(), ownerFromContext(c), filterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := h.reports.ExportDirectory(students)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="students.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, payload)
}

func reportRequestFromQuery(c *gin.Context) (service.ReportRequest, error) {
	req := service.ReportRequest{Period: service.ReportPeriod(c.Query("period"))}

	parse := func(name string) (time.Time, error) {
		raw := c.Query(name)
		if raw == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" must be yyyy-MM-dd")
		}
		return t, nil
	}

	var err error
	if req.Date, err = parse("date"); err != nil {
		return req, err
	}
	if req.From, err = parse("from"); err != nil {
		return req, err
	}
	if req.To, err = parse("to"); err != nil {
		return req, err
	}
	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "year must be a number")
		}
		req.Year = year
	}
	if raw := c.Query("month"); raw != "" {
		month, err := strconv.Atoi(raw)
		if err != nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "month must be a number")
		}
		req.Month = time.Month(month)
	}
	return req, nil
}
