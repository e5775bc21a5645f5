package handler

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/al-shafii/registry-api/internal/service"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ImportHandler exposes the spreadsheet import endpoints.
type ImportHandler struct {
	imports *service.ImportService
	metrics *service.MetricsService
}

// NewImportHandler constructs ImportHandler.
func NewImportHandler(imports *service.ImportService, metrics *service.MetricsService) *ImportHandler {
	return &ImportHandler{imports: imports, metrics: metrics}
}

// Preview godoc
// @Summary Validate a workbook without committing it
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "XLSX workbook"
// @Success 200 {object} response.Envelope
// @Router /imports/preview [post]
func (h *ImportHandler) Preview(c *gin.Context) {
	file, err := h.openUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	preview, err := h.imports.Preview(c.Request.Context(), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Commit godoc
// @Summary Import a workbook, all rows or none
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "XLSX workbook"
// @Success 201 {object} response.Envelope
// @Router /imports [post]
func (h *ImportHandler) Commit(c *gin.Context) {
	file, err := h.openUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	students, err := h.imports.Commit(c.Request.Context(), ownerFromContext(c), file)
	if err != nil {
		h.metrics.RecordImport(false, 0)
		response.Error(c, err)
		return
	}
	h.metrics.RecordImport(true, len(students))
	response.Created(c, gin.H{"total": len(students), "students": students})
}

// Template godoc
// @Summary Download the blank import workbook
// @Tags Imports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200
// @Router /imports/template [get]
func (h *ImportHandler) Template(c *gin.Context) {
	payload, err := h.imports.Template()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="students_template.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, payload)
}

func (h *ImportHandler) openUpload(c *gin.Context) (multipart.File, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "multipart field 'file' is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to open upload")
	}
	return file, nil
}
