package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/internal/service"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
	"github.com/al-shafii/registry-api/pkg/response"
)

// StudentHandler exposes the directory endpoints.
type StudentHandler struct {
	directory *service.DirectoryService
	points    config.PointsConfig
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(directory *service.DirectoryService, points config.PointsConfig) *StudentHandler {
	return &StudentHandler{directory: directory, points: points}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param levels query string false "Comma-separated grade levels"
// @Param statuses query string false "Comma-separated statuses"
// @Param gender query string false "Gender slug"
// @Param sheikh query string false "Assigned sheikh"
// @Param search query string false "Search by name, guardian or page number"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := filterFromQuery(c)
	students, err := h.directory.List(c.Request.Context(), ownerFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.directory.Get(c.Request.Context(), ownerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// FindOne godoc
// @Summary Find one student by exact name or phone
// @Tags Students
// @Produce json
// @Param q query string true "Full name or phone1"
// @Success 200 {object} response.Envelope
// @Router /students/search [get]
func (h *StudentHandler) FindOne(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "query parameter q is required"))
		return
	}
	student, err := h.directory.FindOne(c.Request.Context(), ownerFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Register a student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.directory.Register(c.Request.Context(), ownerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student fields
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.StudentPatch true "Fields to merge"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [patch]
func (h *StudentHandler) Update(c *gin.Context) {
	var patch models.StudentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	deriveAgeFields(&patch, time.Now())

	student, err := h.directory.Update(c.Request.Context(), ownerFromContext(c), c.Param("id"), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// BulkUpdate godoc
// @Summary Apply field updates to many students at once
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body []models.BulkPatch true "Per-student patches"
// @Success 204
// @Router /students/bulk [patch]
func (h *StudentHandler) BulkUpdate(c *gin.Context) {
	var patches []models.BulkPatch
	if err := c.ShouldBindJSON(&patches); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	for i := range patches {
		deriveAgeFields(&patches[i].Patch, time.Now())
	}
	if err := h.directory.BulkUpdate(c.Request.Context(), ownerFromContext(c), patches); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a student permanently
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.directory.Delete(c.Request.Context(), ownerFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddPoints godoc
// @Summary Add attendance reminder points to a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/points [post]
func (h *StudentHandler) AddPoints(c *gin.Context) {
	total, err := h.directory.AddPoints(c.Request.Context(), ownerFromContext(c), c.Param("id"), h.points.AttendanceIncrement)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"reminder_points": total}, nil)
}

func filterFromQuery(c *gin.Context) models.StudentFilter {
	var filter models.StudentFilter
	if levels := strings.TrimSpace(c.Query("levels")); levels != "" {
		for _, level := range strings.Split(levels, ",") {
			if trimmed := strings.TrimSpace(level); trimmed != "" {
				filter.Levels = append(filter.Levels, trimmed)
			}
		}
	}
	if statuses := strings.TrimSpace(c.Query("statuses")); statuses != "" {
		for _, raw := range strings.Split(statuses, ",") {
			if status, ok := models.ParseStatus(strings.TrimSpace(raw)); ok {
				filter.Statuses = append(filter.Statuses, status)
			}
		}
	}
	if gender, ok := models.ParseGender(strings.TrimSpace(c.Query("gender"))); ok {
		filter.Gender = gender
	}
	filter.Sheikh = strings.TrimSpace(c.Query("sheikh"))
	filter.Search = strings.TrimSpace(c.Query("search"))
	return filter
}

// deriveAgeFields recomputes the cached age fields when a patch changes
// the birth date without supplying them.
func deriveAgeFields(patch *models.StudentPatch, now time.Time) {
	if patch.BirthDate == nil || patch.Age != nil {
		return
	}
	age := models.CalculateAge(*patch.BirthDate, now)
	group := models.AgeGroupFor(age)
	patch.Age = &age
	patch.AgeGroup = &group
}
