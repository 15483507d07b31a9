package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

type classService interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, bool, error)
	Get(ctx context.Context, id string) (*models.ClassDetail, error)
	Create(ctx context.Context, req service.ClassRequest) (*models.Class, error)
	Update(ctx context.Context, id string, req service.ClassRequest) (*models.Class, error)
	Deactivate(ctx context.Context, id string) error
	Roster(ctx context.Context, id string) ([]models.EnrollmentDetail, error)
}

// ClassHandler exposes the class catalog.
type ClassHandler struct {
	service classService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// List godoc
// @Summary List classes
// @Description Catalog listing; meta.cache_hit tells whether the page came from the cache
// @Tags Classes
// @Produce json
// @Param modality query string false "Filter by modality"
// @Param level query string false "Filter by level"
// @Param weekday query string false "Filter by weekday code (mon..sun)"
// @Param active query bool false "Filter by active state"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	filter := models.ClassFilter{
		Modality:  strings.ToLower(strings.TrimSpace(c.Query("modality"))),
		Level:     strings.ToLower(strings.TrimSpace(c.Query("level"))),
		Weekday:   strings.ToLower(strings.TrimSpace(c.Query("weekday"))),
		Active:    boolQuery(c, "active"),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = paging(c)

	classes, pagination, hit, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, classes, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.ClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req service.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	class, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Update godoc
// @Summary Update class
// @Description Weekdays and times cannot change while the class has current enrollments
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.ClassRequest true "Class payload"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *ClassHandler) Update(c *gin.Context) {
	var req service.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	class, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Delete godoc
// @Summary Deactivate class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster godoc
// @Summary List the current students of a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/roster [get]
func (h *ClassHandler) Roster(c *gin.Context) {
	roster, err := h.service.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}
