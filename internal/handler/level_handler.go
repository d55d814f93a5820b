package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/service"
	"github.com/scolarix/registrar-api/pkg/response"
)

// LevelHandler exposes the academic level catalog.
type LevelHandler struct {
	catalog *service.CatalogService
}

// NewLevelHandler constructs LevelHandler.
func NewLevelHandler(catalog *service.CatalogService) *LevelHandler {
	return &LevelHandler{catalog: catalog}
}

// List godoc
// @Summary List academic levels
// @Tags Levels
// @Produce json
// @Param formationType query string false "Filter by formation track"
// @Param grade query int false "Filter by grade ordinal"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /levels [get]
func (h *LevelHandler) List(c *gin.Context) {
	var filter models.LevelFilter
	filter.FormationType = strings.ToUpper(c.Query("formationType"))
	if raw := c.Query("grade"); raw != "" {
		if grade, err := strconv.Atoi(raw); err == nil {
			filter.Grade = &grade
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	levels, pagination, err := h.catalog.ListLevels(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, levels, pagination)
}

// Get godoc
// @Summary Academic level detail
// @Tags Levels
// @Produce json
// @Param id path string true "Level ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /levels/{id} [get]
func (h *LevelHandler) Get(c *gin.Context) {
	level, err := h.catalog.GetLevel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, level, nil)
}
