package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scolarix/registrar-api/internal/service"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
	"github.com/scolarix/registrar-api/pkg/response"
)

// TransitionHandler exposes the level transition engine.
type TransitionHandler struct {
	transitions *service.TransitionService
}

// NewTransitionHandler constructs TransitionHandler.
func NewTransitionHandler(transitions *service.TransitionService) *TransitionHandler {
	return &TransitionHandler{transitions: transitions}
}

// Propose godoc
// @Summary Preview the next-year registration for an enrollment
// @Tags Transitions
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/transition [get]
func (h *TransitionHandler) Propose(c *gin.Context) {
	proposal, err := h.transitions.Propose(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal, nil)
}

// Apply godoc
// @Summary Roll an enrollment over into the target academic year
// @Tags Transitions
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.TransitionRequest true "Transition payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id}/transition [post]
func (h *TransitionHandler) Apply(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	registration, err := h.transitions.Apply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, registration)
}
