package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scolarix/registrar-api/internal/service"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
	"github.com/scolarix/registrar-api/pkg/response"
)

// PaymentHandler exposes the tuition ledger endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// paymentMutationResponse bundles the mutated payment with the registration's
// recomputed balance so clients never need a follow-up read.
type paymentMutationResponse struct {
	Payment      interface{} `json:"payment"`
	Registration interface{} `json:"registration"`
}

// Record godoc
// @Summary Record a tuition payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/payments [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, registration, err := h.payments.Record(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, paymentMutationResponse{Payment: payment, Registration: registration})
}

// History godoc
// @Summary Payment history for a registration
// @Tags Payments
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/payments [get]
func (h *PaymentHandler) History(c *gin.Context) {
	history, err := h.payments.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// ExportCSV godoc
// @Summary Export payment history as CSV
// @Tags Payments
// @Produce text/csv
// @Param id path string true "Registration ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/payments/export [get]
func (h *PaymentHandler) ExportCSV(c *gin.Context) {
	raw, filename, err := h.payments.ExportHistoryCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Data(http.StatusOK, "text/csv", raw)
}

// Amend godoc
// @Summary Amend a recorded payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.AmendPaymentRequest true "Amendment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id} [patch]
func (h *PaymentHandler) Amend(c *gin.Context) {
	var req service.AmendPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, registration, err := h.payments.Amend(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paymentMutationResponse{Payment: payment, Registration: registration}, nil)
}

// Cancel godoc
// @Summary Cancel a payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/cancel [post]
func (h *PaymentHandler) Cancel(c *gin.Context) {
	payment, registration, err := h.payments.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paymentMutationResponse{Payment: payment, Registration: registration}, nil)
}
