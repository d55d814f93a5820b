package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/repository"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
	"github.com/scolarix/registrar-api/pkg/export"
)

// paymentDateLayout is the calendar-date wire format for payments.
const paymentDateLayout = "2006-01-02"

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	Record(ctx context.Context, payment *models.Payment) error
	Amend(ctx context.Context, id, registrationID string, params repository.AmendPaymentParams) (bool, error)
	Cancel(ctx context.Context, id, registrationID string) (bool, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]models.Payment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Payment, error)
}

type registrationReader interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
}

// registrationLocks serializes payment mutations per registration so two
// concurrent recomputes can never interleave on the same ledger. Operations
// on different registrations proceed in parallel.
type registrationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRegistrationLocks() *registrationLocks {
	return &registrationLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *registrationLocks) forRegistration(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// RecordPaymentRequest describes a tuition payment to record.
type RecordPaymentRequest struct {
	Amount    int64  `json:"amount"`
	PaidOn    string `json:"paid_on" validate:"required"`
	Reference string `json:"reference" validate:"required"`
}

// AmendPaymentRequest carries optional corrections to a payment.
type AmendPaymentRequest struct {
	Amount    *int64  `json:"amount,omitempty"`
	PaidOn    *string `json:"paid_on,omitempty"`
	Reference *string `json:"reference,omitempty"`
}

// PaymentHistory bundles a registration and its complete payment log.
type PaymentHistory struct {
	Registration *models.RegistrationDetail `json:"registration"`
	Payments     []models.Payment           `json:"payments"`
}

// PaymentService is the tuition ledger: it records, amends, and cancels
// payments against registrations. Payments are never deleted; cancellation
// is a compensating flag flip that keeps the audit history intact.
type PaymentService struct {
	repo          paymentRepository
	registrations registrationReader
	locks         *registrationLocks
	csv           *export.CSVExporter
	validator     *validator.Validate
	logger        *zap.Logger
	metrics       *MetricsService
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, registrations registrationReader, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:          repo,
		registrations: registrations,
		locks:         newRegistrationLocks(),
		csv:           export.NewCSVExporter(),
		validator:     validate,
		logger:        logger,
	}
}

// InstrumentWith registers the metrics sink for ledger operation counters.
func (s *PaymentService) InstrumentWith(m *MetricsService) {
	s.metrics = m
}

// Record registers a payment against a registration and returns the payment
// together with the recomputed registration. Overpayment is accepted: the
// resulting negative balance is surfaced, never clamped.
func (s *PaymentService) Record(ctx context.Context, registrationID string, req RecordPaymentRequest) (_ *models.Payment, _ *models.RegistrationDetail, err error) {
	defer func() { s.metrics.CountPaymentOperation("record", err == nil) }()
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount <= 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	paidOn, err := time.Parse(paymentDateLayout, req.PaidOn)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "payment date must be formatted YYYY-MM-DD")
	}
	registration, err := s.registrations.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	lock := s.locks.forRegistration(registration.ID)
	lock.Lock()
	defer lock.Unlock()

	payment := &models.Payment{
		RegistrationID: registration.ID,
		Amount:         req.Amount,
		PaidOn:         paidOn,
		Reference:      req.Reference,
		Cancelled:      false,
	}
	if err := s.repo.Record(ctx, payment); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	detail, err := s.registrations.FindDetailByID(ctx, registration.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	if detail.BalanceRemaining < 0 {
		s.logger.Warn("registration overpaid",
			zap.String("registration_id", registration.ID),
			zap.Int64("balance_remaining", detail.BalanceRemaining))
	}
	return payment, detail, nil
}

// Amend corrects the amount, date, or reference of a non-cancelled payment.
// Cancelled payments are immutable history.
func (s *PaymentService) Amend(ctx context.Context, paymentID string, req AmendPaymentRequest) (_ *models.Payment, _ *models.RegistrationDetail, err error) {
	defer func() { s.metrics.CountPaymentOperation("amend", err == nil) }()
	if req.Amount == nil && req.PaidOn == nil && req.Reference == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "no fields to amend")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	params := repository.AmendPaymentParams{Amount: req.Amount, Reference: req.Reference}
	if req.PaidOn != nil {
		paidOn, err := time.Parse(paymentDateLayout, *req.PaidOn)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "payment date must be formatted YYYY-MM-DD")
		}
		params.PaidOn = &paidOn
	}

	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.Cancelled {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "payment already cancelled")
	}

	lock := s.locks.forRegistration(payment.RegistrationID)
	lock.Lock()
	defer lock.Unlock()

	ok, err := s.repo.Amend(ctx, paymentID, payment.RegistrationID, params)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to amend payment")
	}
	if !ok {
		// Lost a race against a concurrent cancel.
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "payment already cancelled")
	}

	updated, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	detail, err := s.registrations.FindDetailByID(ctx, payment.RegistrationID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return updated, detail, nil
}

// Cancel flips the cancelled flag, restoring the balance. A second cancel of
// the same payment fails so duplicate attempts surface instead of silently
// succeeding.
func (s *PaymentService) Cancel(ctx context.Context, paymentID string) (_ *models.Payment, _ *models.RegistrationDetail, err error) {
	defer func() { s.metrics.CountPaymentOperation("cancel", err == nil) }()
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.Cancelled {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "payment already cancelled")
	}

	lock := s.locks.forRegistration(payment.RegistrationID)
	lock.Lock()
	defer lock.Unlock()

	ok, err := s.repo.Cancel(ctx, paymentID, payment.RegistrationID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel payment")
	}
	if !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "payment already cancelled")
	}

	cancelled, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	detail, err := s.registrations.FindDetailByID(ctx, payment.RegistrationID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return cancelled, detail, nil
}

// History returns the full payment log for a registration, date ascending.
// Cancelled entries stay in the sequence, marked by their flag.
func (s *PaymentService) History(ctx context.Context, registrationID string) (*PaymentHistory, error) {
	detail, err := s.registrations.FindDetailByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	payments, err := s.repo.ListByRegistration(ctx, registrationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return &PaymentHistory{Registration: detail, Payments: payments}, nil
}

// HistoryForStudent returns every payment across a student's registrations.
func (s *PaymentService) HistoryForStudent(ctx context.Context, studentID string) ([]models.Payment, error) {
	payments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// ExportHistoryCSV renders a registration's payment history for
// reconciliation against bank bordereaux.
func (s *PaymentService) ExportHistoryCSV(ctx context.Context, registrationID string) ([]byte, string, error) {
	history, err := s.History(ctx, registrationID)
	if err != nil {
		return nil, "", err
	}
	dataset := export.Dataset{
		Headers: []string{"date", "reference", "amount", "cancelled"},
	}
	for _, p := range history.Payments {
		dataset.AppendRow(map[string]string{
			"date":      p.PaidOn.Format(paymentDateLayout),
			"reference": p.Reference,
			"amount":    fmt.Sprintf("%d", p.Amount),
			"cancelled": fmt.Sprintf("%t", p.Cancelled),
		})
	}
	raw, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export payment history")
	}
	filename := fmt.Sprintf("payments-%s.csv", registrationID)
	return raw, filename, nil
}
