package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/repository"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
)

// mockLedger backs both the payment store and the registration reader so
// tests observe the balance recompute the way the database would produce it.
type mockLedger struct {
	registration models.Registration
	payments     map[string]*models.Payment
	order        []string
	seq          int
}

func newMockLedger(amountDue int64) *mockLedger {
	return &mockLedger{
		registration: models.Registration{
			ID:               "reg-1",
			StudentID:        "s1",
			LevelID:          "lvl-1",
			AcademicYear:     "2025-2026",
			AmountDue:        amountDue,
			BalanceRemaining: amountDue,
			Status:           models.StatusPassant,
		},
		payments: make(map[string]*models.Payment),
	}
}

func (m *mockLedger) recompute() {
	var paid int64
	for _, p := range m.payments {
		if !p.Cancelled {
			paid += p.Amount
		}
	}
	m.registration.BalanceRemaining = m.registration.AmountDue - paid
}

func (m *mockLedger) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	if p, ok := m.payments[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLedger) Record(ctx context.Context, payment *models.Payment) error {
	m.seq++
	payment.ID = fmt.Sprintf("pay-%d", m.seq)
	stored := *payment
	m.payments[payment.ID] = &stored
	m.order = append(m.order, payment.ID)
	m.recompute()
	return nil
}

func (m *mockLedger) Amend(ctx context.Context, id, registrationID string, params repository.AmendPaymentParams) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Cancelled {
		return false, nil
	}
	if params.Amount != nil {
		p.Amount = *params.Amount
	}
	if params.PaidOn != nil {
		p.PaidOn = *params.PaidOn
	}
	if params.Reference != nil {
		p.Reference = *params.Reference
	}
	m.recompute()
	return true, nil
}

func (m *mockLedger) Cancel(ctx context.Context, id, registrationID string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Cancelled {
		return false, nil
	}
	p.Cancelled = true
	m.recompute()
	return true, nil
}

func (m *mockLedger) ListByRegistration(ctx context.Context, registrationID string) ([]models.Payment, error) {
	var list []models.Payment
	for _, id := range m.order {
		list = append(list, *m.payments[id])
	}
	return list, nil
}

func (m *mockLedger) ListByStudent(ctx context.Context, studentID string) ([]models.Payment, error) {
	return m.ListByRegistration(ctx, "")
}

// registrationReader side.

type mockLedgerRegistrations struct {
	ledger *mockLedger
}

func (m *mockLedgerRegistrations) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if id != m.ledger.registration.ID {
		return nil, sql.ErrNoRows
	}
	copied := m.ledger.registration
	return &copied, nil
}

func (m *mockLedgerRegistrations) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if id != m.ledger.registration.ID {
		return nil, sql.ErrNoRows
	}
	return &models.RegistrationDetail{Registration: m.ledger.registration}, nil
}

func newPaymentServiceUnderTest(amountDue int64) (*PaymentService, *mockLedger) {
	ledger := newMockLedger(amountDue)
	svc := NewPaymentService(ledger, &mockLedgerRegistrations{ledger: ledger}, validator.New(), zap.NewNop())
	return svc, ledger
}

func TestPaymentServiceRecordReducesBalance(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	payment, detail, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{
		Amount:    50000,
		PaidOn:    "2025-10-01",
		Reference: "RCPT-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), payment.Amount)
	assert.Equal(t, int64(100000), detail.BalanceRemaining)
}

func TestPaymentServiceRecordSequenceSettlesBalance(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	_, detail, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 100000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), detail.BalanceRemaining)

	_, detail, err = svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-11-01", Reference: "RCPT-002"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), detail.BalanceRemaining)
}

func TestPaymentServiceOverpaymentGoesNegative(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(100000)

	_, detail, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 120000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	assert.Equal(t, int64(-20000), detail.BalanceRemaining)
}

func TestPaymentServiceRecordRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(100000)

	for _, amount := range []int64{0, -500} {
		_, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: amount, PaidOn: "2025-10-01", Reference: "RCPT-001"})
		require.Error(t, err)
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	}
}

func TestPaymentServiceRecordRejectsBadDate(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(100000)

	_, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 100, PaidOn: "01/10/2025", Reference: "RCPT-001"})
	require.Error(t, err)
}

func TestPaymentServiceRecordUnknownRegistration(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(100000)

	_, _, err := svc.Record(context.Background(), "ghost", RecordPaymentRequest{Amount: 100, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestPaymentServiceAmendRecomputesBalance(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	payment, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)

	amount := int64(70000)
	updated, detail, err := svc.Amend(context.Background(), payment.ID, AmendPaymentRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(70000), updated.Amount)
	assert.Equal(t, int64(80000), detail.BalanceRemaining)
}

func TestPaymentServiceAmendNoFields(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	_, _, err := svc.Amend(context.Background(), "pay-1", AmendPaymentRequest{})
	require.Error(t, err)
}

func TestPaymentServiceAmendCancelledPayment(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	payment, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	_, _, err = svc.Cancel(context.Background(), payment.ID)
	require.NoError(t, err)

	amount := int64(70000)
	_, _, err = svc.Amend(context.Background(), payment.ID, AmendPaymentRequest{Amount: &amount})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestPaymentServiceCancelRestoresBalance(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	payment, detail, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	require.Equal(t, int64(100000), detail.BalanceRemaining)

	cancelled, detail, err := svc.Cancel(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, int64(150000), detail.BalanceRemaining)
}

func TestPaymentServiceCancelTwice(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	payment, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	_, _, err = svc.Cancel(context.Background(), payment.ID)
	require.NoError(t, err)

	_, _, err = svc.Cancel(context.Background(), payment.ID)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestPaymentServiceHistoryKeepsCancelledEntries(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	first, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)
	_, _, err = svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 30000, PaidOn: "2025-11-01", Reference: "RCPT-002"})
	require.NoError(t, err)
	_, _, err = svc.Cancel(context.Background(), first.ID)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Len(t, history.Payments, 2)
	assert.True(t, history.Payments[0].Cancelled)
	assert.False(t, history.Payments[1].Cancelled)
	assert.Equal(t, int64(120000), history.Registration.BalanceRemaining)
}

func TestPaymentServiceExportHistoryCSV(t *testing.T) {
	svc, _ := newPaymentServiceUnderTest(150000)

	_, _, err := svc.Record(context.Background(), "reg-1", RecordPaymentRequest{Amount: 50000, PaidOn: "2025-10-01", Reference: "RCPT-001"})
	require.NoError(t, err)

	raw, filename, err := svc.ExportHistoryCSV(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "payments-reg-1.csv", filename)
	assert.Contains(t, string(raw), "RCPT-001")
	assert.Contains(t, string(raw), "2025-10-01")
}
