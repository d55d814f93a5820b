package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scolarix/registrar-api/internal/models"
)

// PaymentRepository handles persistence of payments. Every mutation runs in
// one transaction together with the owning registration's balance recompute,
// so either both change or neither does.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	const query = `SELECT id, registration_id, amount, paid_on, reference, cancelled, cancelled_at, created_at, updated_at
        FROM payments WHERE id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Record inserts a payment and recomputes the registration balance atomically.
func (r *PaymentRepository) Record(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record payment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO payments (id, registration_id, amount, paid_on, reference, cancelled, created_at, updated_at)
        VALUES (:id, :registration_id, :amount, :paid_on, :reference, :cancelled, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, payment); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, recomputeBalanceQuery, payment.RegistrationID, now); err != nil {
		return fmt.Errorf("recompute balance after record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record payment: %w", err)
	}
	return nil
}

// AmendPaymentParams carries the optional fields of an amendment.
type AmendPaymentParams struct {
	Amount    *int64
	PaidOn    *time.Time
	Reference *string
}

// Amend updates amount/date/reference on a non-cancelled payment and
// recomputes the balance. Returns false when the payment was not updated
// because it is already cancelled.
func (r *PaymentRepository) Amend(ctx context.Context, id, registrationID string, params AmendPaymentParams) (bool, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin amend payment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE payments
        SET amount = COALESCE($2, amount),
            paid_on = COALESCE($3, paid_on),
            reference = COALESCE($4, reference),
            updated_at = $5
        WHERE id = $1 AND cancelled = FALSE`
	res, err := tx.ExecContext(ctx, update, id, params.Amount, params.PaidOn, params.Reference, now)
	if err != nil {
		return false, fmt.Errorf("amend payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("amend payment result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, recomputeBalanceQuery, registrationID, now); err != nil {
		return false, fmt.Errorf("recompute balance after amend: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit amend payment: %w", err)
	}
	return true, nil
}

// Cancel flips the cancelled flag and recomputes the balance. Returns false
// when the payment was already cancelled; the flag never reverts.
func (r *PaymentRepository) Cancel(ctx context.Context, id, registrationID string) (bool, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cancel payment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE payments SET cancelled = TRUE, cancelled_at = $2, updated_at = $2 WHERE id = $1 AND cancelled = FALSE`
	res, err := tx.ExecContext(ctx, update, id, now)
	if err != nil {
		return false, fmt.Errorf("cancel payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel payment result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, recomputeBalanceQuery, registrationID, now); err != nil {
		return false, fmt.Errorf("recompute balance after cancel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cancel payment: %w", err)
	}
	return true, nil
}

// ListByRegistration returns the full payment history for a registration,
// date ascending. Cancelled rows are never filtered out.
func (r *PaymentRepository) ListByRegistration(ctx context.Context, registrationID string) ([]models.Payment, error) {
	const query = `SELECT id, registration_id, amount, paid_on, reference, cancelled, cancelled_at, created_at, updated_at
        FROM payments WHERE registration_id = $1 ORDER BY paid_on ASC, created_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, registrationID); err != nil {
		return nil, fmt.Errorf("list registration payments: %w", err)
	}
	return payments, nil
}

// ListByStudent returns all payments across a student's registrations,
// date ascending.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Payment, error) {
	const query = `SELECT p.id, p.registration_id, p.amount, p.paid_on, p.reference, p.cancelled, p.cancelled_at, p.created_at, p.updated_at
        FROM payments p
        JOIN registrations r ON r.id = p.registration_id
        WHERE r.student_id = $1 ORDER BY p.paid_on ASC, p.created_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student payments: %w", err)
	}
	return payments, nil
}
