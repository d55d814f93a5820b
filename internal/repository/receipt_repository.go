package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scolarix/registrar-api/internal/models"
)

// ReceiptRepository persists asynchronous receipt jobs.
type ReceiptRepository struct {
	db *sqlx.DB
}

// NewReceiptRepository constructs the repository.
func NewReceiptRepository(db *sqlx.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Create persists a receipt job.
func (r *ReceiptRepository) Create(ctx context.Context, job *models.ReceiptJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ReceiptStatusQueued
	}
	const query = `INSERT INTO receipt_jobs (id, registration_id, payment_id, kind, status, result_url, error_message, created_by, created_at, finished_at)
        VALUES (:id, :registration_id, :payment_id, :kind, :status, :result_url, :error_message, :created_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create receipt job: %w", err)
	}
	return nil
}

// GetByID returns a receipt job by its ID.
func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*models.ReceiptJob, error) {
	const query = `SELECT id, registration_id, payment_id, kind, status, result_url, error_message, created_by, created_at, finished_at
        FROM receipt_jobs WHERE id = $1`
	var job models.ReceiptJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateReceiptJobParams carries the mutable fields of a receipt job.
type UpdateReceiptJobParams struct {
	Status       *models.ReceiptStatus
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the provided fields to a receipt job.
func (r *ReceiptRepository) Update(ctx context.Context, id string, params UpdateReceiptJobParams) error {
	sets := []string{}
	args := []interface{}{id}

	if params.Status != nil {
		args = append(args, *params.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.ResultURL != nil {
		args = append(args, *params.ResultURL)
		sets = append(sets, fmt.Sprintf("result_url = $%d", len(args)))
	}
	if params.ErrorMessage != nil {
		args = append(args, *params.ErrorMessage)
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if params.FinishedAt != nil {
		args = append(args, *params.FinishedAt)
		sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE receipt_jobs SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update receipt job: %w", err)
	}
	return nil
}

// ListQueued returns jobs awaiting processing, oldest first.
func (r *ReceiptRepository) ListQueued(ctx context.Context, limit int) ([]models.ReceiptJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, registration_id, payment_id, kind, status, result_url, error_message, created_by, created_at, finished_at
        FROM receipt_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var jobs []models.ReceiptJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ReceiptStatusQueued, limit); err != nil {
		return nil, fmt.Errorf("list queued receipt jobs: %w", err)
	}
	return jobs, nil
}
