package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scolarix/registrar-api/internal/models"
)

// recomputeBalanceQuery re-derives balance_remaining from the payment rows.
// This aggregate, not an incremental counter, is the source of truth so that
// cancellations and amendments can never desynchronize balance from history.
const recomputeBalanceQuery = `UPDATE registrations
        SET balance_remaining = amount_due - COALESCE(
            (SELECT SUM(p.amount) FROM payments p WHERE p.registration_id = registrations.id AND p.cancelled = FALSE), 0),
        updated_at = $2
        WHERE id = $1`

// RegistrationRepository handles persistence of registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Create persists a new registration record.
func (r *RegistrationRepository) Create(ctx context.Context, registration *models.Registration) error {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = now
	const query = `INSERT INTO registrations (id, student_id, level_id, academic_year, amount_due, balance_remaining, status, remark, created_at, updated_at)
        VALUES (:id, :student_id, :level_id, :academic_year, :amount_due, :balance_remaining, :status, :remark, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, registration); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	const query = `SELECT id, student_id, level_id, academic_year, amount_due, balance_remaining, status, remark, created_at, updated_at
        FROM registrations WHERE id = $1`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindDetailByID returns a registration with student and level context.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.student_id, r.level_id, r.academic_year, r.amount_due, r.balance_remaining, r.status, r.remark, r.created_at, r.updated_at,
        s.full_name AS student_name, s.national_id AS student_national_id, l.name AS level_name, l.formation_type, l.grade
        FROM registrations r
        LEFT JOIN students s ON s.id = r.student_id
        LEFT JOIN academic_levels l ON l.id = r.level_id
        WHERE r.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByEnrollment looks up the registration for a (student, level, year) key.
func (r *RegistrationRepository) FindByEnrollment(ctx context.Context, studentID, levelID, year string) (*models.Registration, error) {
	const query = `SELECT id, student_id, level_id, academic_year, amount_due, balance_remaining, status, remark, created_at, updated_at
        FROM registrations WHERE student_id = $1 AND level_id = $2 AND academic_year = $3`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, studentID, levelID, year); err != nil {
		return nil, err
	}
	return &registration, nil
}

// Exists checks whether a registration already exists for the enrollment key.
func (r *RegistrationRepository) Exists(ctx context.Context, studentID, levelID, year string) (bool, error) {
	const query = `SELECT 1 FROM registrations WHERE student_id = $1 AND level_id = $2 AND academic_year = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, levelID, year); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check registration: %w", err)
	}
	return true, nil
}

// ListByStudent returns a student's registrations, most recent academic year
// first. Year labels like "2024-2025" sort correctly as strings.
func (r *RegistrationRepository) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.student_id, r.level_id, r.academic_year, r.amount_due, r.balance_remaining, r.status, r.remark, r.created_at, r.updated_at,
        s.full_name AS student_name, s.national_id AS student_national_id, l.name AS level_name, l.formation_type, l.grade
        FROM registrations r
        LEFT JOIN students s ON s.id = r.student_id
        LEFT JOIN academic_levels l ON l.id = r.level_id
        WHERE r.student_id = $1
        ORDER BY r.academic_year DESC, l.grade DESC`
	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, studentID); err != nil {
		return nil, fmt.Errorf("list student registrations: %w", err)
	}
	return registrations, nil
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations r
LEFT JOIN students s ON s.id = r.student_id
LEFT JOIN academic_levels l ON l.id = r.level_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.LevelID != "" {
		conditions = append(conditions, fmt.Sprintf("r.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("r.academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT r.id, r.student_id, r.level_id, r.academic_year, r.amount_due, r.balance_remaining, r.status, r.remark, r.created_at, r.updated_at,
        s.full_name AS student_name, s.national_id AS student_national_id, l.name AS level_name, l.formation_type, l.grade
        %s ORDER BY r.academic_year DESC, s.full_name ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// RecomputeBalance re-derives balance_remaining by summing non-cancelled
// payments. Payment mutations run this inside their own transaction; this
// standalone variant backs explicit recompute requests.
func (r *RegistrationRepository) RecomputeBalance(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, recomputeBalanceQuery, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recompute balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recompute balance result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
