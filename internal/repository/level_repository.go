package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/scolarix/registrar-api/internal/models"
)

// LevelRepository reads the academic level catalog. Catalog rows are
// reference data maintained by the formation system; this API never writes
// them.
type LevelRepository struct {
	db *sqlx.DB
}

// NewLevelRepository constructs the repository.
func NewLevelRepository(db *sqlx.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

// FindByID returns a level by its ID.
func (r *LevelRepository) FindByID(ctx context.Context, id string) (*models.AcademicLevel, error) {
	const query = `SELECT id, name, formation_type, grade, created_at, updated_at FROM academic_levels WHERE id = $1`
	var level models.AcademicLevel
	if err := r.db.GetContext(ctx, &level, query, id); err != nil {
		return nil, err
	}
	return &level, nil
}

// FindNext returns the level at grade + 1 within the same formation type.
// sql.ErrNoRows means the given grade is terminal in its track.
func (r *LevelRepository) FindNext(ctx context.Context, formationType string, grade int) (*models.AcademicLevel, error) {
	const query = `SELECT id, name, formation_type, grade, created_at, updated_at
        FROM academic_levels WHERE formation_type = $1 AND grade = $2`
	var level models.AcademicLevel
	if err := r.db.GetContext(ctx, &level, query, formationType, grade+1); err != nil {
		return nil, err
	}
	return &level, nil
}

// List returns catalog levels filtered by the provided criteria, ordered by
// formation type then grade.
func (r *LevelRepository) List(ctx context.Context, filter models.LevelFilter) ([]models.AcademicLevel, int, error) {
	base := `FROM academic_levels`
	var conditions []string
	var args []interface{}

	if filter.FormationType != "" {
		conditions = append(conditions, fmt.Sprintf("formation_type = $%d", len(args)+1))
		args = append(args, filter.FormationType)
	}
	if filter.Grade != nil {
		conditions = append(conditions, fmt.Sprintf("grade = $%d", len(args)+1))
		args = append(args, *filter.Grade)
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
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, name, formation_type, grade, created_at, updated_at
        %s ORDER BY formation_type ASC, grade ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var levels []models.AcademicLevel
	if err := r.db.SelectContext(ctx, &levels, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list levels: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count levels: %w", err)
	}
	return levels, total, nil
}
