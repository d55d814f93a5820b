package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/scolarix/registrar-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func registrationColumns() []string {
	return []string{"id", "student_id", "level_id", "academic_year", "amount_due", "balance_remaining", "status", "remark", "created_at", "updated_at"}
}

func TestRegistrationRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(registrationColumns()).
		AddRow("reg-1", "stu-1", "lvl-1", "2025-2026", int64(150000), int64(100000), models.StatusPassant, models.RemarkNone, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, level_id, academic_year, amount_due, balance_remaining, status, remark, created_at, updated_at")).
		WithArgs("reg-1").
		WillReturnRows(rows)

	registration, err := repo.FindByID(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Equal(t, int64(100000), registration.BalanceRemaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	registration := &models.Registration{
		StudentID:        "stu-1",
		LevelID:          "lvl-1",
		AcademicYear:     "2025-2026",
		AmountDue:        150000,
		BalanceRemaining: 150000,
		Status:           models.StatusPassant,
	}
	require.NoError(t, repo.Create(context.Background(), registration))
	require.NotEmpty(t, registration.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registrations")).
		WithArgs("stu-1", "lvl-1", "2025-2026").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.Exists(context.Background(), "stu-1", "lvl-1", "2025-2026")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryExistsNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registrations")).
		WithArgs("stu-1", "lvl-1", "2025-2026").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.Exists(context.Background(), "stu-1", "lvl-1", "2025-2026")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRecomputeBalance(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecomputeBalance(context.Background(), "reg-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRecomputeBalanceUnknownID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecomputeBalance(context.Background(), "ghost")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
