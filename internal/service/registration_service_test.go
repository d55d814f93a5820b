package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
)

type mockRegistrationRepo struct {
	registrations map[string]models.Registration
	existing      map[string]bool
	created       *models.Registration
	recomputed    []string
}

func (m *mockRegistrationRepo) Create(ctx context.Context, registration *models.Registration) error {
	if m.registrations == nil {
		m.registrations = make(map[string]models.Registration)
	}
	if registration.ID == "" {
		registration.ID = "new-reg"
	}
	m.registrations[registration.ID] = *registration
	m.created = registration
	return nil
}

func (m *mockRegistrationRepo) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if r, ok := m.registrations[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if r, ok := m.registrations[id]; ok {
		return &models.RegistrationDetail{Registration: r}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindByEnrollment(ctx context.Context, studentID, levelID, year string) (*models.Registration, error) {
	for _, r := range m.registrations {
		if r.StudentID == studentID && r.LevelID == levelID && r.AcademicYear == year {
			return &r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) Exists(ctx context.Context, studentID, levelID, year string) (bool, error) {
	return m.existing[studentID+levelID+year], nil
}

func (m *mockRegistrationRepo) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	var list []models.RegistrationDetail
	for _, r := range m.registrations {
		if r.StudentID == studentID {
			list = append(list, models.RegistrationDetail{Registration: r})
		}
	}
	return list, nil
}

func (m *mockRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	return nil, 0, nil
}

func (m *mockRegistrationRepo) RecomputeBalance(ctx context.Context, id string) error {
	if _, ok := m.registrations[id]; !ok {
		return sql.ErrNoRows
	}
	m.recomputed = append(m.recomputed, id)
	return nil
}

type mockStudentDirectory struct {
	students map[string]*models.StudentDetail
}

func (m *mockStudentDirectory) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockLevelReader struct{}

func (m *mockLevelReader) FindByID(ctx context.Context, id string) (*models.AcademicLevel, error) {
	if id == "missing" {
		return nil, sql.ErrNoRows
	}
	return &models.AcademicLevel{ID: id, FormationType: "GENERAL", Grade: 1}, nil
}

func activeStudents() *mockStudentDirectory {
	return &mockStudentDirectory{students: map[string]*models.StudentDetail{
		"s1": {Student: models.Student{ID: "s1", FullName: "Awa Diop", Active: true}},
	}}
}

func TestRegistrationServiceCreate(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := NewRegistrationService(repo, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	detail, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s1",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		AmountDue:    150000,
		Status:       models.StatusPassant,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.created)
	assert.Equal(t, int64(150000), detail.AmountDue)
	assert.Equal(t, int64(150000), detail.BalanceRemaining)
}

func TestRegistrationServiceCreateZeroFee(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := NewRegistrationService(repo, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	detail, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s1",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		AmountDue:    0,
		Status:       models.StatusPassant,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), detail.BalanceRemaining)
}

func TestRegistrationServiceCreateNegativeFee(t *testing.T) {
	svc := NewRegistrationService(&mockRegistrationRepo{}, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s1",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		AmountDue:    -1,
		Status:       models.StatusPassant,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRegistrationServiceCreateDuplicate(t *testing.T) {
	repo := &mockRegistrationRepo{existing: map[string]bool{"s1" + "lvl-1" + "2025-2026": true}}
	svc := NewRegistrationService(repo, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s1",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		AmountDue:    100,
		Status:       models.StatusPassant,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRegistrationServiceCreateInactiveStudent(t *testing.T) {
	students := &mockStudentDirectory{students: map[string]*models.StudentDetail{
		"s2": {Student: models.Student{ID: "s2", Active: false}},
	}}
	svc := NewRegistrationService(&mockRegistrationRepo{}, students, &mockLevelReader{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s2",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		Status:       models.StatusPassant,
	})
	require.Error(t, err)
}

func TestRegistrationServiceCreateUnknownStatus(t *testing.T) {
	svc := NewRegistrationService(&mockRegistrationRepo{}, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateRegistrationRequest{
		StudentID:    "s1",
		LevelID:      "lvl-1",
		AcademicYear: "2025-2026",
		Status:       "GRADUE",
	})
	require.Error(t, err)
}

func TestRegistrationServiceGetNotFound(t *testing.T) {
	svc := NewRegistrationService(&mockRegistrationRepo{}, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRegistrationServiceRecomputeBalance(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"r1": {ID: "r1", StudentID: "s1", AmountDue: 100, BalanceRemaining: 100},
	}}
	svc := NewRegistrationService(repo, activeStudents(), &mockLevelReader{}, validator.New(), zap.NewNop())

	detail, err := svc.RecomputeBalance(context.Background(), "r1")
	require.NoError(t, err)
	assert.Contains(t, repo.recomputed, "r1")
	assert.Equal(t, "r1", detail.ID)
}
