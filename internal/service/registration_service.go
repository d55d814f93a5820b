package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
)

type registrationRepository interface {
	Create(ctx context.Context, registration *models.Registration) error
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	FindByEnrollment(ctx context.Context, studentID, levelID, year string) (*models.Registration, error)
	Exists(ctx context.Context, studentID, levelID, year string) (bool, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	RecomputeBalance(ctx context.Context, id string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type levelReader interface {
	FindByID(ctx context.Context, id string) (*models.AcademicLevel, error)
}

// CreateRegistrationRequest describes an enrollment creation payload.
type CreateRegistrationRequest struct {
	StudentID    string                    `json:"student_id" validate:"required"`
	LevelID      string                    `json:"level_id" validate:"required"`
	AcademicYear string                    `json:"academic_year" validate:"required"`
	AmountDue    int64                     `json:"amount_due"`
	Status       models.RegistrationStatus `json:"status" validate:"required"`
	Remark       models.Remark             `json:"remark"`
}

// RegistrationService is the registry of enrollment records: it creates and
// reads registrations and owns the derived balance.
type RegistrationService struct {
	repo      registrationRepository
	students  studentReader
	levels    levelReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationRepository, students studentReader, levels levelReader, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{repo: repo, students: students, levels: levels, validator: validate, logger: logger}
}

// Create opens a new registration with a fresh balance and zero payments.
func (s *RegistrationService) Create(ctx context.Context, req CreateRegistrationRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if req.AmountDue < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount due cannot be negative")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown registration status")
	}
	if !req.Remark.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown remark")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	exists, err := s.repo.Exists(ctx, req.StudentID, req.LevelID, req.AcademicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student already registered for this level and year")
	}
	registration := &models.Registration{
		StudentID:        req.StudentID,
		LevelID:          req.LevelID,
		AcademicYear:     req.AcademicYear,
		AmountDue:        req.AmountDue,
		BalanceRemaining: req.AmountDue,
		Status:           req.Status,
		Remark:           req.Remark,
	}
	if err := s.repo.Create(ctx, registration); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}
	detail, err := s.repo.FindDetailByID(ctx, registration.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

// Get returns a registration with student and level context.
func (s *RegistrationService) Get(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

// GetByEnrollment looks up the registration for a (student, level, year) key.
func (s *RegistrationService) GetByEnrollment(ctx context.Context, studentID, levelID, year string) (*models.Registration, error) {
	registration, err := s.repo.FindByEnrollment(ctx, studentID, levelID, year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return registration, nil
}

// ListForStudent returns a student's registrations, most recent year first.
func (s *RegistrationService) ListForStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	registrations, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return registrations, nil
}

// List returns registrations with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return registrations, pagination, nil
}

// RecomputeBalance re-derives the balance from the payment rows.
func (s *RegistrationService) RecomputeBalance(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if err := s.repo.RecomputeBalance(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recompute balance")
	}
	return s.Get(ctx, id)
}
