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

type transitionRegistrationStore interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	Exists(ctx context.Context, studentID, levelID, year string) (bool, error)
	Create(ctx context.Context, registration *models.Registration) error
}

type nextLevelResolver interface {
	NextLevel(ctx context.Context, formationType string, grade int) (*models.AcademicLevel, error)
}

// TransitionRequest asks to roll a registration over into a new academic
// year. Status selects the rule: Passant advances one grade within the
// track, Redoublant repeats the level, Suspendu never rolls over
// automatically. When Status is empty the source registration's status is
// used.
type TransitionRequest struct {
	TargetYear string                    `json:"target_year" validate:"required"`
	Status     models.RegistrationStatus `json:"status"`
	Remark     models.Remark             `json:"remark"`
	AmountDue  int64                     `json:"amount_due"`
}

// TransitionProposal previews the outcome of a transition for the operator.
type TransitionProposal struct {
	Registration *models.RegistrationDetail `json:"registration"`
	NextLevel    *models.AcademicLevel      `json:"next_level,omitempty"`
	Terminal     bool                       `json:"terminal"`
}

// TransitionService is the level transition engine. It only ever creates new
// registrations; past years are never mutated, preserving the student's full
// year-by-year history.
type TransitionService struct {
	registrations transitionRegistrationStore
	catalog       nextLevelResolver
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewTransitionService constructs TransitionService.
func NewTransitionService(registrations transitionRegistrationStore, catalog nextLevelResolver, validate *validator.Validate, logger *zap.Logger) *TransitionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionService{registrations: registrations, catalog: catalog, validator: validate, logger: logger}
}

// Propose computes the next level for a registration without applying
// anything, for display before the operator confirms.
func (s *TransitionService) Propose(ctx context.Context, registrationID string) (*TransitionProposal, error) {
	current, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	proposal := &TransitionProposal{Registration: current}
	next, err := s.catalog.NextLevel(ctx, current.FormationType, current.Grade)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrTerminalLevel.Code {
			proposal.Terminal = true
			return proposal, nil
		}
		return nil, err
	}
	proposal.NextLevel = next
	return proposal, nil
}

// Apply validates and executes a transition, opening a new registration for
// the target year with a fresh balance.
func (s *TransitionService) Apply(ctx context.Context, registrationID string, req TransitionRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "new academic year label is required")
	}
	if req.AmountDue < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount due cannot be negative")
	}
	if !req.Remark.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown remark")
	}

	current, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if req.TargetYear == current.AcademicYear {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target year must differ from the current academic year")
	}

	status := req.Status
	if status == "" {
		status = current.Status
	}
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown registration status")
	}

	var targetLevelID string
	switch status {
	case models.StatusPassant:
		next, err := s.catalog.NextLevel(ctx, current.FormationType, current.Grade)
		if err != nil {
			return nil, err
		}
		targetLevelID = next.ID
	case models.StatusRedoublant:
		targetLevelID = current.LevelID
	case models.StatusSuspendu:
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "suspended enrollment does not roll over; re-register the student manually")
	}

	exists, err := s.registrations.Exists(ctx, current.StudentID, targetLevelID, req.TargetYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate transition")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student already registered for the target level and year")
	}

	registration := &models.Registration{
		StudentID:        current.StudentID,
		LevelID:          targetLevelID,
		AcademicYear:     req.TargetYear,
		AmountDue:        req.AmountDue,
		BalanceRemaining: req.AmountDue,
		Status:           status,
		Remark:           req.Remark,
	}
	if err := s.registrations.Create(ctx, registration); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}

	s.logger.Info("level transition applied",
		zap.String("student_id", current.StudentID),
		zap.String("from_level", current.LevelID),
		zap.String("to_level", targetLevelID),
		zap.String("target_year", req.TargetYear),
		zap.String("status", string(status)))

	detail, err := s.registrations.FindDetailByID(ctx, registration.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

func (s *TransitionService) loadRegistration(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	current, err := s.registrations.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return current, nil
}
