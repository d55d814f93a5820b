package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/repository"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
	"github.com/scolarix/registrar-api/pkg/export"
	"github.com/scolarix/registrar-api/pkg/jobs"
	"github.com/scolarix/registrar-api/pkg/storage"
)

type receiptJobStore interface {
	Create(ctx context.Context, job *models.ReceiptJob) error
	GetByID(ctx context.Context, id string) (*models.ReceiptJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReceiptJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReceiptJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type receiptGenerator interface {
	Generate(ctx context.Context, job *models.ReceiptJob) (*ReceiptResult, error)
}

// CreateReceiptRequest asks for an asynchronous receipt render.
type CreateReceiptRequest struct {
	PaymentID *string            `json:"payment_id,omitempty"`
	Kind      models.ReceiptKind `json:"kind"`
}

// ReceiptDownload aggregates resolved download data.
type ReceiptDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// ReceiptResult is the outcome of a rendered receipt.
type ReceiptResult struct {
	URL string
}

// ReceiptService orchestrates receipt job lifecycle management.
type ReceiptService struct {
	repo          receiptJobStore
	registrations registrationReader
	payments      paymentRepository
	queue         jobDispatcher
	store         *storage.LocalStorage
	signer        *storage.SignedURLSigner
	logger        *zap.Logger
}

// NewReceiptService constructs the receipt service.
func NewReceiptService(repo receiptJobStore, registrations registrationReader, payments paymentRepository, queue jobDispatcher, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{
		repo:          repo,
		registrations: registrations,
		payments:      payments,
		queue:         queue,
		store:         store,
		signer:        signer,
		logger:        logger,
	}
}

// CreateJob validates the request, persists the job, and enqueues processing.
func (s *ReceiptService) CreateJob(ctx context.Context, registrationID string, req CreateReceiptRequest, actorID string) (*models.ReceiptJob, error) {
	if req.Kind != models.ReceiptKindPayment && req.Kind != models.ReceiptKindStatement {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported receipt kind")
	}
	if _, err := s.registrations.FindByID(ctx, registrationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if req.Kind == models.ReceiptKindPayment {
		if req.PaymentID == nil || *req.PaymentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "payment_id is required for payment receipts")
		}
		payment, err := s.payments.FindByID(ctx, *req.PaymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
		}
		if payment.RegistrationID != registrationID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "payment does not belong to this registration")
		}
		if payment.Cancelled {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot issue a receipt for a cancelled payment")
		}
	}
	job := &models.ReceiptJob{
		RegistrationID: registrationID,
		PaymentID:      req.PaymentID,
		Kind:           req.Kind,
		Status:         models.ReceiptStatusQueued,
		CreatedBy:      actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create receipt job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Kind)}); err != nil {
		status := models.ReceiptStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateReceiptJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue receipt job")
	}
	return job, nil
}

// GetStatus exposes job metadata to clients.
func (s *ReceiptService) GetStatus(ctx context.Context, id string) (*models.ReceiptJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receipt job")
	}
	return job, nil
}

// ResolveDownload validates the token and opens the stored receipt file.
func (s *ReceiptService) ResolveDownload(ctx context.Context, token string) (*ReceiptDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receipt job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReceiptStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "receipt not ready")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open receipt file")
	}
	return &ReceiptDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs, e.g. after process restart.
func (s *ReceiptService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued receipt jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Kind)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
}

// ReceiptWorker bridges queue jobs to the receipt generator.
type ReceiptWorker struct {
	repo       receiptJobStore
	generator  receiptGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReceiptWorker constructs a worker.
func NewReceiptWorker(repo receiptJobStore, generator receiptGenerator, maxRetries int, logger *zap.Logger) *ReceiptWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReceiptWorker{
		repo:       repo,
		generator:  generator,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle processes one queued receipt job.
func (w *ReceiptWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReceiptStatusProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReceiptJobParams{Status: &processing}); err != nil {
		return err
	}
	result, err := w.generator.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ReceiptStatusFailed
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReceiptJobParams{
				Status:       &failed,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job failed", "job_id", job.ID, "error", updateErr)
			}
		} else {
			queued := models.ReceiptStatusQueued
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReceiptJobParams{
				Status:       &queued,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}
	finished := models.ReceiptStatusFinished
	now := time.Now().UTC()
	url := result.URL
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReceiptJobParams{
		Status:       &finished,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// ReceiptRenderer loads ledger data, renders the PDF, stores it, and signs
// the download URL.
type ReceiptRenderer struct {
	registrations registrationReader
	payments      paymentRepository
	pdf           *export.PDFExporter
	store         *storage.LocalStorage
	signer        *storage.SignedURLSigner
	downloadPath  string
}

// NewReceiptRenderer constructs a renderer. downloadPath is the public route
// prefix that download tokens are appended to.
func NewReceiptRenderer(registrations registrationReader, payments paymentRepository, pdf *export.PDFExporter, store *storage.LocalStorage, signer *storage.SignedURLSigner, downloadPath string) *ReceiptRenderer {
	if downloadPath == "" {
		downloadPath = "/api/v1/receipts/download"
	}
	return &ReceiptRenderer{
		registrations: registrations,
		payments:      payments,
		pdf:           pdf,
		store:         store,
		signer:        signer,
		downloadPath:  downloadPath,
	}
}

// Generate renders the receipt document for a job and returns its signed URL.
func (g *ReceiptRenderer) Generate(ctx context.Context, job *models.ReceiptJob) (*ReceiptResult, error) {
	detail, err := g.registrations.FindDetailByID(ctx, job.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	var doc export.ReceiptDocument
	switch job.Kind {
	case models.ReceiptKindPayment:
		doc, err = g.paymentDocument(ctx, job, detail)
	case models.ReceiptKindStatement:
		doc, err = g.statementDocument(ctx, job, detail)
	default:
		err = fmt.Errorf("unsupported receipt kind %q", job.Kind)
	}
	if err != nil {
		return nil, err
	}
	raw, err := g.pdf.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	relPath := fmt.Sprintf("%s/%s.pdf", time.Now().UTC().Format("2006-01"), job.ID)
	if _, err := g.store.Save(relPath, raw); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}
	token, _, err := g.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, fmt.Errorf("sign receipt url: %w", err)
	}
	return &ReceiptResult{URL: fmt.Sprintf("%s/%s", g.downloadPath, token)}, nil
}

func (g *ReceiptRenderer) paymentDocument(ctx context.Context, job *models.ReceiptJob, detail *models.RegistrationDetail) (export.ReceiptDocument, error) {
	if job.PaymentID == nil || *job.PaymentID == "" {
		return export.ReceiptDocument{}, fmt.Errorf("payment receipt without payment id")
	}
	payment, err := g.payments.FindByID(ctx, *job.PaymentID)
	if err != nil {
		return export.ReceiptDocument{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.Cancelled {
		return export.ReceiptDocument{}, fmt.Errorf("payment %s is cancelled", payment.ID)
	}
	return export.ReceiptDocument{
		Title: "Tuition Payment Receipt",
		Lines: []export.ReceiptLine{
			{Label: "Receipt No", Value: job.ID},
			{Label: "Student", Value: detail.StudentName},
			{Label: "National ID", Value: detail.StudentNationalID},
			{Label: "Level", Value: detail.LevelName},
			{Label: "Academic Year", Value: detail.AcademicYear},
			{Label: "Amount Paid", Value: fmt.Sprintf("%d", payment.Amount)},
			{Label: "Paid On", Value: payment.PaidOn.Format(paymentDateLayout)},
			{Label: "Reference", Value: payment.Reference},
			{Label: "Balance Remaining", Value: fmt.Sprintf("%d", detail.BalanceRemaining)},
		},
		Footer: fmt.Sprintf("Issued %s", time.Now().UTC().Format("2006-01-02 15:04 MST")),
	}, nil
}

func (g *ReceiptRenderer) statementDocument(ctx context.Context, job *models.ReceiptJob, detail *models.RegistrationDetail) (export.ReceiptDocument, error) {
	payments, err := g.payments.ListByRegistration(ctx, job.RegistrationID)
	if err != nil {
		return export.ReceiptDocument{}, fmt.Errorf("list payments: %w", err)
	}
	doc := export.ReceiptDocument{
		Title: "Registration Statement",
		Lines: []export.ReceiptLine{
			{Label: "Student", Value: detail.StudentName},
			{Label: "National ID", Value: detail.StudentNationalID},
			{Label: "Level", Value: detail.LevelName},
			{Label: "Academic Year", Value: detail.AcademicYear},
			{Label: "Amount Due", Value: fmt.Sprintf("%d", detail.AmountDue)},
			{Label: "Balance Remaining", Value: fmt.Sprintf("%d", detail.BalanceRemaining)},
		},
		Headers: []string{"Date", "Reference", "Amount", "Status"},
		Footer:  fmt.Sprintf("Issued %s", time.Now().UTC().Format("2006-01-02 15:04 MST")),
	}
	for _, p := range payments {
		status := "valid"
		if p.Cancelled {
			status = "cancelled"
		}
		doc.Rows = append(doc.Rows, map[string]string{
			"Date":      p.PaidOn.Format(paymentDateLayout),
			"Reference": p.Reference,
			"Amount":    fmt.Sprintf("%d", p.Amount),
			"Status":    status,
		})
	}
	return doc, nil
}
