package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/repository"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
	"github.com/scolarix/registrar-api/pkg/jobs"
)

type mockReceiptStore struct {
	jobs    map[string]*models.ReceiptJob
	seq     int
	updates []repository.UpdateReceiptJobParams
}

func (m *mockReceiptStore) Create(ctx context.Context, job *models.ReceiptJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ReceiptJob)
	}
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockReceiptStore) GetByID(ctx context.Context, id string) (*models.ReceiptJob, error) {
	if j, ok := m.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReceiptStore) Update(ctx context.Context, id string, params repository.UpdateReceiptJobParams) error {
	m.updates = append(m.updates, params)
	j, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		j.Status = *params.Status
	}
	if params.ResultURL != nil {
		j.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		j.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockReceiptStore) ListQueued(ctx context.Context, limit int) ([]models.ReceiptJob, error) {
	var queued []models.ReceiptJob
	for _, j := range m.jobs {
		if j.Status == models.ReceiptStatusQueued {
			queued = append(queued, *j)
		}
	}
	return queued, nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	fail     bool
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.fail {
		return errors.New("queue full")
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type stubGenerator struct {
	url string
	err error
}

func (s *stubGenerator) Generate(ctx context.Context, job *models.ReceiptJob) (*ReceiptResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ReceiptResult{URL: s.url}, nil
}

func receiptLedgerFixture() (*mockLedger, *mockLedgerRegistrations) {
	ledger := newMockLedger(150000)
	return ledger, &mockLedgerRegistrations{ledger: ledger}
}

func TestReceiptServiceCreateStatementJob(t *testing.T) {
	store := &mockReceiptStore{}
	queue := &mockDispatcher{}
	ledger, registrations := receiptLedgerFixture()
	svc := NewReceiptService(store, registrations, ledger, queue, nil, nil, zap.NewNop())

	job, err := svc.CreateJob(context.Background(), "reg-1", CreateReceiptRequest{Kind: models.ReceiptKindStatement}, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusQueued, job.Status)
	assert.Equal(t, "u1", job.CreatedBy)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
}

func TestReceiptServiceCreatePaymentJobRequiresPaymentID(t *testing.T) {
	store := &mockReceiptStore{}
	ledger, registrations := receiptLedgerFixture()
	svc := NewReceiptService(store, registrations, ledger, &mockDispatcher{}, nil, nil, zap.NewNop())

	_, err := svc.CreateJob(context.Background(), "reg-1", CreateReceiptRequest{Kind: models.ReceiptKindPayment}, "u1")
	require.Error(t, err)
}

func TestReceiptServiceCreateJobForCancelledPayment(t *testing.T) {
	store := &mockReceiptStore{}
	ledger, registrations := receiptLedgerFixture()
	payment := &models.Payment{RegistrationID: "reg-1", Amount: 100, Cancelled: false}
	require.NoError(t, ledger.Record(context.Background(), payment))
	_, err := ledger.Cancel(context.Background(), payment.ID, "reg-1")
	require.NoError(t, err)

	svc := NewReceiptService(store, registrations, ledger, &mockDispatcher{}, nil, nil, zap.NewNop())
	_, err = svc.CreateJob(context.Background(), "reg-1", CreateReceiptRequest{Kind: models.ReceiptKindPayment, PaymentID: &payment.ID}, "u1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestReceiptServiceCreateJobUnknownRegistration(t *testing.T) {
	store := &mockReceiptStore{}
	ledger, registrations := receiptLedgerFixture()
	svc := NewReceiptService(store, registrations, ledger, &mockDispatcher{}, nil, nil, zap.NewNop())

	_, err := svc.CreateJob(context.Background(), "ghost", CreateReceiptRequest{Kind: models.ReceiptKindStatement}, "u1")
	require.Error(t, err)
}

func TestReceiptServiceEnqueueFailureMarksJobFailed(t *testing.T) {
	store := &mockReceiptStore{}
	ledger, registrations := receiptLedgerFixture()
	svc := NewReceiptService(store, registrations, ledger, &mockDispatcher{fail: true}, nil, nil, zap.NewNop())

	_, err := svc.CreateJob(context.Background(), "reg-1", CreateReceiptRequest{Kind: models.ReceiptKindStatement}, "u1")
	require.Error(t, err)
	stored := store.jobs["job-1"]
	require.NotNil(t, stored)
	assert.Equal(t, models.ReceiptStatusFailed, stored.Status)
}

func TestReceiptWorkerFinishesJob(t *testing.T) {
	store := &mockReceiptStore{}
	job := &models.ReceiptJob{RegistrationID: "reg-1", Kind: models.ReceiptKindStatement, Status: models.ReceiptStatusQueued}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReceiptWorker(store, &stubGenerator{url: "/api/v1/receipts/download/tok"}, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID}))

	stored := store.jobs[job.ID]
	assert.Equal(t, models.ReceiptStatusFinished, stored.Status)
	require.NotNil(t, stored.ResultURL)
	assert.Equal(t, "/api/v1/receipts/download/tok", *stored.ResultURL)
	require.NotNil(t, stored.FinishedAt)
}

func TestReceiptWorkerRequeuesOnFailure(t *testing.T) {
	store := &mockReceiptStore{}
	job := &models.ReceiptJob{RegistrationID: "reg-1", Kind: models.ReceiptKindStatement, Status: models.ReceiptStatusQueued}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReceiptWorker(store, &stubGenerator{err: errors.New("render failed")}, 3, zap.NewNop())
	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.ReceiptStatusQueued, store.jobs[job.ID].Status)
}

func TestReceiptWorkerFailsAfterMaxRetries(t *testing.T) {
	store := &mockReceiptStore{}
	job := &models.ReceiptJob{RegistrationID: "reg-1", Kind: models.ReceiptKindStatement, Status: models.ReceiptStatusQueued}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReceiptWorker(store, &stubGenerator{err: errors.New("render failed")}, 3, zap.NewNop())
	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 3})
	require.Error(t, err)
	stored := store.jobs[job.ID]
	assert.Equal(t, models.ReceiptStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "render failed", *stored.ErrorMessage)
}

func TestReceiptServiceRecoverPendingJobs(t *testing.T) {
	store := &mockReceiptStore{}
	job := &models.ReceiptJob{RegistrationID: "reg-1", Kind: models.ReceiptKindStatement, Status: models.ReceiptStatusQueued}
	require.NoError(t, store.Create(context.Background(), job))

	queue := &mockDispatcher{}
	ledger, registrations := receiptLedgerFixture()
	svc := NewReceiptService(store, registrations, ledger, queue, nil, nil, zap.NewNop())

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
}
