package models

import "time"

// ReceiptKind selects the document produced by a receipt job.
type ReceiptKind string

const (
	// ReceiptKindPayment renders a receipt for a single payment.
	ReceiptKindPayment ReceiptKind = "PAYMENT"
	// ReceiptKindStatement renders a full registration statement with the
	// complete payment history.
	ReceiptKindStatement ReceiptKind = "STATEMENT"
)

// ReceiptStatus captures the lifecycle of a receipt job.
type ReceiptStatus string

const (
	ReceiptStatusQueued     ReceiptStatus = "QUEUED"
	ReceiptStatusProcessing ReceiptStatus = "PROCESSING"
	ReceiptStatusFinished   ReceiptStatus = "FINISHED"
	ReceiptStatusFailed     ReceiptStatus = "FAILED"
)

// ReceiptJob tracks an asynchronous receipt render.
type ReceiptJob struct {
	ID             string        `db:"id" json:"id"`
	RegistrationID string        `db:"registration_id" json:"registration_id"`
	PaymentID      *string       `db:"payment_id" json:"payment_id,omitempty"`
	Kind           ReceiptKind   `db:"kind" json:"kind"`
	Status         ReceiptStatus `db:"status" json:"status"`
	ResultURL      *string       `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage   *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedBy      string        `db:"created_by" json:"created_by"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	FinishedAt     *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
}
