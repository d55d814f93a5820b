package models

import "time"

// Payment is a single money-received event against a registration. Amounts
// are whole currency units. Cancellation flips a flag and never deletes the
// row; once cancelled a payment is immutable history.
type Payment struct {
	ID             string     `db:"id" json:"id"`
	RegistrationID string     `db:"registration_id" json:"registration_id"`
	Amount         int64      `db:"amount" json:"amount"`
	PaidOn         time.Time  `db:"paid_on" json:"paid_on"`
	Reference      string     `db:"reference" json:"reference"`
	Cancelled      bool       `db:"cancelled" json:"cancelled"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
