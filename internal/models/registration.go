package models

import "time"

// RegistrationStatus captures the enrollment lifecycle of a registration.
type RegistrationStatus string

// Possible registration statuses.
const (
	StatusPassant    RegistrationStatus = "PASSANT"
	StatusRedoublant RegistrationStatus = "REDOUBLANT"
	StatusSuspendu   RegistrationStatus = "SUSPENDU"
)

// Valid reports whether the status is one of the closed set.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPassant, StatusRedoublant, StatusSuspendu:
		return true
	}
	return false
}

// Remark is an orthogonal annotation applied verbatim to a registration.
type Remark string

// Possible remarks.
const (
	RemarkNone Remark = ""
	RemarkR    Remark = "R"
	RemarkM    Remark = "M"
)

// Valid reports whether the remark is one of the closed set.
func (r Remark) Valid() bool {
	switch r {
	case RemarkNone, RemarkR, RemarkM:
		return true
	}
	return false
}

// Registration is a student's enrollment for one academic level in one
// academic year. BalanceRemaining is derived: amount due minus the sum of
// non-cancelled payments, recomputed after every payment mutation.
// Registrations are never deleted; a newer one supersedes on advancement.
type Registration struct {
	ID               string             `db:"id" json:"id"`
	StudentID        string             `db:"student_id" json:"student_id"`
	LevelID          string             `db:"level_id" json:"level_id"`
	AcademicYear     string             `db:"academic_year" json:"academic_year"`
	AmountDue        int64              `db:"amount_due" json:"amount_due"`
	BalanceRemaining int64              `db:"balance_remaining" json:"balance_remaining"`
	Status           RegistrationStatus `db:"status" json:"status"`
	Remark           Remark             `db:"remark" json:"remark"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with student and level context.
type RegistrationDetail struct {
	Registration
	StudentName       string `db:"student_name" json:"student_name"`
	StudentNationalID string `db:"student_national_id" json:"student_national_id"`
	LevelName         string `db:"level_name" json:"level_name"`
	FormationType     string `db:"formation_type" json:"formation_type"`
	Grade             int    `db:"grade" json:"grade"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	StudentID    string
	LevelID      string
	AcademicYear string
	Status       RegistrationStatus
	Page         int
	PageSize     int
}
