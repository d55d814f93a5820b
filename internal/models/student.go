package models

import "time"

// Student represents a learner known to the registrar. Student records are
// owned by the academic record system; the ledger only reads them.
type Student struct {
	ID         string    `db:"id" json:"id"`
	NationalID string    `db:"national_id" json:"national_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Gender     string    `db:"gender" json:"gender"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	BirthPlace string    `db:"birth_place" json:"birth_place"`
	Address    string    `db:"address" json:"address"`
	Phone      string    `db:"phone" json:"phone"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail adds the student's most recent registration context.
type StudentDetail struct {
	Student
	CurrentLevelID   *string `db:"current_level_id" json:"current_level_id,omitempty"`
	CurrentLevelName *string `db:"current_level_name" json:"current_level_name,omitempty"`
	CurrentYear      *string `db:"current_year" json:"current_year,omitempty"`
}
