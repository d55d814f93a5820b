package models

import "time"

// AcademicLevel is a catalog entry for one year of study within a formation
// track. Grades are unique and totally ordered within a formation type; the
// next level of a track is the entry at grade + 1, or none when terminal.
type AcademicLevel struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	FormationType string    `db:"formation_type" json:"formation_type"`
	Grade         int       `db:"grade" json:"grade"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// LevelFilter defines filter criteria for listing the level catalog.
type LevelFilter struct {
	FormationType string
	Grade         *int
	Page          int
	PageSize      int
}
