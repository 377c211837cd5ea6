package models

import (
	"time"

	"gorm.io/gorm"
)

// Decision is the single, non-retractable winner selection for a call.
type Decision struct {
	gorm.Model
	CallID       string `gorm:"uniqueIndex;not null"`
	SubmissionID string `gorm:"not null"`
	Notes        string
	DecidedAt    time.Time `gorm:"not null"`
}
