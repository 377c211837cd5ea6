package models

import (
	"gorm.io/gorm"
)

type DecisionValue string

const (
	DecisionAccepted DecisionValue = "accepted"
	DecisionRejected DecisionValue = "rejected"
)

// Notification records a call's decision outcome for one bidder.
// Rows are append-only; they are never edited after fan-out.
type Notification struct {
	gorm.Model
	NotificationID string        `gorm:"uniqueIndex;not null"`
	BidderID       string        `gorm:"index;not null"`
	CallID         string        `gorm:"index;not null"`
	SubmissionID   string        `gorm:"not null"`
	Decision       DecisionValue `gorm:"not null"`
	Notes          string
}
