package models

import (
	"gorm.io/gorm"
)

// Account scopes notification views per bidder. It is deliberately not
// an authorization boundary for decisions or decryption.
type Account struct {
	gorm.Model
	BidderID     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
}
