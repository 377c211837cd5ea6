package models

import (
	"time"

	"gorm.io/gorm"
)

// Call is a tender/solicitation. Each call owns exactly one RSA keypair;
// only the public half is stored, the private half is handed to the
// issuer once at creation time.
type Call struct {
	gorm.Model
	CallID       string `gorm:"uniqueIndex;not null"`
	KeyID        string `gorm:"uniqueIndex;not null"`
	PublicKeyPEM []byte `gorm:"type:bytea;not null"`
	DecidedAt    *time.Time
}
