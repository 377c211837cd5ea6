package models

import (
	"gorm.io/gorm"
)

type SubmissionStatus string

const (
	StatusReceived SubmissionStatus = "RECEIVED"
	StatusRejected SubmissionStatus = "REJECTED"
	StatusAccepted SubmissionStatus = "ACCEPTED"
)

// Submission is one sealed bid under a call. SubmissionID is derived
// from the envelope content, so byte-identical resubmissions map to the
// same row.
type Submission struct {
	gorm.Model
	SubmissionID     string           `gorm:"index:idx_call_submission,unique;not null"`
	CallID           string           `gorm:"index:idx_call_submission,unique;not null"`
	BidderID         string           `gorm:"index"`
	Status           SubmissionStatus `gorm:"not null;default:'RECEIVED'"`
	PayloadSHA256    string
	ContentZipSHA256 string
	SealedZipSHA256  string
	SignerPKHex      string
}

// SubmissionPart is one stored envelope part (meta.json, payload.enc,
// wrapped_key.bin, nonce.bin, tag.bin, plus the optional extras).
// The unique index carries call_id: the same canonical bytes may be
// submitted to different calls, each with its own meta.json.
type SubmissionPart struct {
	gorm.Model
	CallID        string `gorm:"index:idx_submission_part,unique;not null"`
	SubmissionRef string `gorm:"index:idx_submission_part,unique;not null"`
	Name          string `gorm:"index:idx_submission_part,unique;not null"`
	Size          int64  `gorm:"not null"`
	Data          []byte `gorm:"type:bytea;not null"`
}
