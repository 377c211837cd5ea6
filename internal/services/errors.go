package services

import "errors"

var (
	ErrDuplicateCall    = errors.New("call already exists")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyDecided   = errors.New("call already has a decision")
	ErrInvalidPath      = errors.New("invalid content path")
	ErrTimeout          = errors.New("operation timed out")
	ErrDuplicateAccount = errors.New("account already exists")
)
