package domain

import (
	"errors"

	"agentlink/internal/address"
	"agentlink/internal/keys"
)

// Protocol errors. Callers wrap these with context and test with errors.Is.
var (
	ErrInvalidKey        = keys.ErrInvalidKey
	ErrMalformedAddress  = address.ErrMalformedAddress
	ErrTargetNotFound    = errors.New("target agent profile not found or has no inbound topic")
	ErrRequesterNotFound = errors.New("requester profile not found or has no inbound topic")
	ErrNoRegistry        = errors.New("no registry topic available to search")
	ErrNotAParticipant   = errors.New("connection not found or sender not a participant")
	ErrSubmissionFailed  = errors.New("ledger submission failed")
	ErrFetchFailed       = errors.New("ledger read failed")
	ErrMissingArgument   = errors.New("missing required argument")
	ErrNoPendingRequest  = errors.New("no pending connection request")
)

// IsValidation reports whether err is a caller mistake that must not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrMalformedAddress) ||
		errors.Is(err, ErrMissingArgument)
}
