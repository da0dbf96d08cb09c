package model

import "errors"

// Error taxonomy. Callers wrap these with context using %w and classify
// with errors.Is.
var (
	// ErrNotFound is returned when a team or round lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers malformed keys, non-positive amounts and
	// missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds is returned when an operation would drive a
	// bucket negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned for duplicate team names and for settling a
	// round that already ended.
	ErrConflict = errors.New("conflict")

	// ErrNoActiveRound is returned when an operation needs an active round.
	ErrNoActiveRound = errors.New("no active round")

	// ErrUnauthorized is returned for credential mismatches.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrInvalidAsset is returned when a bucket key is not recognised or not
// allowed for the operation.
var ErrInvalidAsset = wrap(ErrInvalidInput, "invalid asset")

type taggedError struct {
	msg    string
	parent error
}

func (e *taggedError) Error() string { return e.msg }
func (e *taggedError) Unwrap() error { return e.parent }

func wrap(parent error, msg string) error {
	return &taggedError{msg: msg, parent: parent}
}
