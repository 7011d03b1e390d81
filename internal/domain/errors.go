package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrVersionConflict means another writer updated the document first.
	ErrVersionConflict = errors.New("version conflict")
	ErrSeatTaken       = errors.New("seat already taken")
	// ErrHoldExpired is returned to a payment that lost the race to release.
	ErrHoldExpired = errors.New("hold expired")

	// ErrTransient marks storage failures that are worth retrying.
	ErrTransient = errors.New("transient failure")
)

// Transient marks err as retryable while keeping its message and cause.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransient)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
