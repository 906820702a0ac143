package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any store round-trip when a
	// caller passes an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOperationCanceled is returned when a blocking operation observes
	// context cancellation.
	ErrOperationCanceled = errors.New("operation canceled")
	// ErrWrongType is returned when a key holds a different data type.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
	// ErrTxConflict is returned when an optimistic transaction kept losing
	// to concurrent writers.
	ErrTxConflict = errors.New("store: transaction conflict")
	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("store: closed")
)

// ArgumentError names the offending argument.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

// InvalidArgument builds an *ArgumentError.
func InvalidArgument(name, reason string) error {
	return &ArgumentError{Name: name, Reason: reason}
}

// Canceled wraps ctx's error so that both ErrOperationCanceled and the
// context error match with errors.Is.
func Canceled(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrOperationCanceled, err)
}
