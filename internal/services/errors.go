package services

import (
	"errors"
	"fmt"

	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/lock"
)

// Error kinds. Every error returned by this package wraps exactly one of them,
// handlers classify with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrLockBusy           = errors.New("resource busy")
	ErrGatewayFailure     = vendors.ErrGateway
	ErrSignatureInvalid   = vendors.ErrSignatureInvalid
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// StateError reports an operation attempted from a status that does not
// permit it.
type StateError struct {
	Entity  string
	ID      uint
	Current string
	Action  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d is %s, cannot %s", e.Entity, e.ID, e.Current, e.Action)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func stateErr[S ~string](entity string, id uint, current S, action string) error {
	return &StateError{Entity: entity, ID: id, Current: string(current), Action: action}
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// loadErr converts a repository miss into ErrNotFound for entity.
func loadErr(err error, entity string, id any) error {
	if errors.Is(err, dao.ErrNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("load %s %v: %w", entity, id, err)
}

// busy maps lock contention onto ErrLockBusy and leaves other errors alone.
func busy(err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: %v", ErrLockBusy, err)
	}
	return err
}
