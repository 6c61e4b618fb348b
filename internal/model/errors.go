package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound    = errors.New("player not found")
	ErrDuplicateNickname = errors.New("nickname already exists")
	ErrInvalidNickname   = errors.New("invalid nickname")

	// Catalog and ownership errors
	ErrItemNotFound = errors.New("item not found")
	ErrAlreadyOwned = errors.New("item is already owned")
	ErrNotOwned     = errors.New("item is not owned")

	// Balance errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidBet        = errors.New("bet must be a positive amount")
	ErrBalanceOverflow   = errors.New("balance would overflow")

	// ErrStorage matches every StorageError via errors.Is
	ErrStorage = errors.New("storage error")
)

// StorageError wraps a failure of the backing store
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err, returning nil when err is nil
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
