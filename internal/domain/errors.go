package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverDebit         = errors.New("debit exceeds batch remaining quantity")
	ErrBatchInUse        = errors.New("batch already partially consumed")
	ErrDuplicateName     = errors.New("name already exists")
	ErrStorageFailure    = errors.New("storage failure")
	ErrProductArchived   = errors.New("product is archived")
	ErrForbidden         = errors.New("forbidden")
)

// InsufficientStockError carries the figures a caller needs to explain a
// rejected sale.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StorageError wraps a datastore failure. The enclosing unit of work has
// been rolled back by the time a caller sees it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage failure during %s", e.Op)
	}
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// NewStorageError wraps err unless it already carries a domain outcome.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the typed ledger outcomes
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidQuantity,
		ErrInvalidInput,
		ErrInsufficientStock,
		ErrOverDebit,
		ErrBatchInUse,
		ErrDuplicateName,
		ErrStorageFailure,
		ErrProductArchived,
		ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
