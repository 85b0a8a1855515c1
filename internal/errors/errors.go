// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrSignalNotFound     = errors.New("signal not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrAlreadySettled     = errors.New("signal already settled")
	ErrNoPriceData        = errors.New("no price data available")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDatabaseError      = errors.New("database error")
)

// ReferentialError indicates a write referencing a row that does not exist,
// typically an unknown instrument or account.
type ReferentialError struct {
	Table     string
	Reference string
	Err       error
}

func (e *ReferentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("referential violation [%s] %s: %v", e.Table, e.Reference, e.Err)
	}
	return fmt.Sprintf("referential violation [%s] %s", e.Table, e.Reference)
}

func (e *ReferentialError) Unwrap() error {
	return e.Err
}

// NewReferentialError creates a new ReferentialError.
func NewReferentialError(table, reference string, err error) *ReferentialError {
	return &ReferentialError{
		Table:     table,
		Reference: reference,
		Err:       err,
	}
}

// UniquenessError indicates a duplicate natural key on a date-scoped or
// account-scoped entity.
type UniquenessError struct {
	Table string
	Key   string
	Err   error
}

func (e *UniquenessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("duplicate key [%s] %s: %v", e.Table, e.Key, e.Err)
	}
	return fmt.Sprintf("duplicate key [%s] %s", e.Table, e.Key)
}

func (e *UniquenessError) Unwrap() error {
	return e.Err
}

// NewUniquenessError creates a new UniquenessError.
func NewUniquenessError(table, key string, err error) *UniquenessError {
	return &UniquenessError{
		Table: table,
		Key:   key,
		Err:   err,
	}
}

// DomainError indicates an out-of-range or otherwise invalid value rejected
// at the write boundary.
type DomainError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("domain violation: %s (%v): %s: %v", e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("domain violation: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError.
func NewDomainError(field string, value interface{}, message string) *DomainError {
	return &DomainError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewDomainErrorWrap creates a DomainError wrapping a sentinel cause.
func NewDomainErrorWrap(field string, value interface{}, message string, err error) *DomainError {
	return &DomainError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// ConflictError indicates a state transition that is no longer valid, such as
// filling a cancelled order, settling a signal twice, or a serialization
// failure between concurrent writers.
type ConflictError struct {
	Entity string
	ID     string
	State  string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict [%s] %s in state %s: %v", e.Entity, e.ID, e.State, e.Err)
	}
	return fmt.Sprintf("conflict [%s] %s in state %s", e.Entity, e.ID, e.State)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError creates a new ConflictError.
func NewConflictError(entity, id, state string, err error) *ConflictError {
	return &ConflictError{
		Entity: entity,
		ID:     id,
		State:  state,
		Err:    err,
	}
}

// DataError represents a data-access failure that is not a constraint
// violation, wrapping the driver error.
type DataError struct {
	Op      string
	Table   string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Op, e.Table, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Op, e.Table, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(op, table, message string, err error) *DataError {
	return &DataError{
		Op:      op,
		Table:   table,
		Message: message,
		Err:     err,
	}
}

// DateKey formats a composite (id, date) key for error messages.
func DateKey(id string, date time.Time) string {
	return fmt.Sprintf("%s@%s", id, date.Format("2006-01-02"))
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
