package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced id is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeValidation indicates a rejected write; the store is unchanged.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeInconsistentReference indicates a play whose song or session is
	// missing. Aggregation logs it and excludes the play.
	ErrCodeInconsistentReference ErrorCode = "INCONSISTENT_REFERENCE"

	// ErrCodeConflictUnresolved indicates a merge with no deterministic
	// winner. The remote value is taken and the condition is logged.
	ErrCodeConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED"
)

// Error is a ledger error with structured fields for diagnostics.
type Error struct {
	Code    ErrorCode
	Kind    Kind
	ID      string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind != "" && e.ID != "":
		return fmt.Sprintf("%s: %s (%s %s)", e.Code, e.Message, e.Kind, e.ID)
	case e.Kind != "":
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Kind)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// NewNotFoundError creates an Error for a missing entity.
func NewNotFoundError(k Kind, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Kind: k, ID: id, Message: "not found"}
}

// NewValidationError creates an Error for a rejected write.
func NewValidationError(k Kind, id, msg string) *Error {
	return &Error{Code: ErrCodeValidation, Kind: k, ID: id, Message: msg}
}

// NewInconsistentReferenceError creates an Error for a dangling reference.
func NewInconsistentReferenceError(k Kind, id, msg string) *Error {
	return &Error{Code: ErrCodeInconsistentReference, Kind: k, ID: id, Message: msg}
}

// NewConflictUnresolvedError creates an Error for an undecidable merge.
func NewConflictUnresolvedError(k Kind, id, msg string) *Error {
	return &Error{Code: ErrCodeConflictUnresolved, Kind: k, ID: id, Message: msg}
}

// CodeOf returns the ErrorCode of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }
