// Package errors provides the error taxonomy of the reflection pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrDataUnavailable  = errors.New("price data unavailable")
	ErrGenerationFailed = errors.New("reflection generation failed")
	ErrNotFound         = errors.New("decision not found")
	ErrAlreadyAnalyzed  = errors.New("decision already analyzed")
	ErrPrecondition     = errors.New("precondition violated")
	ErrStoreUnavailable = errors.New("decision store unavailable")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ErrorKind classifies a per-decision failure for run reporting.
type ErrorKind string

const (
	KindDataUnavailable ErrorKind = "data_unavailable"
	KindGeneration      ErrorKind = "generation_failure"
	KindPersistence     ErrorKind = "persistence_failure"
	KindPrecondition    ErrorKind = "precondition_violation"
	KindUnknown         ErrorKind = "unknown"
)

// DataError reports that a price window could not be built.
type DataError struct {
	Symbol string
	Anchor time.Time
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data unavailable [%s @ %s]: %s: %v", e.Symbol, e.Anchor.UTC().Format(time.RFC3339), e.Reason, e.Err)
	}
	return fmt.Sprintf("data unavailable [%s @ %s]: %s", e.Symbol, e.Anchor.UTC().Format(time.RFC3339), e.Reason)
}

// Is makes every DataError match ErrDataUnavailable.
func (e *DataError) Is(target error) bool {
	return target == ErrDataUnavailable
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(symbol string, anchor time.Time, reason string, err error) *DataError {
	return &DataError{
		Symbol: symbol,
		Anchor: anchor,
		Reason: reason,
		Err:    err,
	}
}

// GenerationError represents a failed call to the text-generation service.
type GenerationError struct {
	DecisionID int64
	Reason     string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation error [decision %d]: %s: %v", e.DecisionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("generation error [decision %d]: %s", e.DecisionID, e.Reason)
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(decisionID int64, reason string, err error) *GenerationError {
	return &GenerationError{
		DecisionID: decisionID,
		Reason:     reason,
		Err:        err,
	}
}

// PersistenceError represents a failed read or write of a decision record.
type PersistenceError struct {
	DecisionID int64
	Op         string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s decision %d]: %v", e.Op, e.DecisionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(decisionID int64, op string, err error) *PersistenceError {
	return &PersistenceError{
		DecisionID: decisionID,
		Op:         op,
		Err:        err,
	}
}

// Preconditionf returns an error wrapping ErrPrecondition.
func Preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// KindOf maps an error to the kind it is tallied under.
func KindOf(err error) ErrorKind {
	var pe *PersistenceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, ErrGenerationFailed):
		return KindGeneration
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.As(err, &pe), errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyAnalyzed):
		return KindPersistence
	default:
		return KindUnknown
	}
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
