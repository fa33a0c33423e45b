package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline error taxonomy. Ambiguous resolution is an outcome, not an error.
var (
	// ErrExtractionFailure marks unreadable or corrupt input. The source file is left in place.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrPatternLoad marks invalid pattern configuration, reported at load time.
	ErrPatternLoad = errors.New("pattern load error")
	// ErrIOConflict is returned when a target path cannot be made unique.
	ErrIOConflict = errors.New("io conflict")
	// ErrStoreWrite marks a rejected store write.
	ErrStoreWrite = errors.New("store write failure")
	// ErrCascadeFile marks a partially applied identity merge.
	ErrCascadeFile = errors.New("cascade file error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// StageError carries the file path and pipeline stage of a surfaced failure.
type StageError struct {
	Stage string
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage and path context. Returns nil for a nil err.
func NewStageError(stage, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Path: path, Err: err}
}
