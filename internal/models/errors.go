package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrLock
	ErrFetch
	ErrValidation
	ErrSubprocess
	ErrPluginNotFound
	ErrArchNotConfigured
	ErrOperationNotValid
	ErrFileOp
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrConfig:
		return "Config"
	case ErrLock:
		return "Lock"
	case ErrFetch:
		return "Fetch"
	case ErrValidation:
		return "Validation"
	case ErrSubprocess:
		return "Subprocess"
	case ErrPluginNotFound:
		return "PluginNotFound"
	case ErrArchNotConfigured:
		return "ArchNotConfigured"
	case ErrOperationNotValid:
		return "OperationNotValid"
	case ErrFileOp:
		return "FileOp"
	default:
		return "Unknown"
	}
}

// Error represents a failure during a repository action
type Error struct {
	Type ErrorType
	Repo string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Repo != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Repo, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsType reports whether err is an *Error of the given type
func IsType(err error, t ErrorType) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Type == t
	}
	return false
}
