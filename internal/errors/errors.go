// internal/errors/errors.go
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation_error"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeError            ErrorType = "processing_error"
	ErrorTypeConfiguration    ErrorType = "configuration_error"
	ErrorTypeGeneration       ErrorType = "generation_failed"
	ErrorTypeRender           ErrorType = "render_failed"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeArtifactNotFound ErrorType = "artifact_not_found"
)

// AppError is the error value passed between layers
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // stable code exposed through the API
}

// Error implements error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap supports errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConfigurationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, originalError)
}

// NewGenerationError wraps a failure of the text-generation backend
func NewGenerationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGeneration, message, originalError)
}

// NewRenderError wraps a failed render invocation
func NewRenderError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeRender, message, originalError)
}

// NewTimeoutError reports a render that exceeded its time budget
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewArtifactNotFoundError reports a render that left no video behind
func NewArtifactNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeArtifactNotFound, message, originalError)
}

// TypeOf returns the ErrorType of the outermost AppError in the chain.
// Context deadline errors are reported as timeouts.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	return ErrorTypeError
}

func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

func IsTimeoutError(err error) bool {
	return TypeOf(err) == ErrorTypeTimeout
}

// generateErrorCode maps an ErrorType to its API code
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrorTypeGeneration:
		return "GENERATION_FAILED"
	case ErrorTypeRender:
		return "RENDER_FAILED"
	case ErrorTypeTimeout:
		return "RENDER_TIMED_OUT"
	case ErrorTypeArtifactNotFound:
		return "ARTIFACT_NOT_FOUND"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError adds context to err, keeping the type of an existing AppError
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError.Err,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
