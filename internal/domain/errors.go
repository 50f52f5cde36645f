package domain

import (
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAnalysisFailed   = "AI_ANALYSIS_FAILED"
	ErrCodeAnalysisTimeout  = "AI_ANALYSIS_TIMEOUT"
	ErrCodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
	ErrCodeUploadTooLarge   = "UPLOAD_TOO_LARGE"
	ErrCodeInvalidStatus    = "INVALID_STATUS_TRANSITION"
	ErrCodeSessionNotExists = "SESSION_NOT_FOUND"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// PipelineFailure is attached to a structured response when the pipeline could not finish.
// It never carries raw internals.
type PipelineFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewAnalysisFailure returns the generic failure attached to degraded responses.
func NewAnalysisFailure() *PipelineFailure {
	return &PipelineFailure{Code: ErrCodeAnalysisFailed, Message: ErrAnalysisFailed.Error()}
}

// NewTimeoutFailure returns the failure attached to a timed-out analyze response.
func NewTimeoutFailure() *PipelineFailure {
	return &PipelineFailure{Code: ErrCodeAnalysisTimeout, Message: "analysis timed out"}
}
