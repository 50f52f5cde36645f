package domain

import (
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Invalid upload",
			code:      ErrCodeInvalidInput,
			message:   "Unsupported file extension",
			details:   "allowed: .jpg, .jpeg, .png, .webp",
			requestID: "req-123",
		},
		{
			name:      "Session lookup",
			code:      ErrCodeSessionNotExists,
			message:   "Session not found",
			details:   "",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("file", "file is empty", 0)

	if err.Field != "file" {
		t.Errorf("Expected field file, got %s", err.Field)
	}
	expected := "validation error for field 'file': file is empty"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestPipelineFailures(t *testing.T) {
	failure := NewAnalysisFailure()
	if failure.Code != ErrCodeAnalysisFailed || failure.Message != "analysis failed" {
		t.Errorf("Unexpected failure %+v", failure)
	}

	timeout := NewTimeoutFailure()
	if timeout.Code != ErrCodeAnalysisTimeout {
		t.Errorf("Unexpected timeout code %s", timeout.Code)
	}
}
