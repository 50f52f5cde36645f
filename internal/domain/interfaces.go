package domain

import (
	"context"
)

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	Validate() error
}

// QualityAssessor judges whether an uploaded image is usable for detection.
type QualityAssessor interface {
	AssessQuality(ctx context.Context, image *UploadedImage) (*QualityAssessment, error)
}

// DetectionClient runs the vision model over an uploaded image.
type DetectionClient interface {
	Detect(ctx context.Context, image *UploadedImage) (*DetectionResult, error)
}

// ContextRetriever looks up supporting documents for a free-text query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) RagSummary
}

// GenerationRequest is the payload sent to a generative backend.
type GenerationRequest struct {
	Prompt     string         `json:"prompt"`
	Detections []Detection    `json:"detections"`
	Summary    map[string]any `json:"summary"`
	RagSources []RagSource    `json:"ragSources"`
	Language   string         `json:"language"`
}

// GenerativeBackend produces an untrusted JSON document approximating a SynthesisResult.
type GenerativeBackend interface {
	Generate(ctx context.Context, req *GenerationRequest) ([]byte, error)
}

// ReportPublisher stores a rendered report and returns a retrievable URL, or "" when the
// report is unavailable.
type ReportPublisher interface {
	Publish(ctx context.Context, sessionID string, pdf []byte) string
}

// SessionTracker records the monotonic status of screening sessions.
type SessionTracker interface {
	Begin(ctx context.Context, sessionID, operation string) error
	Advance(ctx context.Context, sessionID string, status SessionStatus) error
}

// ScreeningRecorder persists finished screenings.
type ScreeningRecorder interface {
	Record(ctx context.Context, record *ScreeningRecord) error
}
