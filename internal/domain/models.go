package domain

import (
	"time"
)

// UploadedImage is the transient upload handed to the pipeline. It is never persisted.
type UploadedImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// QualityAssessment is the upstream verdict on whether an image is usable.
type QualityAssessment struct {
	Pass    bool     `json:"pass"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// BBox is a bounding box in image fractions, all values in [0,1].
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Centroid returns the box center.
func (b BBox) Centroid() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// IsZero reports whether the box carries no geometry.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Detection is one labeled, scored region produced by the vision model.
type Detection struct {
	Label      CanonicalLabel `json:"label"`
	Confidence float64        `json:"confidence"`
	BBox       BBox           `json:"bbox"`
}

// DetectionResult is what the detection client returns: the detections plus the free-form
// summary map emitted by the model service.
type DetectionResult struct {
	Detections []Detection    `json:"detections"`
	Summary    map[string]any `json:"summary"`
}

// Finding is one ranked observation in a synthesis result.
type Finding struct {
	Title        string   `json:"title"`
	Severity     string   `json:"severity,omitempty"`
	LocationText string   `json:"locationText,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	Evidence     []string `json:"evidence"`
}

// SynthesisResult is the schema-bound narrative attached to a screening.
type SynthesisResult struct {
	RiskLevel  RiskLevel `json:"riskLevel"`
	BadgeText  string    `json:"badgeText"`
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings"`
	CareGuide  []string  `json:"careGuide"`
	Disclaimer []string  `json:"disclaimer"`
}

// RagSource is one retrieved supporting document.
type RagSource struct {
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// RagSummary describes the retrieval step of a screening.
type RagSummary struct {
	TopK         int         `json:"topK"`
	Sources      []RagSource `json:"sources"`
	UsedFallback bool        `json:"usedFallback"`
}

// RiskSummary is the headline card of the printable report.
type RiskSummary struct {
	Level          RiskLevel `json:"level"`
	LevelText      string    `json:"levelText"`
	OneLineSummary string    `json:"oneLineSummary"`
}

// Problem is one explained issue in the printable report.
type Problem struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

// VisitLevel is the clinic visit recommendation tier.
type VisitLevel string

const (
	VisitUrgent      VisitLevel = "urgent"
	VisitRecommended VisitLevel = "recommended"
	VisitObserve     VisitLevel = "observe"
)

// Visit is the clinic visit guidance of the printable report.
type Visit struct {
	Level     VisitLevel `json:"level"`
	LevelText string     `json:"levelText"`
	Reason    string     `json:"reason"`
}

// ReportViewModel is the print-ready projection of a screening.
type ReportViewModel struct {
	Language    string      `json:"language"`
	RiskSummary RiskSummary `json:"riskSummary"`
	Problems    []Problem   `json:"problems"`
	Actions     []string    `json:"actions"`
	Visit       Visit       `json:"visit"`
	Detections  []Detection `json:"detections"`
}

// Session is the lifecycle record of one pipeline invocation.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	Operation   string        `json:"operation"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// StatusEvent is published whenever a session changes status.
type StatusEvent struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	At        time.Time     `json:"at"`
}

// ScreeningRecord is the persisted outcome of a finished screening.
type ScreeningRecord struct {
	SessionID      string          `json:"session_id"`
	Operation      string          `json:"operation"`
	Status         SessionStatus   `json:"status"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	QualityScore   float64         `json:"quality_score"`
	Detections     []Detection     `json:"detections"`
	Narrative      SynthesisResult `json:"narrative"`
	PDFURL         string          `json:"pdf_url"`
	UsedFallback   bool            `json:"used_fallback"`
	ProcessingTime time.Duration   `json:"processing_time"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RunResult is the full screening response.
type RunResult struct {
	SessionID        string           `json:"sessionId"`
	Status           SessionStatus    `json:"status"`
	StorageKey       string           `json:"storageKey"`
	QualityPass      bool             `json:"qualityPass"`
	QualityScore     float64          `json:"qualityScore"`
	QualityReasons   []string         `json:"qualityReasons"`
	Detections       []Detection      `json:"detections"`
	DetectionSummary map[string]any   `json:"summary"`
	RiskNarrative    SynthesisResult  `json:"riskNarrative"`
	Rag              RagSummary       `json:"rag"`
	PDFURL           string           `json:"pdfUrl"`
	Error            *PipelineFailure `json:"error,omitempty"`
}

// QuickResult is the lightweight response: staging only, no narrative or report.
type QuickResult struct {
	SessionID        string           `json:"sessionId"`
	Status           SessionStatus    `json:"status"`
	StorageKey       string           `json:"storageKey"`
	QualityPass      bool             `json:"qualityPass"`
	QualityScore     float64          `json:"qualityScore"`
	QualityReasons   []string         `json:"qualityReasons"`
	Detections       []Detection      `json:"detections"`
	DetectionSummary map[string]any   `json:"summary"`
	Error            *PipelineFailure `json:"error,omitempty"`
}

// AnalyzeResult is the narrative-first response.
type AnalyzeResult struct {
	SessionID     string           `json:"sessionId"`
	Status        SessionStatus    `json:"status"`
	Detections    []Detection      `json:"detections"`
	RiskNarrative SynthesisResult  `json:"riskNarrative"`
	Rag           RagSummary       `json:"rag"`
	PDFURL        string           `json:"pdfUrl,omitempty"`
	Error         *PipelineFailure `json:"error,omitempty"`
}
