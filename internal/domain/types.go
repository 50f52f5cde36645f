// Package domain contains the core screening entities shared by the pipeline, the report
// builders and the transports: canonical detection labels, risk levels, findings, synthesis
// results, report view models and session states.
package domain

import (
	"errors"
	"strings"
)

// CanonicalLabel is the closed taxonomy every upstream detection label is mapped into.
type CanonicalLabel string

const (
	LabelCaries     CanonicalLabel = "caries"
	LabelTartar     CanonicalLabel = "tartar"
	LabelOralCancer CanonicalLabel = "oral_cancer"
	LabelNormal     CanonicalLabel = "normal"
)

// LabelPriority is the fixed order in which findings are reported.
var LabelPriority = []CanonicalLabel{LabelOralCancer, LabelCaries, LabelTartar, LabelNormal}

// IsValid reports whether the label belongs to the taxonomy.
func (l CanonicalLabel) IsValid() bool {
	switch l {
	case LabelCaries, LabelTartar, LabelOralCancer, LabelNormal:
		return true
	default:
		return false
	}
}

// String returns the string representation of the label.
func (l CanonicalLabel) String() string {
	return string(l)
}

// RiskLevel is the ordinal screening severity. GREEN < YELLOW < RED.
type RiskLevel string

const (
	RiskGreen  RiskLevel = "GREEN"
	RiskYellow RiskLevel = "YELLOW"
	RiskRed    RiskLevel = "RED"
)

// Validation errors for screening data integrity
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRiskLevel  = errors.New("invalid risk level")
	ErrInvalidStatus     = errors.New("invalid session status")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrUpstreamMalformed = errors.New("upstream response malformed")
)

// IsValid reports whether the level is one of GREEN, YELLOW or RED.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskGreen, RiskYellow, RiskRed:
		return true
	default:
		return false
	}
}

// Rank orders the levels; invalid levels rank below GREEN.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskGreen:
		return 1
	case RiskYellow:
		return 2
	case RiskRed:
		return 3
	default:
		return 0
	}
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// BadgeText returns the short badge shown next to the level.
func (r RiskLevel) BadgeText() string {
	switch r {
	case RiskRed:
		return "High Risk"
	case RiskYellow:
		return "Medium Risk"
	default:
		return "Low Risk"
	}
}

// LogFields returns structured logging fields for audit trails.
func (r RiskLevel) LogFields() map[string]any {
	return map[string]any{
		"risk_level": string(r),
		"risk_rank":  r.Rank(),
		"is_valid":   r.IsValid(),
	}
}

// ParseRiskLevel case-normalizes raw into a RiskLevel.
func ParseRiskLevel(raw string) (RiskLevel, error) {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(raw)))
	if !level.IsValid() {
		return "", ErrInvalidRiskLevel
	}
	return level, nil
}

// SessionStatus is the lifecycle state of one screening session.
type SessionStatus string

const (
	StatusUploaded      SessionStatus = "uploaded"
	StatusQualityFailed SessionStatus = "quality_failed"
	StatusAnalyzing     SessionStatus = "analyzing"
	StatusDone          SessionStatus = "done"
	StatusError         SessionStatus = "error"
)

// IsValid reports whether the status is known.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusQualityFailed, StatusAnalyzing, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusQualityFailed || s == StatusDone || s == StatusError
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusUploaded:
		return next == StatusAnalyzing || next == StatusQualityFailed || next == StatusError
	case StatusAnalyzing:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}
