package service

import (
	"fmt"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	// oralCancerRedThreshold is the confidence at which an oral lesion forces RED.
	oralCancerRedThreshold = 0.5
	// moderateSeverityThreshold is the confidence at which any finding becomes moderate.
	moderateSeverityThreshold = 0.75
	// maxFindings caps the number of findings in a narrative.
	maxFindings = 3
	// maxEvidence caps the evidence references per finding.
	maxEvidence = 2
)

var findingTitles = map[domain.CanonicalLabel]string{
	domain.LabelOralCancer: "Possible Oral Lesion",
	domain.LabelCaries:     "Possible Caries",
	domain.LabelTartar:     "Possible Tartar",
	domain.LabelNormal:     "Normal",
}

var levelSummaries = map[domain.RiskLevel]string{
	domain.RiskRed:    "High-risk signs were detected. Prompt clinical consultation is recommended.",
	domain.RiskYellow: "Findings requiring attention were detected.",
	domain.RiskGreen:  "No strong abnormal signal was detected.",
}

var levelCareGuides = map[domain.RiskLevel][]string{
	domain.RiskRed: {
		"Seek dental or oral specialist consultation as soon as possible.",
		"Avoid smoking, alcohol, and irritant foods.",
		"Monitor pain, bleeding, and ulcer changes closely.",
		"Do not delay in-person care if symptoms worsen.",
	},
	domain.RiskYellow: {
		"Brush 2-3 times daily with fluoride toothpaste.",
		"Use floss or interdental brush every day.",
		"Reduce sugar intake and improve post-meal oral care.",
		"Plan scaling or dental check-up within 3-6 months.",
	},
	domain.RiskGreen: {
		"Maintain your current oral hygiene routine.",
		"Have regular check-ups every 6-12 months.",
		"Using floss or interdental brush can improve prevention.",
		"If new symptoms appear, consult a dentist early.",
	},
}

var recaptureGuide = []string{
	"Retake in a bright environment.",
	"Keep camera focus stable and avoid blur.",
	"Include both teeth and gum area in frame.",
	"If you have symptoms, consult a dentist.",
}

var standardDisclaimer = []string{
	"This output is AI-assisted screening information and does not replace medical diagnosis.",
	"If pain, bleeding, ulceration, or swelling persists, seek professional care.",
}

// labelGroup aggregates the detections sharing one canonical label.
type labelGroup struct {
	count int
	best  domain.Detection
}

// RiskClassifier is the deterministic rule engine behind every screening narrative.
// It holds no state and is safe for concurrent use.
type RiskClassifier struct{}

// NewRiskClassifier creates a new risk classifier
func NewRiskClassifier() *RiskClassifier {
	return &RiskClassifier{}
}

// Classify derives the risk level and the ordered findings from a detection set.
// The result depends only on the multiset of detections, not on their order.
func (rc *RiskClassifier) Classify(detections []domain.Detection) (domain.RiskLevel, []domain.Finding) {
	groups := groupDetections(detections)
	return riskLevelFor(groups), buildFindings(groups)
}

// Fallback assembles the deterministic narrative for a detection set.
func (rc *RiskClassifier) Fallback(detections []domain.Detection) domain.SynthesisResult {
	level, findings := rc.Classify(detections)
	return domain.SynthesisResult{
		RiskLevel:  level,
		BadgeText:  level.BadgeText(),
		Summary:    levelSummaries[level],
		Findings:   findings,
		CareGuide:  cloneStrings(levelCareGuides[level]),
		Disclaimer: cloneStrings(standardDisclaimer),
	}
}

// QualityFailedFallback is the narrative returned when the image could not be analyzed.
func (rc *RiskClassifier) QualityFailedFallback() domain.SynthesisResult {
	return domain.SynthesisResult{
		RiskLevel:  domain.RiskGreen,
		BadgeText:  domain.RiskGreen.BadgeText(),
		Summary:    "Image quality was insufficient for precise analysis.",
		Findings:   []domain.Finding{defaultFinding()},
		CareGuide:  cloneStrings(recaptureGuide),
		Disclaimer: cloneStrings(standardDisclaimer),
	}
}

func groupDetections(detections []domain.Detection) map[domain.CanonicalLabel]*labelGroup {
	groups := make(map[domain.CanonicalLabel]*labelGroup)
	for _, d := range detections {
		d.Label = NormalizeLabel(string(d.Label))
		g, ok := groups[d.Label]
		if !ok {
			groups[d.Label] = &labelGroup{count: 1, best: d}
			continue
		}
		g.count++
		if outranks(d, g.best) {
			g.best = d
		}
	}
	return groups
}

// outranks orders detections by confidence, breaking ties on the box so that the
// chosen representative is independent of input order.
func outranks(a, b domain.Detection) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.BBox.X != b.BBox.X {
		return a.BBox.X < b.BBox.X
	}
	if a.BBox.Y != b.BBox.Y {
		return a.BBox.Y < b.BBox.Y
	}
	if a.BBox.W != b.BBox.W {
		return a.BBox.W < b.BBox.W
	}
	return a.BBox.H < b.BBox.H
}

func riskLevelFor(groups map[domain.CanonicalLabel]*labelGroup) domain.RiskLevel {
	if g, ok := groups[domain.LabelOralCancer]; ok && g.best.Confidence >= oralCancerRedThreshold {
		return domain.RiskRed
	}
	if _, ok := groups[domain.LabelCaries]; ok {
		return domain.RiskYellow
	}
	if _, ok := groups[domain.LabelTartar]; ok {
		return domain.RiskYellow
	}
	return domain.RiskGreen
}

func buildFindings(groups map[domain.CanonicalLabel]*labelGroup) []domain.Finding {
	_, hasNormal := groups[domain.LabelNormal]
	if len(groups) == 0 || (len(groups) == 1 && hasNormal) {
		return []domain.Finding{defaultFinding()}
	}

	findings := make([]domain.Finding, 0, maxFindings)
	for _, label := range domain.LabelPriority {
		g, ok := groups[label]
		if !ok {
			continue
		}
		if label == domain.LabelNormal && len(groups) > 1 {
			continue
		}

		findings = append(findings, domain.Finding{
			Title:        findingTitles[label],
			Severity:     severityFor(label, g.best.Confidence),
			LocationText: locationText(g.best.BBox),
			Evidence:     evidenceFor(label, g),
		})
		if len(findings) >= maxFindings {
			break
		}
	}
	return findings
}

func severityFor(label domain.CanonicalLabel, maxConfidence float64) string {
	if label == domain.LabelOralCancer && maxConfidence >= oralCancerRedThreshold {
		return "high"
	}
	if maxConfidence >= moderateSeverityThreshold {
		return "moderate"
	}
	return "mild"
}

// locationText names the jaw half and horizontal third holding the box centroid.
func locationText(box domain.BBox) string {
	if box.IsZero() {
		return "unspecified"
	}
	cx, cy := box.Centroid()

	vertical := "lower"
	if cy < 0.5 {
		vertical = "upper"
	}
	horizontal := "center"
	switch {
	case cx < 0.33:
		horizontal = "left"
	case cx > 0.67:
		horizontal = "right"
	}
	return vertical + "-" + horizontal
}

func evidenceFor(label domain.CanonicalLabel, g *labelGroup) []string {
	evidence := []string{
		fmt.Sprintf("%s x%d", label, g.count),
		fmt.Sprintf("max confidence %.2f", g.best.Confidence),
	}
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}
	return evidence
}

func defaultFinding() domain.Finding {
	return domain.Finding{
		Title:        "No Significant Finding",
		Severity:     "mild",
		LocationText: "whole area",
		Evidence:     []string{"no abnormal detections"},
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
