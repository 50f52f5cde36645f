package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	defaultFindingTitle    = "finding"
	defaultFindingDetail   = "Further review by a dental professional is recommended."
	defaultFindingEvidence = "AI-assisted screening"
)

// GenerationContext carries everything besides the detections that shapes a narrative.
type GenerationContext struct {
	QualityFailed bool
	Summary       map[string]any
	RagSources    []domain.RagSource
}

// Synthesizer produces schema-valid screening narratives. When a generative backend is
// configured it is asked once; whatever it returns is repaired field by field against the
// deterministic narrative of the RiskClassifier.
type Synthesizer struct {
	logger     *logrus.Logger
	classifier *RiskClassifier
	backend    domain.GenerativeBackend
	enabled    bool
	timeout    time.Duration
	language   string
}

// NewSynthesizer creates a new synthesizer. A nil backend disables generation.
func NewSynthesizer(
	cfg domain.GenerativeConfig,
	backend domain.GenerativeBackend,
	classifier *RiskClassifier,
	logger *logrus.Logger,
) *Synthesizer {
	if classifier == nil {
		classifier = NewRiskClassifier()
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &Synthesizer{
		logger:     logger,
		classifier: classifier,
		backend:    backend,
		enabled:    cfg.Enabled && backend != nil,
		timeout:    cfg.Timeout,
		language:   language,
	}
}

// Enabled reports whether a generative backend will be consulted.
func (s *Synthesizer) Enabled() bool {
	return s.enabled
}

// Fallback returns the deterministic narrative for the given inputs without calling out.
func (s *Synthesizer) Fallback(detections []domain.Detection, gen GenerationContext) domain.SynthesisResult {
	if gen.QualityFailed {
		return s.classifier.QualityFailedFallback()
	}
	return s.classifier.Fallback(NormalizeDetections(detections))
}

// Generate always returns a schema-valid narrative.
func (s *Synthesizer) Generate(ctx context.Context, detections []domain.Detection, gen GenerationContext) (result domain.SynthesisResult) {
	normalized := NormalizeDetections(detections)
	fallback := s.Fallback(normalized, gen)

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Narrative generation panicked, using deterministic narrative")
			result = fallback
		}
	}()

	if !s.enabled {
		return fallback
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.backend.Generate(callCtx, &domain.GenerationRequest{
		Prompt:     buildPrompt(normalized, gen, s.language),
		Detections: normalized,
		Summary:    gen.Summary,
		RagSources: gen.RagSources,
		Language:   s.language,
	})
	if err != nil {
		s.logger.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).
			Warn("Generative backend failed, using deterministic narrative")
		return fallback
	}

	parsed, err := decodeNarrative(raw)
	if err != nil {
		s.logger.WithError(err).WithField("body_bytes", len(raw)).
			Warn("Generative response unusable, using deterministic narrative")
		return fallback
	}

	result = enforceSchema(parsed, fallback)
	s.logger.WithFields(logrus.Fields{
		"risk_level":  result.RiskLevel,
		"findings":    len(result.Findings),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Generative narrative accepted")
	return result
}

// candidateNarrative is the loosely typed view of an untrusted backend response.
type candidateNarrative struct {
	riskLevel  string
	summary    string
	findings   []candidateFinding
	careGuide  []string
	disclaimer []string
}

type candidateFinding struct {
	title        string
	severity     string
	locationText string
	detail       string
	evidence     []string
}

func decodeNarrative(raw []byte) (*candidateNarrative, error) {
	body := stripCodeFence(strings.TrimSpace(string(raw)))
	if body == "" {
		return nil, fmt.Errorf("empty generative response: %w", domain.ErrUpstreamMalformed)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode generative response: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("generative response is not an object: %w", domain.ErrUpstreamMalformed)
	}

	c := &candidateNarrative{
		riskLevel:  firstString(doc, "riskLevel", "risk_level"),
		summary:    firstString(doc, "summary"),
		careGuide:  stringList(firstValue(doc, "careGuide", "care_guide")),
		disclaimer: stringList(firstValue(doc, "disclaimer")),
	}

	if items, ok := doc["findings"].([]any); ok {
		for _, item := range items {
			if f, ok := decodeFinding(item); ok {
				c.findings = append(c.findings, f)
			}
		}
	}
	if len(c.findings) == 0 {
		if details, ok := doc["details"].(string); ok && strings.TrimSpace(details) != "" {
			c.findings = []candidateFinding{{detail: strings.TrimSpace(details)}}
		}
	}
	return c, nil
}

func decodeFinding(item any) (candidateFinding, bool) {
	switch v := item.(type) {
	case map[string]any:
		return candidateFinding{
			title:        firstString(v, "title"),
			severity:     firstString(v, "severity"),
			locationText: firstString(v, "locationText", "location_text", "location"),
			detail:       firstString(v, "detail", "details", "description"),
			evidence:     stringList(firstValue(v, "evidence")),
		}, true
	case string:
		if strings.TrimSpace(v) == "" {
			return candidateFinding{}, false
		}
		return candidateFinding{detail: strings.TrimSpace(v)}, true
	default:
		return candidateFinding{}, false
	}
}

// enforceSchema keeps every candidate field that is valid and backfills the rest.
func enforceSchema(c *candidateNarrative, fallback domain.SynthesisResult) domain.SynthesisResult {
	result := fallback

	if level, err := domain.ParseRiskLevel(c.riskLevel); err == nil {
		result.RiskLevel = level
	}
	result.BadgeText = result.RiskLevel.BadgeText()

	if c.summary != "" {
		result.Summary = c.summary
	}

	if len(c.findings) > 0 {
		limit := len(c.findings)
		if limit > maxFindings {
			limit = maxFindings
		}
		findings := make([]domain.Finding, 0, limit)
		for _, f := range c.findings[:limit] {
			findings = append(findings, repairFinding(f))
		}
		result.Findings = findings
	}

	if len(c.careGuide) > 0 {
		result.CareGuide = c.careGuide
	}
	if len(c.disclaimer) > 0 {
		result.Disclaimer = c.disclaimer
	}
	return result
}

func repairFinding(f candidateFinding) domain.Finding {
	finding := domain.Finding{
		Title:        f.title,
		Severity:     f.severity,
		LocationText: f.locationText,
		Detail:       f.detail,
		Evidence:     f.evidence,
	}
	if finding.Title == "" {
		finding.Title = defaultFindingTitle
	}
	if finding.Detail == "" {
		finding.Detail = defaultFindingDetail
	}
	if len(finding.Evidence) == 0 {
		finding.Evidence = []string{defaultFindingEvidence}
	}
	if len(finding.Evidence) > maxEvidence {
		finding.Evidence = finding.Evidence[:maxEvidence]
	}
	return finding
}

func stripCodeFence(body string) string {
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

func firstValue(doc map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := doc[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// stringList accepts a string or a list and keeps the non-blank strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

func buildPrompt(detections []domain.Detection, gen GenerationContext, language string) string {
	var b strings.Builder
	b.WriteString("You are a dental screening assistant. Explain the screening result for a patient.\n")
	fmt.Fprintf(&b, "Respond in language %q with a single JSON object using the keys ", language)
	b.WriteString("riskLevel (GREEN, YELLOW or RED), summary, findings (at most 3 objects with ")
	b.WriteString("title, severity, locationText, detail, evidence), careGuide (list) and disclaimer (list).\n")

	if gen.QualityFailed {
		b.WriteString("The image quality was insufficient. Provide retake guidance only.\n")
	}

	if len(detections) == 0 {
		b.WriteString("Detections: none.\n")
	} else {
		b.WriteString("Detections:\n")
		for _, d := range detections {
			fmt.Fprintf(&b, "- %s confidence=%.2f bbox=(%.2f,%.2f,%.2f,%.2f)\n",
				d.Label, d.Confidence, d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H)
		}
	}

	if len(gen.Summary) > 0 {
		keys := make([]string, 0, len(gen.Summary))
		for k := range gen.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Detection summary:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, gen.Summary[k])
		}
	}

	if len(gen.RagSources) > 0 {
		b.WriteString("Reference context:\n")
		for _, src := range gen.RagSources {
			fmt.Fprintf(&b, "- [%s] %s\n", src.Source, src.Snippet)
		}
	}
	b.WriteString("Do not diagnose. Recommend professional care where appropriate.")
	return b.String()
}
