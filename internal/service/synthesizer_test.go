package service

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denticheck-screening-server/internal/domain"
)

type stubBackend struct {
	body    []byte
	err     error
	delay   time.Duration
	panics  bool
	lastReq *domain.GenerationRequest
}

func (s *stubBackend) Generate(ctx context.Context, req *domain.GenerationRequest) ([]byte, error) {
	s.lastReq = req
	if s.panics {
		panic("backend exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.body, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSynthesizer(backend domain.GenerativeBackend) *Synthesizer {
	return NewSynthesizer(domain.GenerativeConfig{
		Enabled: true,
		Timeout: 200 * time.Millisecond,
	}, backend, NewRiskClassifier(), quietLogger())
}

func assertSchemaValid(t *testing.T, r domain.SynthesisResult) {
	t.Helper()
	assert.True(t, r.RiskLevel.IsValid(), "risk level %q", r.RiskLevel)
	assert.NotEmpty(t, r.Summary)
	assert.NotEmpty(t, r.Findings)
	assert.LessOrEqual(t, len(r.Findings), 3)
	assert.NotEmpty(t, r.CareGuide)
	assert.NotEmpty(t, r.Disclaimer)
	for _, f := range r.Findings {
		assert.NotEmpty(t, f.Title)
		assert.NotEmpty(t, f.Evidence)
	}
}

var cavity = []domain.Detection{
	{Label: "cavity", Confidence: 0.9, BBox: domain.BBox{X: 0.2, Y: 0.3, W: 0.1, H: 0.1}},
}

func TestSynthesizer_DisabledReturnsFallback(t *testing.T) {
	backend := &stubBackend{body: []byte(`{"riskLevel":"RED"}`)}
	s := NewSynthesizer(domain.GenerativeConfig{Enabled: false}, backend, nil, quietLogger())

	result := s.Generate(context.Background(), cavity, GenerationContext{})

	assert.False(t, s.Enabled())
	assert.Nil(t, backend.lastReq)
	assert.Equal(t, NewRiskClassifier().Fallback(NormalizeDetections(cavity)), result)
}

func TestSynthesizer_BackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend *stubBackend
	}{
		{"transport error", &stubBackend{err: errors.New("connection refused")}},
		{"timeout", &stubBackend{body: []byte(`{"riskLevel":"RED"}`), delay: 2 * time.Second}},
		{"empty body", &stubBackend{body: nil}},
		{"not json", &stubBackend{body: []byte("<html>bad gateway</html>")}},
		{"json array", &stubBackend{body: []byte(`[1,2,3]`)}},
		{"json null", &stubBackend{body: []byte(`null`)}},
		{"panic", &stubBackend{panics: true}},
	}

	expected := NewRiskClassifier().Fallback(NormalizeDetections(cavity))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestSynthesizer(tt.backend).Generate(context.Background(), cavity, GenerationContext{})
			assert.Equal(t, expected, result)
		})
	}
}

func TestSynthesizer_FieldByFieldEnforcement(t *testing.T) {
	fallback := NewRiskClassifier().Fallback(NormalizeDetections(cavity))

	t.Run("valid response is kept", func(t *testing.T) {
		backend := &stubBackend{body: []byte(`{
			"riskLevel": "red",
			"summary": "Suspicious area found.",
			"findings": [{"title": "Lesion", "severity": "high", "detail": "See a specialist.", "evidence": ["oral_cancer x1"]}],
			"careGuide": ["Visit a clinic this week."],
			"disclaimer": ["Not a diagnosis."]
		}`)}

		result := newTestSynthesizer(backend).Generate(context.Background(), cavity, GenerationContext{})

		assert.Equal(t, domain.RiskRed, result.RiskLevel)
		assert.Equal(t, "High Risk", result.BadgeText)
		assert.Equal(t, "Suspicious area found.", result.Summary)
		require.Len(t, result.Findings, 1)
		assert.Equal(t, "Lesion", result.Findings[0].Title)
		assert.Equal(t, []string{"Visit a clinic this week."}, result.CareGuide)
		assert.Equal(t, []string{"Not a diagnosis."}, result.Disclaimer)
	})

	t.Run("invalid fields are backfilled individually", func(t *testing.T) {
		backend := &stubBackend{body: []byte(`{
			"riskLevel": "PURPLE",
			"summary": "   ",
			"findings": [],
			"careGuide": [],
			"disclaimer": "Only guidance."
		}`)}

		result := newTestSynthesizer(backend).Generate(context.Background(), cavity, GenerationContext{})

		assert.Equal(t, fallback.RiskLevel, result.RiskLevel)
		assert.Equal(t, fallback.Summary, result.Summary)
		assert.Equal(t, fallback.Findings, result.Findings)
		assert.Equal(t, fallback.CareGuide, result.CareGuide)
		assert.Equal(t, []string{"Only guidance."}, result.Disclaimer)
	})

	t.Run("findings are repaired and capped", func(t *testing.T) {
		backend := &stubBackend{body: []byte(`{
			"risk_level": "YELLOW",
			"findings": [{}, {"title": "Tartar"}, "plain text finding", {"title": "fourth"}],
			"care_guide": "Brush twice daily."
		}`)}

		result := newTestSynthesizer(backend).Generate(context.Background(), cavity, GenerationContext{})

		require.Len(t, result.Findings, 3)
		assert.Equal(t, "finding", result.Findings[0].Title)
		assert.Equal(t, "Further review by a dental professional is recommended.", result.Findings[0].Detail)
		assert.Equal(t, []string{"AI-assisted screening"}, result.Findings[0].Evidence)
		assert.Equal(t, "Tartar", result.Findings[1].Title)
		assert.Equal(t, "plain text finding", result.Findings[2].Detail)
		assert.Equal(t, []string{"Brush twice daily."}, result.CareGuide)
	})

	t.Run("details string becomes a finding", func(t *testing.T) {
		backend := &stubBackend{body: []byte("```json\n{\"riskLevel\":\"GREEN\",\"details\":\"Looks healthy.\"}\n```")}

		result := newTestSynthesizer(backend).Generate(context.Background(), cavity, GenerationContext{})

		assert.Equal(t, domain.RiskGreen, result.RiskLevel)
		require.Len(t, result.Findings, 1)
		assert.Equal(t, "Looks healthy.", result.Findings[0].Detail)
	})
}

func TestSynthesizer_QualityFailedContext(t *testing.T) {
	backend := &stubBackend{err: errors.New("down")}

	result := newTestSynthesizer(backend).Generate(context.Background(), nil, GenerationContext{QualityFailed: true})

	assert.Equal(t, NewRiskClassifier().QualityFailedFallback(), result)
}

func TestSynthesizer_PromptCarriesContext(t *testing.T) {
	backend := &stubBackend{body: []byte(`{}`)}
	gen := GenerationContext{
		Summary:    map[string]any{"count": 1},
		RagSources: []domain.RagSource{{Source: "guide.pdf", Score: 0.8, Snippet: "Caries management"}},
	}

	newTestSynthesizer(backend).Generate(context.Background(), cavity, gen)

	require.NotNil(t, backend.lastReq)
	assert.Equal(t, domain.LabelCaries, backend.lastReq.Detections[0].Label)
	assert.Contains(t, backend.lastReq.Prompt, "caries confidence=0.90")
	assert.Contains(t, backend.lastReq.Prompt, "[guide.pdf] Caries management")
	assert.Contains(t, backend.lastReq.Prompt, "count: 1")
	assert.Equal(t, "en", backend.lastReq.Language)
}

func TestSynthesizer_FuzzMalformedResponses(t *testing.T) {
	shapes := []string{
		`{"riskLevel": 3}`,
		`{"riskLevel": null, "summary": 12, "findings": "none"}`,
		`{"findings": [null, 1, true, []]}`,
		`{"findings": [{"title": 5, "evidence": [1, 2]}]}`,
		`{"careGuide": [null, ""], "disclaimer": {}}`,
		`{"summary": "ok", "findings": [{"evidence": "single"}]}`,
		`""`,
		`"RED"`,
		`{}`,
		"```\n```",
		`{"riskLevel":"RED"`,
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)
		shapes = append(shapes, string(buf))
	}

	for _, detections := range [][]domain.Detection{nil, cavity, {{Label: "lesion", Confidence: 0.6}}} {
		for _, shape := range shapes {
			result := newTestSynthesizer(&stubBackend{body: []byte(shape)}).
				Generate(context.Background(), detections, GenerationContext{})
			assertSchemaValid(t, result)
		}
	}
}
