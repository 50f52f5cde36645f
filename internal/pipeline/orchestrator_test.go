package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/report"
	"github.com/denticheck-screening-server/internal/service"
)

type fakeQuality struct {
	assessment *domain.QualityAssessment
	err        error
	calls      int
}

func (f *fakeQuality) AssessQuality(ctx context.Context, _ *domain.UploadedImage) (*domain.QualityAssessment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assessment, nil
}

type fakeDetector struct {
	result    *domain.DetectionResult
	err       error
	panics    bool
	block     bool
	cancelled chan struct{}
	calls     int
}

func (f *fakeDetector) Detect(ctx context.Context, _ *domain.UploadedImage) (*domain.DetectionResult, error) {
	f.calls++
	if f.panics {
		panic("detector exploded")
	}
	if f.block {
		<-ctx.Done()
		close(f.cancelled)
		return nil, ctx.Err()
	}
	return f.result, f.err
}

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string) domain.RagSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return domain.RagSummary{TopK: 8, Sources: []domain.RagSource{{Source: "kda/guide.md", Score: 0.8}}}
}

type fakeRenderer struct {
	mu    sync.Mutex
	views []domain.ReportViewModel
	err   error
}

func (f *fakeRenderer) Render(_ string, vm domain.ReportViewModel) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, vm)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 fake"), nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, sessionID string, pdf []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(pdf) == 0 {
		return ""
	}
	return "http://localhost:8080/reports/" + sessionID + ".pdf"
}

type fakeTracker struct {
	mu          sync.Mutex
	operations  map[string]string
	transitions map[string][]domain.SessionStatus
	err         error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{operations: map[string]string{}, transitions: map[string][]domain.SessionStatus{}}
}

func (f *fakeTracker) Begin(_ context.Context, sessionID, operation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations[sessionID] = operation
	f.transitions[sessionID] = []domain.SessionStatus{domain.StatusUploaded}
	return f.err
}

func (f *fakeTracker) Advance(_ context.Context, sessionID string, status domain.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions[sessionID] = append(f.transitions[sessionID], status)
	return f.err
}

func (f *fakeTracker) history(sessionID string) []domain.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionStatus(nil), f.transitions[sessionID]...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*domain.ScreeningRecord
}

func (f *fakeRecorder) Record(_ context.Context, rec *domain.ScreeningRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return errors.New("database unavailable")
}

type harness struct {
	quality   *fakeQuality
	detector  *fakeDetector
	retriever *fakeRetriever
	renderer  *fakeRenderer
	publisher *fakePublisher
	tracker   *fakeTracker
	recorder  *fakeRecorder
	logs      *logtest.Hook
	orch      *Orchestrator
}

func newHarness(analyzeTimeout time.Duration) *harness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		quality:   &fakeQuality{assessment: &domain.QualityAssessment{Pass: true, Score: 0.93, Reasons: nil}},
		detector:  &fakeDetector{result: &domain.DetectionResult{}},
		retriever: &fakeRetriever{},
		renderer:  &fakeRenderer{},
		publisher: &fakePublisher{},
		tracker:   newFakeTracker(),
		recorder:  &fakeRecorder{},
		logs:      logtest.NewLocal(logger),
	}
	h.orch = New(Dependencies{
		Quality:     h.quality,
		Detector:    h.detector,
		Retriever:   h.retriever,
		Synthesizer: service.NewSynthesizer(domain.GenerativeConfig{}, nil, service.NewRiskClassifier(), logger),
		Composer:    report.NewComposer("en"),
		Renderer:    h.renderer,
		Publisher:   h.publisher,
		Sessions:    h.tracker,
		Records:     h.recorder,
	}, domain.AnalyzeConfig{Timeout: analyzeTimeout}, logger)
	h.orch.newID = func() string { return "session-1" }
	return h
}

func validImage() *domain.UploadedImage {
	return &domain.UploadedImage{Filename: "teeth.JPG", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name    string
		image   *domain.UploadedImage
		wantErr bool
	}{
		{"nil image", nil, true},
		{"empty data", &domain.UploadedImage{Filename: "a.png"}, true},
		{"unsupported extension", &domain.UploadedImage{Filename: "a.gif", Data: []byte{1}}, true},
		{"no extension", &domain.UploadedImage{Filename: "photo", Data: []byte{1}}, true},
		{"jpg", &domain.UploadedImage{Filename: "a.jpg", Data: []byte{1}}, false},
		{"upper case jpeg", &domain.UploadedImage{Filename: "A.JPEG", Data: []byte{1}}, false},
		{"png", &domain.UploadedImage{Filename: "a.png", Data: []byte{1}}, false},
		{"webp", &domain.UploadedImage{Filename: "a.webp", Data: []byte{1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.image)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var validationErr *domain.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, "file", validationErr.Field)
		})
	}
}

func TestFacades_RejectInvalidInputBeforeRemoteCalls(t *testing.T) {
	h := newHarness(time.Second)
	bad := &domain.UploadedImage{Filename: "scan.bmp", Data: []byte{1}}

	run, err := h.orch.Run(context.Background(), bad)
	assert.Nil(t, run)
	assert.Error(t, err)

	quick, err := h.orch.RunQuick(context.Background(), bad)
	assert.Nil(t, quick)
	assert.Error(t, err)

	analyze, err := h.orch.RunAnalyze(context.Background(), &domain.UploadedImage{Filename: "a.png"}, true)
	assert.Nil(t, analyze)
	assert.Error(t, err)

	assert.Zero(t, h.quality.calls)
	assert.Empty(t, h.tracker.operations)
}

func TestRun_DetectionPipeline(t *testing.T) {
	h := newHarness(time.Second)
	h.detector.result = &domain.DetectionResult{
		Detections: []domain.Detection{
			{Label: "cavity", Confidence: 0.9, BBox: domain.BBox{X: 0.2, Y: 0.3, W: 0.1, H: 0.1}},
		},
		Summary: map[string]any{"count": 1.0},
	}

	result, err := h.orch.Run(context.Background(), validImage())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, result.Status)
	assert.Equal(t, "session-1", result.SessionID)
	assert.Equal(t, "ai-check/session-1/upload", result.StorageKey)
	assert.True(t, result.QualityPass)
	assert.Equal(t, 0.93, result.QualityScore)
	assert.NotNil(t, result.QualityReasons)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, domain.LabelCaries, result.Detections[0].Label)
	assert.Equal(t, domain.RiskYellow, result.RiskNarrative.RiskLevel)
	require.Len(t, result.RiskNarrative.Findings, 1)
	assert.Equal(t, "upper-left", result.RiskNarrative.Findings[0].LocationText)
	assert.Equal(t, "http://localhost:8080/reports/session-1.pdf", result.PDFURL)
	assert.Nil(t, result.Error)
	assert.Equal(t, "kda/guide.md", result.Rag.Sources[0].Source)

	require.Len(t, h.retriever.queries, 1)
	assert.Equal(t, "Detected findings: {caries=1}. Detection summary: {count=1}. "+
		"Provide clinical explanation, risk level, care guide, and evidence-based citations.", h.retriever.queries[0])

	assert.Equal(t, []domain.SessionStatus{domain.StatusUploaded, domain.StatusAnalyzing, domain.StatusDone}, h.tracker.history("session-1"))
	assert.Equal(t, OperationRun, h.tracker.operations["session-1"])
	require.Len(t, h.recorder.records, 1, "record failures are logged, not fatal")
	assert.Equal(t, domain.RiskYellow, h.recorder.records[0].RiskLevel)
}

func TestRun_CompletionLogCarriesRiskFields(t *testing.T) {
	h := newHarness(time.Second)
	h.detector.result = &domain.DetectionResult{
		Detections: []domain.Detection{{Label: "cavity", Confidence: 0.9, BBox: domain.BBox{X: 0.2, Y: 0.3, W: 0.1, H: 0.1}}},
	}

	_, err := h.orch.Run(context.Background(), validImage())
	require.NoError(t, err)

	var completed *logrus.Entry
	for _, entry := range h.logs.AllEntries() {
		if entry.Message == "Screening completed" {
			completed = entry
		}
	}
	require.NotNil(t, completed)
	for key, want := range domain.RiskYellow.LogFields() {
		assert.Equal(t, want, completed.Data[key], key)
	}
	assert.Equal(t, domain.StatusDone, completed.Data["status"])
}

func TestRun_QualityFailedStillPublishesReport(t *testing.T) {
	h := newHarness(time.Second)
	h.quality.assessment = &domain.QualityAssessment{Pass: false, Score: 0.21, Reasons: []string{"blurry"}}

	result, err := h.orch.Run(context.Background(), validImage())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusQualityFailed, result.Status)
	assert.Empty(t, result.Detections)
	assert.NotNil(t, result.Detections)
	assert.Equal(t, []string{"blurry"}, result.QualityReasons)
	assert.NotEmpty(t, result.PDFURL)
	assert.Zero(t, h.detector.calls)
	assert.Equal(t, []string{lowQualityQuery}, h.retriever.queries)

	require.Len(t, h.renderer.views, 1)
	assert.Contains(t, h.renderer.views[0].Actions, "Retake in a bright environment.")
	assert.Equal(t, "Image quality was insufficient for precise analysis.", result.RiskNarrative.Summary)
	assert.Equal(t, []domain.SessionStatus{domain.StatusUploaded, domain.StatusQualityFailed}, h.tracker.history("session-1"))
}

func TestRun_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		status []domain.SessionStatus
	}{
		{
			name:   "quality service down",
			setup:  func(h *harness) { h.quality.err = errors.New("dial tcp 10.0.0.7:8000: connection refused") },
			status: []domain.SessionStatus{domain.StatusUploaded, domain.StatusError},
		},
		{
			name:   "detection service down",
			setup:  func(h *harness) { h.detector.err = errors.New("model service /v1/detect returned status 502") },
			status: []domain.SessionStatus{domain.StatusUploaded, domain.StatusAnalyzing, domain.StatusError},
		},
		{
			name:   "detector panics",
			setup:  func(h *harness) { h.detector.panics = true },
			status: []domain.SessionStatus{domain.StatusUploaded, domain.StatusAnalyzing, domain.StatusError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Second)
			tt.setup(h)

			result, err := h.orch.Run(context.Background(), validImage())

			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, result.Status)
			require.NotNil(t, result.Error)
			assert.Equal(t, domain.ErrCodeAnalysisFailed, result.Error.Code)
			assert.Equal(t, "analysis failed", result.Error.Message)
			assert.Empty(t, result.Detections)
			assert.True(t, result.RiskNarrative.RiskLevel.IsValid())
			assert.NotEmpty(t, result.PDFURL)
			assert.True(t, result.Rag.UsedFallback)
			assert.Equal(t, tt.status, h.tracker.history("session-1"))
		})
	}
}

func TestRun_RenderFailureYieldsEmptyURL(t *testing.T) {
	h := newHarness(time.Second)
	h.renderer.err = errors.New("font table corrupt")

	result, err := h.orch.Run(context.Background(), validImage())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, result.Status)
	assert.Equal(t, "", result.PDFURL)
	assert.Zero(t, h.publisher.calls)
}

func TestRun_LedgerFailuresAreNotFatal(t *testing.T) {
	h := newHarness(time.Second)
	h.tracker.err = errors.New("database is locked")

	result, err := h.orch.Run(context.Background(), validImage())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, result.Status)
}

func TestRunQuick(t *testing.T) {
	t.Run("returns normalized detections only", func(t *testing.T) {
		h := newHarness(time.Second)
		h.detector.result = &domain.DetectionResult{
			Detections: []domain.Detection{{Label: "Plaque", Confidence: 0.4}},
		}

		result, err := h.orch.RunQuick(context.Background(), validImage())

		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, result.Status)
		require.Len(t, result.Detections, 1)
		assert.Equal(t, domain.LabelTartar, result.Detections[0].Label)
		assert.NotNil(t, result.DetectionSummary)
		assert.Empty(t, h.retriever.queries)
		assert.Empty(t, h.renderer.views)
		assert.Equal(t, OperationQuick, h.tracker.operations["session-1"])
	})

	t.Run("quality failure skips detection", func(t *testing.T) {
		h := newHarness(time.Second)
		h.quality.assessment = &domain.QualityAssessment{Pass: false}

		result, err := h.orch.RunQuick(context.Background(), validImage())

		require.NoError(t, err)
		assert.Equal(t, domain.StatusQualityFailed, result.Status)
		assert.Empty(t, result.Detections)
		assert.Zero(t, h.detector.calls)
	})

	t.Run("detection failure", func(t *testing.T) {
		h := newHarness(time.Second)
		h.detector.err = errors.New("boom")

		result, err := h.orch.RunQuick(context.Background(), validImage())

		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, result.Status)
		assert.True(t, result.QualityPass)
		assert.Equal(t, domain.ErrCodeAnalysisFailed, result.Error.Code)
	})

	t.Run("panic is contained", func(t *testing.T) {
		h := newHarness(time.Second)
		h.detector.panics = true

		result, err := h.orch.RunQuick(context.Background(), validImage())

		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, result.Status)
	})
}

func TestRunAnalyze(t *testing.T) {
	t.Run("pdf generated on request", func(t *testing.T) {
		h := newHarness(time.Second)
		h.detector.result = &domain.DetectionResult{
			Detections: []domain.Detection{{Label: "lesion", Confidence: 0.6}},
		}

		result, err := h.orch.RunAnalyze(context.Background(), validImage(), true)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, result.Status)
		assert.Equal(t, domain.RiskRed, result.RiskNarrative.RiskLevel)
		assert.Equal(t, "high", result.RiskNarrative.Findings[0].Severity)
		assert.NotEmpty(t, result.PDFURL)
		assert.False(t, result.Rag.UsedFallback)
		require.Len(t, h.renderer.views, 1)
		assert.Equal(t, domain.VisitUrgent, h.renderer.views[0].Visit.Level)
		assert.Equal(t, []domain.SessionStatus{domain.StatusUploaded, domain.StatusAnalyzing, domain.StatusDone}, h.tracker.history("session-1"))
	})

	t.Run("generatePdf=false skips rendering", func(t *testing.T) {
		h := newHarness(time.Second)

		result, err := h.orch.RunAnalyze(context.Background(), validImage(), false)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, result.Status)
		assert.Equal(t, "", result.PDFURL)
		assert.Empty(t, h.renderer.views)
		assert.Zero(t, h.publisher.calls)
	})

	t.Run("quality failure", func(t *testing.T) {
		h := newHarness(time.Second)
		h.quality.assessment = &domain.QualityAssessment{Pass: false}

		result, err := h.orch.RunAnalyze(context.Background(), validImage(), true)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusQualityFailed, result.Status)
		assert.Empty(t, result.Detections)
		assert.NotEmpty(t, result.PDFURL)
		assert.Equal(t, []string{lowQualityQuery}, h.retriever.queries)
	})

	t.Run("upstream failure returns canned fallback", func(t *testing.T) {
		h := newHarness(time.Second)
		h.quality.err = errors.New("connection reset")

		result, err := h.orch.RunAnalyze(context.Background(), validImage(), true)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, result.Status)
		assert.Equal(t, domain.ErrCodeAnalysisFailed, result.Error.Code)
		assert.True(t, result.Rag.UsedFallback)
		assert.Equal(t, domain.RiskGreen, result.RiskNarrative.RiskLevel)
	})

	t.Run("panic returns canned fallback", func(t *testing.T) {
		h := newHarness(time.Second)
		h.detector.panics = true

		result, err := h.orch.RunAnalyze(context.Background(), validImage(), false)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, result.Status)
		assert.Equal(t, domain.ErrCodeAnalysisFailed, result.Error.Code)
	})
}

func TestRunAnalyze_TimeoutCancelsWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(50 * time.Millisecond)
	h.detector.block = true
	h.detector.cancelled = make(chan struct{})

	start := time.Now()
	result, err := h.orch.RunAnalyze(context.Background(), validImage(), true)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, domain.StatusError, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.ErrCodeAnalysisTimeout, result.Error.Code)
	assert.Empty(t, result.Detections)
	assert.True(t, result.Rag.UsedFallback)
	assert.True(t, result.RiskNarrative.RiskLevel.IsValid())
	assert.Equal(t, "", result.PDFURL)

	select {
	case <-h.detector.cancelled:
	case <-time.After(time.Second):
		t.Fatal("detection call was not cancelled")
	}
	assert.Empty(t, h.renderer.views)

	history := h.tracker.history("session-1")
	assert.Contains(t, history, domain.StatusError)
	assert.NotContains(t, history, domain.StatusDone)
}

func TestDetectionQuery(t *testing.T) {
	detections := []domain.Detection{
		{Label: domain.LabelTartar},
		{Label: domain.LabelCaries},
		{Label: domain.LabelTartar},
	}

	assert.Equal(t,
		"Detected findings: {tartar=2, caries=1}. Detection summary: {model=v8, total=3}. "+
			"Provide clinical explanation, risk level, care guide, and evidence-based citations.",
		DetectionQuery(detections, map[string]any{"total": 3, "model": "v8"}))

	assert.Equal(t,
		"Detected findings: {}. Detection summary: {}. "+
			"Provide clinical explanation, risk level, care guide, and evidence-based citations.",
		DetectionQuery(nil, nil))
}
