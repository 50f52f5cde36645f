// Package pipeline sequences a screening: gate, quality, detection, narrative, report and
// publication. Every façade operation returns a structured result; the only error surfaced
// to callers is a *domain.ValidationError from the input gate.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/report"
	"github.com/denticheck-screening-server/internal/service"
)

const (
	OperationRun     = "run"
	OperationQuick   = "quick"
	OperationAnalyze = "analyze"

	DefaultAnalyzeTimeout = 25 * time.Second
	defaultRagTopK        = 8
	ledgerTimeout         = 5 * time.Second

	lowQualityQuery = "Low quality dental image. Provide retry guidance and safe disclaimer."
)

// ReportRenderer turns a view model into PDF bytes.
type ReportRenderer interface {
	Render(sessionID string, vm domain.ReportViewModel) ([]byte, error)
}

// Dependencies are the collaborators of an Orchestrator. Sessions and Records are optional.
type Dependencies struct {
	Quality     domain.QualityAssessor
	Detector    domain.DetectionClient
	Retriever   domain.ContextRetriever
	Synthesizer *service.Synthesizer
	Composer    *report.Composer
	Renderer    ReportRenderer
	Publisher   domain.ReportPublisher
	Sessions    domain.SessionTracker
	Records     domain.ScreeningRecorder
}

// Orchestrator implements the run, quick and analyze façades.
type Orchestrator struct {
	deps           Dependencies
	analyzeTimeout time.Duration
	logger         *logrus.Logger
	newID          func() string
	now            func() time.Time
}

// New creates an orchestrator
func New(deps Dependencies, config domain.AnalyzeConfig, logger *logrus.Logger) *Orchestrator {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultAnalyzeTimeout
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = service.NewSynthesizer(domain.GenerativeConfig{}, nil, nil, logger)
	}
	if deps.Composer == nil {
		deps.Composer = report.NewComposer("en")
	}
	return &Orchestrator{
		deps:           deps,
		analyzeTimeout: timeout,
		logger:         logger,
		newID:          uuid.NewString,
		now:            time.Now,
	}
}

// Run executes the full pipeline and always publishes a report, including for rejected images.
func (o *Orchestrator) Run(ctx context.Context, image *domain.UploadedImage) (result *domain.RunResult, err error) {
	if err := ValidateImage(image); err != nil {
		return nil, err
	}

	start := o.now()
	sessionID := o.newID()
	log := o.logger.WithFields(logrus.Fields{"session_id": sessionID, "operation": OperationRun})
	o.begin(ctx, sessionID, OperationRun)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Screening pipeline panicked")
			result = o.runFailure(ctx, sessionID)
		}
		o.finish(ctx, sessionID, result.Status)
		o.record(ctx, &domain.ScreeningRecord{
			SessionID:      sessionID,
			Operation:      OperationRun,
			Status:         result.Status,
			RiskLevel:      result.RiskNarrative.RiskLevel,
			QualityScore:   result.QualityScore,
			Detections:     result.Detections,
			Narrative:      result.RiskNarrative,
			PDFURL:         result.PDFURL,
			UsedFallback:   result.Rag.UsedFallback,
			ProcessingTime: o.now().Sub(start),
			CreatedAt:      start,
		})
	}()

	result, runErr := o.run(ctx, sessionID, image)
	if runErr != nil {
		log.WithError(runErr).Error("Screening pipeline failed")
		return o.runFailure(ctx, sessionID), nil
	}

	log.WithFields(logrus.Fields(result.RiskNarrative.RiskLevel.LogFields())).WithFields(logrus.Fields{
		"status":      result.Status,
		"detections":  len(result.Detections),
		"duration_ms": o.now().Sub(start).Milliseconds(),
	}).Info("Screening completed")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, image *domain.UploadedImage) (*domain.RunResult, error) {
	// Step 1: quality gate
	quality, err := o.deps.Quality.AssessQuality(ctx, image)
	if err != nil {
		return nil, err
	}

	result := &domain.RunResult{
		SessionID:        sessionID,
		StorageKey:       StorageKey(sessionID),
		QualityPass:      quality.Pass,
		QualityScore:     quality.Score,
		QualityReasons:   nonNilStrings(quality.Reasons),
		Detections:       []domain.Detection{},
		DetectionSummary: map[string]any{},
	}

	if !quality.Pass {
		result.Status = domain.StatusQualityFailed
		result.Rag = o.deps.Retriever.Retrieve(ctx, lowQualityQuery)
		result.RiskNarrative = o.deps.Synthesizer.Fallback(nil, service.GenerationContext{QualityFailed: true})
		result.PDFURL = o.publishReport(ctx, sessionID, result.RiskNarrative, nil)
		return result, nil
	}

	o.advance(ctx, sessionID, domain.StatusAnalyzing)

	// Step 2: detection
	detected, err := o.deps.Detector.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	detections := service.NormalizeDetections(detected.Detections)
	summary := nonNilMap(detected.Summary)

	// Step 3: supporting context and narrative
	rag := o.deps.Retriever.Retrieve(ctx, DetectionQuery(detections, summary))
	narrative := o.deps.Synthesizer.Generate(ctx, detections, service.GenerationContext{
		Summary:    summary,
		RagSources: rag.Sources,
	})

	// Step 4: report
	result.Status = domain.StatusDone
	result.Detections = detections
	result.DetectionSummary = summary
	result.Rag = rag
	result.RiskNarrative = narrative
	result.PDFURL = o.publishReport(ctx, sessionID, narrative, detections)
	return result, nil
}

func (o *Orchestrator) runFailure(ctx context.Context, sessionID string) *domain.RunResult {
	narrative := o.deps.Synthesizer.Fallback(nil, service.GenerationContext{})
	return &domain.RunResult{
		SessionID:        sessionID,
		Status:           domain.StatusError,
		StorageKey:       StorageKey(sessionID),
		QualityReasons:   []string{},
		Detections:       []domain.Detection{},
		DetectionSummary: map[string]any{},
		RiskNarrative:    narrative,
		Rag:              fallbackRag(),
		PDFURL:           o.publishReport(ctx, sessionID, narrative, nil),
		Error:            domain.NewAnalysisFailure(),
	}
}

// RunQuick stops after detection: no retrieval, narrative or report.
func (o *Orchestrator) RunQuick(ctx context.Context, image *domain.UploadedImage) (result *domain.QuickResult, err error) {
	if err := ValidateImage(image); err != nil {
		return nil, err
	}

	start := o.now()
	sessionID := o.newID()
	log := o.logger.WithFields(logrus.Fields{"session_id": sessionID, "operation": OperationQuick})
	o.begin(ctx, sessionID, OperationQuick)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Quick screening panicked")
			result = quickFailure(sessionID)
		}
		o.finish(ctx, sessionID, result.Status)
		o.record(ctx, &domain.ScreeningRecord{
			SessionID:      sessionID,
			Operation:      OperationQuick,
			Status:         result.Status,
			QualityScore:   result.QualityScore,
			Detections:     result.Detections,
			ProcessingTime: o.now().Sub(start),
			CreatedAt:      start,
		})
	}()

	quality, qErr := o.deps.Quality.AssessQuality(ctx, image)
	if qErr != nil {
		log.WithError(qErr).Error("Quality check failed")
		return quickFailure(sessionID), nil
	}

	result = &domain.QuickResult{
		SessionID:        sessionID,
		StorageKey:       StorageKey(sessionID),
		QualityPass:      quality.Pass,
		QualityScore:     quality.Score,
		QualityReasons:   nonNilStrings(quality.Reasons),
		Detections:       []domain.Detection{},
		DetectionSummary: map[string]any{},
	}
	if !quality.Pass {
		result.Status = domain.StatusQualityFailed
		return result, nil
	}

	o.advance(ctx, sessionID, domain.StatusAnalyzing)

	detected, dErr := o.deps.Detector.Detect(ctx, image)
	if dErr != nil {
		log.WithError(dErr).Error("Detection failed")
		failed := quickFailure(sessionID)
		failed.QualityPass = quality.Pass
		failed.QualityScore = quality.Score
		failed.QualityReasons = result.QualityReasons
		return failed, nil
	}

	result.Status = domain.StatusDone
	result.Detections = service.NormalizeDetections(detected.Detections)
	result.DetectionSummary = nonNilMap(detected.Summary)
	log.WithField("detections", len(result.Detections)).Info("Quick screening completed")
	return result, nil
}

func quickFailure(sessionID string) *domain.QuickResult {
	return &domain.QuickResult{
		SessionID:        sessionID,
		Status:           domain.StatusError,
		StorageKey:       StorageKey(sessionID),
		QualityReasons:   []string{},
		Detections:       []domain.Detection{},
		DetectionSummary: map[string]any{},
		Error:            domain.NewAnalysisFailure(),
	}
}

type analyzeOutcome struct {
	result *domain.AnalyzeResult
	err    error
}

// RunAnalyze runs the narrative-first pipeline under the analyze budget. When the budget
// elapses the pipeline context is cancelled so upstream work stops, and a canned result is
// returned at once.
func (o *Orchestrator) RunAnalyze(ctx context.Context, image *domain.UploadedImage, generatePDF bool) (*domain.AnalyzeResult, error) {
	if err := ValidateImage(image); err != nil {
		return nil, err
	}

	start := o.now()
	sessionID := o.newID()
	log := o.logger.WithFields(logrus.Fields{"session_id": sessionID, "operation": OperationAnalyze})
	o.begin(ctx, sessionID, OperationAnalyze)

	runCtx, cancel := context.WithTimeout(ctx, o.analyzeTimeout)
	defer cancel()

	done := make(chan analyzeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- analyzeOutcome{err: fmt.Errorf("analyze pipeline panicked: %v", r)}
			}
		}()
		result, err := o.analyze(runCtx, sessionID, image, generatePDF)
		done <- analyzeOutcome{result: result, err: err}
	}()

	var result *domain.AnalyzeResult
	select {
	case out := <-done:
		if out.err != nil {
			log.WithError(out.err).Warn("Analyze pipeline failed, returning fallback")
			result = o.analyzeFallback(sessionID, domain.NewAnalysisFailure())
		} else {
			result = out.result
		}
	case <-runCtx.Done():
		cancel()
		log.WithFields(logrus.Fields{
			"budget_ms": o.analyzeTimeout.Milliseconds(),
			"cause":     runCtx.Err(),
		}).Warn("Analyze pipeline exceeded its budget, returning fallback")
		result = o.analyzeFallback(sessionID, domain.NewTimeoutFailure())
	}

	o.finish(ctx, sessionID, result.Status)
	o.record(ctx, &domain.ScreeningRecord{
		SessionID:      sessionID,
		Operation:      OperationAnalyze,
		Status:         result.Status,
		RiskLevel:      result.RiskNarrative.RiskLevel,
		Detections:     result.Detections,
		Narrative:      result.RiskNarrative,
		PDFURL:         result.PDFURL,
		UsedFallback:   result.Rag.UsedFallback,
		ProcessingTime: o.now().Sub(start),
		CreatedAt:      start,
	})
	return result, nil
}

func (o *Orchestrator) analyze(ctx context.Context, sessionID string, image *domain.UploadedImage, generatePDF bool) (*domain.AnalyzeResult, error) {
	quality, err := o.deps.Quality.AssessQuality(ctx, image)
	if err != nil {
		return nil, err
	}

	if !quality.Pass {
		rag := o.deps.Retriever.Retrieve(ctx, lowQualityQuery)
		narrative := o.deps.Synthesizer.Generate(ctx, nil, service.GenerationContext{
			QualityFailed: true,
			Summary:       map[string]any{"qualityPass": false},
			RagSources:    rag.Sources,
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := &domain.AnalyzeResult{
			SessionID:     sessionID,
			Status:        domain.StatusQualityFailed,
			Detections:    []domain.Detection{},
			RiskNarrative: narrative,
			Rag:           rag,
		}
		if generatePDF {
			result.PDFURL = o.publishReport(ctx, sessionID, narrative, nil)
		}
		return result, nil
	}

	o.advance(ctx, sessionID, domain.StatusAnalyzing)

	detected, err := o.deps.Detector.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	detections := service.NormalizeDetections(detected.Detections)
	summary := nonNilMap(detected.Summary)

	rag := o.deps.Retriever.Retrieve(ctx, DetectionQuery(detections, summary))
	narrative := o.deps.Synthesizer.Generate(ctx, detections, service.GenerationContext{
		Summary:    summary,
		RagSources: rag.Sources,
	})
	// Retrieval and synthesis degrade instead of failing; a spent budget must still win.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &domain.AnalyzeResult{
		SessionID:     sessionID,
		Status:        domain.StatusDone,
		Detections:    detections,
		RiskNarrative: narrative,
		Rag:           rag,
	}
	if generatePDF {
		result.PDFURL = o.publishReport(ctx, sessionID, narrative, detections)
	}
	return result, nil
}

func (o *Orchestrator) analyzeFallback(sessionID string, failure *domain.PipelineFailure) *domain.AnalyzeResult {
	return &domain.AnalyzeResult{
		SessionID:     sessionID,
		Status:        domain.StatusError,
		Detections:    []domain.Detection{},
		RiskNarrative: o.deps.Synthesizer.Fallback(nil, service.GenerationContext{}),
		Rag:           fallbackRag(),
		Error:         failure,
	}
}

// publishReport composes, renders and publishes. A render failure yields "" like a storage
// failure does.
func (o *Orchestrator) publishReport(ctx context.Context, sessionID string, narrative domain.SynthesisResult, detections []domain.Detection) (url string) {
	if o.deps.Renderer == nil || o.deps.Publisher == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).WithField("session_id", sessionID).Error("Report generation panicked")
			url = ""
		}
	}()
	vm := o.deps.Composer.ToViewModel(narrative, detections)
	pdf, err := o.deps.Renderer.Render(sessionID, vm)
	if err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Error("Report rendering failed")
		return ""
	}
	return o.deps.Publisher.Publish(ctx, sessionID, pdf)
}

func (o *Orchestrator) begin(ctx context.Context, sessionID, operation string) {
	if o.deps.Sessions == nil {
		return
	}
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := o.deps.Sessions.Begin(ledgerCtx, sessionID, operation); err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to open session")
	}
}

func (o *Orchestrator) advance(ctx context.Context, sessionID string, status domain.SessionStatus) {
	if o.deps.Sessions == nil {
		return
	}
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := o.deps.Sessions.Advance(ledgerCtx, sessionID, status); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"status":     status,
		}).Warn("Failed to advance session")
	}
}

func (o *Orchestrator) finish(ctx context.Context, sessionID string, status domain.SessionStatus) {
	o.advance(ctx, sessionID, status)
}

func (o *Orchestrator) record(ctx context.Context, rec *domain.ScreeningRecord) {
	if o.deps.Records == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := o.deps.Records.Record(recCtx, rec); err != nil {
		o.logger.WithError(err).WithField("session_id", rec.SessionID).Warn("Failed to record screening")
	}
}

// DetectionQuery builds the retrieval query from label counts and the detection summary.
func DetectionQuery(detections []domain.Detection, summary map[string]any) string {
	var order []domain.CanonicalLabel
	counts := make(map[domain.CanonicalLabel]int)
	for _, d := range detections {
		if counts[d.Label] == 0 {
			order = append(order, d.Label)
		}
		counts[d.Label]++
	}

	grouped := make([]string, 0, len(order))
	for _, label := range order {
		grouped = append(grouped, fmt.Sprintf("%s=%d", label, counts[label]))
	}

	return "Detected findings: {" + strings.Join(grouped, ", ") + "}. Detection summary: " + formatSummary(summary) +
		". Provide clinical explanation, risk level, care guide, and evidence-based citations."
}

func formatSummary(summary map[string]any) string {
	if len(summary) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, summary[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func fallbackRag() domain.RagSummary {
	return domain.RagSummary{TopK: defaultRagTopK, Sources: []domain.RagSource{}, UsedFallback: true}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
