// Package report turns screening narratives into printable reports: the Composer maps a
// synthesis result and its detections to a view model, and the Renderer lays that view
// model out on a single PDF page.
package report

import (
	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/service"
)

const (
	maxProblems = 3
	maxActions  = 4
)

// Composer builds print-ready view models in one language.
type Composer struct {
	catalog *Catalog
}

// NewComposer creates a composer for the given language tag
func NewComposer(language string) *Composer {
	return &Composer{catalog: CatalogFor(language)}
}

// ToViewModel projects a synthesis result and its detections onto the report layout.
func (c *Composer) ToViewModel(synthesis domain.SynthesisResult, detections []domain.Detection) domain.ReportViewModel {
	normalized := service.NormalizeDetections(detections)

	level := synthesis.RiskLevel
	if !level.IsValid() {
		level = domain.RiskGreen
	}

	return domain.ReportViewModel{
		Language: c.catalog.Language,
		RiskSummary: domain.RiskSummary{
			Level:          level,
			LevelText:      c.catalog.LevelTexts[level],
			OneLineSummary: c.oneLineSummary(synthesis.Summary, level),
		},
		Problems:   c.problems(normalized, synthesis.Findings),
		Actions:    c.actions(synthesis.CareGuide),
		Visit:      c.visit(level, normalized),
		Detections: normalized,
	}
}

func (c *Composer) oneLineSummary(summary string, level domain.RiskLevel) string {
	if clean := c.catalog.Sanitize(summary); clean != "" {
		return clean
	}
	return c.catalog.LevelSummaries[level]
}

// problems prefers the distinct labels actually observed. Normal detections map to no
// problem; when nothing else was observed the narrative findings are used instead.
func (c *Composer) problems(detections []domain.Detection, findings []domain.Finding) []domain.Problem {
	seen := make(map[domain.CanonicalLabel]bool)
	problems := make([]domain.Problem, 0, maxProblems)
	for _, d := range detections {
		if seen[d.Label] {
			continue
		}
		seen[d.Label] = true
		if problem, ok := c.catalog.LabelProblems[d.Label]; ok {
			problems = append(problems, problem)
		}
		if len(problems) >= maxProblems {
			return problems
		}
	}
	if len(problems) > 0 {
		return problems
	}

	for _, f := range findings {
		problems = append(problems, domain.Problem{
			Title:  orDefault(c.catalog.Sanitize(f.Title), c.catalog.FindingTitle),
			Reason: orDefault(c.catalog.Sanitize(f.Detail), c.catalog.FindingReason),
			Action: c.catalog.FindingAction,
		})
		if len(problems) >= maxProblems {
			break
		}
	}
	return problems
}

func (c *Composer) actions(careGuide []string) []string {
	seen := make(map[string]bool)
	actions := make([]string, 0, maxActions)
	add := func(line string) {
		if line == "" || seen[line] || len(actions) >= maxActions {
			return
		}
		seen[line] = true
		actions = append(actions, line)
	}

	for _, line := range careGuide {
		add(c.catalog.Sanitize(line))
	}
	for _, line := range c.catalog.FallbackActions {
		add(line)
	}
	return actions
}

func (c *Composer) visit(level domain.RiskLevel, detections []domain.Detection) domain.Visit {
	for _, d := range detections {
		if d.Label == domain.LabelOralCancer {
			return c.catalog.VisitLevels[domain.VisitUrgent]
		}
	}
	if level == domain.RiskRed || level == domain.RiskYellow {
		return c.catalog.VisitLevels[domain.VisitRecommended]
	}
	return c.catalog.VisitLevels[domain.VisitObserve]
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
