package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

// Page geometry in points.
const (
	pageMargin    = 40.0
	bodySize      = 10.5
	bodyLeading   = 15.0
	sectionGap    = 16.0
	headingSize   = 13.0
	maxTableRows  = 6
	tableRowH     = 18.0
	fontFamily    = "report"
	coreFontName  = "Helvetica"
	footerSize    = 9.0
	headerHeight  = 70.0
	badgeWidth    = 110.0
	badgeHeight   = 20.0
	cardPadding   = 12.0
	innerTextPadX = 10.0
)

type rgb struct{ r, g, b int }

var (
	colorText        = rgb{33, 37, 41}
	colorMuted       = rgb{85, 91, 110}
	colorBorder      = rgb{217, 222, 230}
	colorHeaderBg    = rgb{27, 58, 114}
	colorHeaderText  = rgb{231, 237, 247}
	colorPanelBg     = rgb{246, 248, 251}
	colorTableHeadBg = rgb{239, 244, 252}
	colorRowAlt      = rgb{250, 251, 253}
	colorWhite       = rgb{255, 255, 255}
)

var riskColors = map[domain.RiskLevel]rgb{
	domain.RiskRed:    {205, 49, 49},
	domain.RiskYellow: {205, 132, 36},
	domain.RiskGreen:  {42, 129, 87},
}

// systemFontPaths are tried when the configured font is missing.
var systemFontPaths = []string{
	"/usr/share/fonts/truetype/nanum/NanumGothic.ttf",
	"/usr/share/fonts/nanum/NanumGothic.ttf",
	"/Library/Fonts/AppleGothic.ttf",
	"/System/Library/Fonts/Supplemental/AppleGothic.ttf",
	"C:/Windows/Fonts/malgun.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Renderer lays a report view model out on a single A4 page.
type Renderer struct {
	logger    *logrus.Logger
	catalog   *Catalog
	fontPaths []string
	now       func() time.Time

	fontOnce   sync.Once
	fontBytes  []byte
	fontSource string
}

// NewRenderer creates a new renderer. fontPath may be empty.
func NewRenderer(fontPath string, catalog *Catalog, logger *logrus.Logger) *Renderer {
	if catalog == nil {
		catalog = englishCatalog
	}
	paths := make([]string, 0, len(systemFontPaths)+1)
	if fontPath != "" {
		paths = append(paths, fontPath)
	}
	paths = append(paths, systemFontPaths...)
	return &Renderer{
		logger:    logger,
		catalog:   catalog,
		fontPaths: paths,
		now:       time.Now,
	}
}

// Render returns the PDF bytes of the report.
func (r *Renderer) Render(sessionID string, vm domain.ReportViewModel) ([]byte, error) {
	pdf, l := r.renderDocument(sessionID, vm)
	if l.omitted > 0 {
		r.logger.WithFields(logrus.Fields{
			"session_id":    sessionID,
			"omitted_lines": l.omitted,
		}).Warn("Report content exceeded one page and was truncated")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderDocument(sessionID string, vm domain.ReportViewModel) (*fpdf.Fpdf, *layout) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(r.catalog.Title, true)
	pdf.SetCreator("denticheck-screening-server", true)

	l := newLayout(pdf, r.selectFont(pdf))
	pdf.AddPage()

	r.drawHeader(l, sessionID)
	r.drawRiskSummary(l, vm)
	r.drawDetectionTable(l, vm.Detections)
	r.drawProblems(l, vm.Problems)
	r.drawActions(l, vm.Actions)
	r.drawVisit(l, vm.Visit)
	r.drawFooter(l)
	return pdf, l
}

// selectFont registers the first usable TrueType font and reports whether it did.
func (r *Renderer) selectFont(pdf *fpdf.Fpdf) (unicode bool) {
	r.fontOnce.Do(func() {
		for _, path := range r.fontPaths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			r.fontBytes = data
			r.fontSource = path
			return
		}
		r.logger.Warn("No TrueType font found, reports use the core font")
	})
	if r.fontBytes == nil {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("font", r.fontSource).Warnf("Font could not be loaded: %v", rec)
			pdf.ClearError()
			unicode = false
		}
	}()
	pdf.AddUTF8FontFromBytes(fontFamily, "", r.fontBytes)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", r.fontBytes)
	if pdf.Err() {
		r.logger.WithError(pdf.Error()).WithField("font", r.fontSource).Warn("Font could not be loaded")
		pdf.ClearError()
		return false
	}
	return true
}

func (r *Renderer) drawHeader(l *layout, sessionID string) {
	top := l.y
	if l.reserve(headerHeight) {
		l.rect(pageMargin, top, l.width, headerHeight, &colorHeaderBg, nil)
	}
	l.y += 8
	l.line(r.catalog.Title, pageMargin+14, 18, true, colorWhite)
	l.y += 4
	l.line(fmt.Sprintf("%s: %s", r.catalog.GeneratedLabel, r.now().Format("2006-01-02 15:04:05")),
		pageMargin+14, bodySize, false, colorHeaderText)
	if sessionID != "" {
		l.line(fmt.Sprintf("%s: %s", r.catalog.SessionLabel, sessionID), pageMargin+14, bodySize, false, colorHeaderText)
	}
	l.y = top + headerHeight
	l.gap(sectionGap)
}

func (r *Renderer) drawRiskSummary(l *layout, vm domain.ReportViewModel) {
	level := vm.RiskSummary.Level
	if !level.IsValid() {
		level = domain.RiskGreen
	}
	textWidth := l.width - 2*cardPadding
	summary := l.wrap(vm.RiskSummary.OneLineSummary, bodySize, false, textWidth)
	cardHeight := 58 + float64(len(summary))*bodyLeading

	top := l.y
	if l.reserve(cardHeight) {
		l.rect(pageMargin, top, l.width, cardHeight, &colorPanelBg, &colorBorder)
	}
	l.y += 6
	l.line(r.catalog.RiskHeading, pageMargin+cardPadding, headingSize, true, colorText)
	l.y += 4
	if l.reserve(badgeHeight) {
		color := riskColors[level]
		l.rect(pageMargin+cardPadding, l.y, badgeWidth, badgeHeight, &color, nil)
		l.text(vm.RiskSummary.LevelText, pageMargin+cardPadding+8, l.y+14, 10, true, colorWhite)
		l.y += badgeHeight + 6
	}
	for _, s := range summary {
		l.line(s, pageMargin+cardPadding, bodySize, false, colorMuted)
	}
	l.y = top + cardHeight
	l.gap(sectionGap)
}

func (r *Renderer) drawDetectionTable(l *layout, detections []domain.Detection) {
	l.line(r.catalog.DetectionHead, pageMargin, headingSize, true, colorText)
	l.y += 2

	cols := [3]float64{pageMargin, pageMargin + 145, pageMargin + 255}
	if l.reserve(tableRowH + 2) {
		l.rect(pageMargin, l.y, l.width, tableRowH+2, &colorTableHeadBg, &colorBorder)
		for i, title := range r.catalog.DetectionCols {
			l.text(title, cols[i]+8, l.y+14, 10, true, colorText)
		}
		l.y += tableRowH + 2
	}

	row := func(bg rgb, cells [3]string, color rgb) {
		if !l.reserve(tableRowH) {
			l.omitted++
			return
		}
		l.rect(pageMargin, l.y, l.width, tableRowH, &bg, &colorBorder)
		for i, cell := range cells {
			if cell != "" {
				l.text(cell, cols[i]+8, l.y+13, bodySize, false, color)
			}
		}
		l.y += tableRowH
	}

	if len(detections) == 0 {
		row(colorWhite, [3]string{r.catalog.NoDetections}, colorMuted)
		l.gap(sectionGap)
		return
	}

	for i, d := range detections {
		if i >= maxTableRows {
			row(colorWhite, [3]string{fmt.Sprintf(r.catalog.MoreDetections, len(detections)-maxTableRows)}, colorMuted)
			break
		}
		bg := colorWhite
		if i%2 == 1 {
			bg = colorRowAlt
		}
		row(bg, [3]string{
			string(d.Label),
			fmt.Sprintf("%.2f", d.Confidence),
			formatBBox(d.BBox),
		}, colorText)
	}
	l.gap(sectionGap)
}

func (r *Renderer) drawProblems(l *layout, problems []domain.Problem) {
	l.line(r.catalog.ProblemsHeading, pageMargin, headingSize, true, colorText)
	l.y += 2

	textWidth := l.width - 2*innerTextPadX
	if len(problems) == 0 {
		l.paragraph(r.catalog.NoProblems, pageMargin+innerTextPadX, textWidth, colorMuted)
		l.gap(sectionGap)
		return
	}

	for i, p := range problems {
		if i >= maxProblems {
			break
		}
		reason := l.wrap(fmt.Sprintf("%s: %s", r.catalog.ReasonLabel, p.Reason), bodySize, false, textWidth)
		action := l.wrap(fmt.Sprintf("%s: %s", r.catalog.ActionLabel, p.Action), bodySize, false, textWidth)
		cardHeight := bodyLeading*float64(1+len(reason)+len(action)) + 12

		top := l.y
		if l.reserve(cardHeight) {
			l.rect(pageMargin, top, l.width, cardHeight, &colorPanelBg, &colorBorder)
		}
		l.y += 6
		l.line(fmt.Sprintf(r.catalog.ProblemPrefix+": %s", i+1, p.Title), pageMargin+innerTextPadX, bodySize, true, colorText)
		for _, s := range append(reason, action...) {
			l.line(s, pageMargin+innerTextPadX, bodySize, false, colorMuted)
		}
		l.y = top + cardHeight + 6
	}
	l.gap(sectionGap - 6)
}

func (r *Renderer) drawActions(l *layout, actions []string) {
	l.line(r.catalog.ActionsHeading, pageMargin, headingSize, true, colorText)
	l.y += 2

	if len(actions) == 0 {
		l.paragraph(r.catalog.NoActions, pageMargin, l.width, colorMuted)
		l.gap(sectionGap)
		return
	}
	for i, action := range actions {
		if i >= maxActions {
			break
		}
		l.paragraph(fmt.Sprintf("%d. %s", i+1, action), pageMargin, l.width, colorMuted)
	}
	l.gap(sectionGap)
}

func (r *Renderer) drawVisit(l *layout, visit domain.Visit) {
	levelText := visit.LevelText
	if levelText == "" {
		levelText = r.catalog.VisitLevels[domain.VisitObserve].LevelText
	}
	reasonText := visit.Reason
	if reasonText == "" {
		reasonText = r.catalog.VisitLevels[domain.VisitObserve].Reason
	}

	textWidth := l.width - 2*innerTextPadX
	reason := l.wrap(fmt.Sprintf("%s: %s", r.catalog.VisitReason, reasonText), bodySize, false, textWidth)
	cardHeight := bodyLeading*float64(2+len(reason)) + 14

	top := l.y
	if l.reserve(cardHeight) {
		l.rect(pageMargin, top, l.width, cardHeight, &colorPanelBg, &colorBorder)
	}
	l.y += 6
	l.line(r.catalog.VisitHeading, pageMargin+innerTextPadX, 12, true, colorText)
	l.line(fmt.Sprintf("%s: %s", r.catalog.VisitNeedLabel, levelText), pageMargin+innerTextPadX, bodySize, true, colorText)
	for _, s := range reason {
		l.line(s, pageMargin+innerTextPadX, bodySize, false, colorMuted)
	}
	l.y = top + cardHeight
	l.gap(sectionGap)
}

func (r *Renderer) drawFooter(l *layout) {
	for _, text := range r.catalog.Footer {
		for _, s := range l.wrap(text, footerSize, false, l.width-16) {
			l.line(s, pageMargin+8, footerSize, false, colorMuted)
		}
	}
}

func formatBBox(b domain.BBox) string {
	if b.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%.2f, %.2f, %.2f, %.2f", b.X, b.Y, b.W, b.H)
}

// layout tracks the vertical cursor. Once a line does not fit, it and everything drawn
// after it are dropped.
type layout struct {
	pdf     *fpdf.Fpdf
	family  string
	tr      func(string) string
	y       float64
	width   float64
	bottom  float64
	full    bool
	omitted int
}

func newLayout(pdf *fpdf.Fpdf, unicode bool) *layout {
	pageW, pageH := pdf.GetPageSize()
	l := &layout{
		pdf:    pdf,
		family: fontFamily,
		tr:     func(s string) string { return s },
		y:      pageMargin,
		width:  pageW - 2*pageMargin,
		bottom: pageH - pageMargin,
	}
	if !unicode {
		l.family = coreFontName
		l.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	return l
}

// reserve reports whether h more points fit on the page.
func (l *layout) reserve(h float64) bool {
	if l.full {
		return false
	}
	if l.y+h > l.bottom {
		l.full = true
		return false
	}
	return true
}

func (l *layout) gap(h float64) {
	if !l.full {
		l.y += h
	}
}

func (l *layout) setFont(size float64, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	l.pdf.SetFont(l.family, style, size)
}

func (l *layout) measure(size float64, bold bool) func(string) float64 {
	return func(s string) float64 {
		l.setFont(size, bold)
		return l.pdf.GetStringWidth(l.tr(s))
	}
}

func (l *layout) wrap(text string, size float64, bold bool, maxWidth float64) []string {
	return wrapText(text, maxWidth, l.measure(size, bold))
}

// line draws one line of text at the cursor and advances it by the leading.
func (l *layout) line(text string, x, size float64, bold bool, color rgb) {
	leading := bodyLeading
	if size > bodySize {
		leading = size + 6
	}
	if !l.reserve(leading) {
		l.omitted++
		return
	}
	l.text(text, x, l.y+size, size, bold, color)
	l.y += leading
}

func (l *layout) paragraph(text string, x, maxWidth float64, color rgb) {
	for _, s := range l.wrap(text, bodySize, false, maxWidth) {
		l.line(s, x, bodySize, false, color)
	}
}

func (l *layout) text(text string, x, baseline, size float64, bold bool, color rgb) {
	l.setFont(size, bold)
	l.pdf.SetTextColor(color.r, color.g, color.b)
	l.pdf.Text(x, baseline, l.tr(text))
}

func (l *layout) rect(x, y, w, h float64, fill, stroke *rgb) {
	style := ""
	if fill != nil {
		l.pdf.SetFillColor(fill.r, fill.g, fill.b)
		style += "F"
	}
	if stroke != nil {
		l.pdf.SetDrawColor(stroke.r, stroke.g, stroke.b)
		style += "D"
	}
	if style != "" {
		l.pdf.Rect(x, y, w, h, style)
	}
}

// wrapText greedily fills lines up to maxWidth. Words wider than a line are split rune by
// rune.
func wrapText(text string, maxWidth float64, measure func(string) float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := ""
	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if measure(candidate) <= maxWidth {
			current = candidate
			continue
		}

		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		if measure(word) <= maxWidth {
			current = word
			continue
		}
		chunks := splitWord(word, maxWidth, measure)
		lines = append(lines, chunks[:len(chunks)-1]...)
		current = chunks[len(chunks)-1]
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func splitWord(word string, maxWidth float64, measure func(string) float64) []string {
	var chunks []string
	var chunk []rune
	for _, r := range word {
		candidate := append(chunk, r)
		if len(chunk) > 0 && measure(string(candidate)) > maxWidth {
			chunks = append(chunks, string(chunk))
			chunk = []rune{r}
			continue
		}
		chunk = candidate
	}
	if len(chunk) > 0 {
		chunks = append(chunks, string(chunk))
	}
	return chunks
}
