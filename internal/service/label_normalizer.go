package service

import (
	"strings"

	"github.com/denticheck-screening-server/internal/domain"
)

// labelSynonyms maps lower-cased upstream labels to the canonical taxonomy.
var labelSynonyms = map[string]domain.CanonicalLabel{
	"caries":      domain.LabelCaries,
	"cavity":      domain.LabelCaries,
	"tartar":      domain.LabelTartar,
	"calculus":    domain.LabelTartar,
	"plaque":      domain.LabelTartar,
	"oral_cancer": domain.LabelOralCancer,
	"oral cancer": domain.LabelOralCancer,
	"lesion":      domain.LabelOralCancer,
	"mass":        domain.LabelOralCancer,
	"ulcer":       domain.LabelOralCancer,
	"normal":      domain.LabelNormal,
}

// NormalizeLabel maps an arbitrary upstream label into the closed taxonomy.
// Unknown and empty labels map to normal.
func NormalizeLabel(raw string) domain.CanonicalLabel {
	key := strings.ToLower(strings.TrimSpace(raw))
	if label, ok := labelSynonyms[key]; ok {
		return label
	}
	return domain.LabelNormal
}

// NormalizeDetections returns a copy of detections with every label normalized.
func NormalizeDetections(detections []domain.Detection) []domain.Detection {
	normalized := make([]domain.Detection, 0, len(detections))
	for _, d := range detections {
		d.Label = NormalizeLabel(string(d.Label))
		normalized = append(normalized, d)
	}
	return normalized
}
