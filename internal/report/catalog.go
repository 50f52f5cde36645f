package report

import (
	"regexp"
	"strings"

	"github.com/denticheck-screening-server/internal/domain"
)

// Catalog holds every user-facing sentence of a printable report in one language.
type Catalog struct {
	Language        string
	Title           string
	GeneratedLabel  string
	SessionLabel    string
	RiskHeading     string
	DetectionHead   string
	DetectionCols   [3]string
	NoDetections    string
	MoreDetections  string // fmt verb %d receives the hidden row count
	ProblemsHeading string
	NoProblems      string
	ProblemPrefix   string // fmt verb %d receives the 1-based problem index
	ReasonLabel     string
	ActionLabel     string
	ActionsHeading  string
	NoActions       string
	VisitHeading    string
	VisitNeedLabel  string
	VisitReason     string
	Footer          []string

	LevelTexts      map[domain.RiskLevel]string
	LevelSummaries  map[domain.RiskLevel]string
	LabelProblems   map[domain.CanonicalLabel]domain.Problem
	FindingTitle    string
	FindingReason   string
	FindingAction   string
	FallbackActions []string
	VisitLevels     map[domain.VisitLevel]domain.Visit

	// Sanitize cleans model-produced text before it is printed.
	Sanitize func(string) string
}

var englishCatalog = &Catalog{
	Language:        "en",
	Title:           "DentiCheck AI Dental Report",
	GeneratedLabel:  "Generated",
	SessionLabel:    "Session ID",
	RiskHeading:     "Risk Summary",
	DetectionHead:   "Detections",
	DetectionCols:   [3]string{"Label", "Confidence", "BBox (x,y,w,h)"},
	NoDetections:    "No detected objects",
	MoreDetections:  "+ %d more item(s)",
	ProblemsHeading: "Key Findings",
	NoProblems:      "No major issue summary was provided.",
	ProblemPrefix:   "Issue %d",
	ReasonLabel:     "Reason",
	ActionLabel:     "Action",
	ActionsHeading:  "Recommended Care",
	NoActions:       "Maintain daily oral care and schedule regular checkups.",
	VisitHeading:    "Clinic Visit Guidance",
	VisitNeedLabel:  "Need",
	VisitReason:     "Reason",
	Footer: []string{
		"This report is for guidance only and does not replace professional diagnosis.",
	},
	LevelTexts: map[domain.RiskLevel]string{
		domain.RiskRed:    "High (Red)",
		domain.RiskYellow: "Medium (Yellow)",
		domain.RiskGreen:  "Low (Green)",
	},
	LevelSummaries: map[domain.RiskLevel]string{
		domain.RiskRed:    "Some areas need attention. A dental visit in the near future is recommended.",
		domain.RiskYellow: "Some areas need care. Daily care and a check-up are recommended.",
		domain.RiskGreen:  "Few abnormal signs were seen, but keep up regular check-ups.",
	},
	LabelProblems: map[domain.CanonicalLabel]domain.Problem{
		domain.LabelCaries: {
			Title:  "Suspected cavity",
			Reason: "Some tooth surfaces look damaged.",
			Action: "Cut back on sweets and soda, and book a dental check-up.",
		},
		domain.LabelTartar: {
			Title:  "Suspected tartar or gum irritation",
			Reason: "Some areas near the gums may be causing irritation.",
			Action: "Brush gently and ask about a scaling appointment.",
		},
		domain.LabelOralCancer: {
			Title:  "Suspected abnormal area in the mouth",
			Reason: "An area of the oral lining needs to be checked.",
			Action: "Visit a dentist soon to have it examined properly.",
		},
	},
	FindingTitle:  "Check needed",
	FindingReason: "An area that needs checking was seen.",
	FindingAction: "Have it checked at a dental clinic rather than judging it yourself.",
	FallbackActions: []string{
		"Starting today, brush gently 2-3 times a day for 2 minutes.",
		"Floss once before bed, then rinse with water.",
		"Eat sweets only at mealtimes and drink water afterwards.",
		"Book a dental check-up within 1 week.",
	},
	VisitLevels: map[domain.VisitLevel]domain.Visit{
		domain.VisitUrgent: {
			Level:     domain.VisitUrgent,
			LevelText: "Urgent",
			Reason:    "An abnormal area in the mouth is suspected and should be examined quickly.",
		},
		domain.VisitRecommended: {
			Level:     domain.VisitRecommended,
			LevelText: "Recommended",
			Reason:    "Some areas need checking, so a check-up soon is a good idea.",
		},
		domain.VisitObserve: {
			Level:     domain.VisitObserve,
			LevelText: "Observe",
			Reason:    "There are few clear abnormal signs, but keep up regular check-ups.",
		},
	},
	Sanitize: collapseSpaces,
}

var koreanCatalog = &Catalog{
	Language:        "ko",
	Title:           "DentiCheck AI 구강 리포트",
	GeneratedLabel:  "생성 시각",
	SessionLabel:    "세션 ID",
	RiskHeading:     "위험도 요약",
	DetectionHead:   "탐지 결과",
	DetectionCols:   [3]string{"소견", "신뢰도", "영역(x,y,w,h)"},
	NoDetections:    "탐지된 소견이 없습니다.",
	MoreDetections:  "+%d건 더 있음",
	ProblemsHeading: "주요 소견",
	NoProblems:      "요약된 주요 소견이 없습니다.",
	ProblemPrefix:   "문제 %d",
	ReasonLabel:     "이유",
	ActionLabel:     "할 일",
	ActionsHeading:  "관리 방법",
	NoActions:       "매일 구강 관리를 유지하고 정기 검진을 받으세요.",
	VisitHeading:    "치과 방문 안내",
	VisitNeedLabel:  "필요도",
	VisitReason:     "이유",
	Footer: []string{
		"이 리포트는 참고용이며 전문 진단을 대신하지 않습니다.",
	},
	LevelTexts: map[domain.RiskLevel]string{
		domain.RiskRed:    "높음(빨강)",
		domain.RiskYellow: "보통(노랑)",
		domain.RiskGreen:  "낮음(초록)",
	},
	LevelSummaries: map[domain.RiskLevel]string{
		domain.RiskRed:    "확인이 필요한 부위가 있어 가까운 시일 내 치과 확인을 권장합니다.",
		domain.RiskYellow: "주의가 필요한 부위가 보여 생활 관리와 검진을 권장합니다.",
		domain.RiskGreen:  "큰 이상 신호는 적어 보이지만 정기 검진은 유지하세요.",
	},
	LabelProblems: map[domain.CanonicalLabel]domain.Problem{
		domain.LabelCaries: {
			Title:  "충치 의심",
			Reason: "치아 표면에 손상으로 보이는 부위가 있습니다.",
			Action: "단 음식과 탄산음료를 줄이고 치과 검진을 예약하세요.",
		},
		domain.LabelTartar: {
			Title:  "치석·잇몸 자극 의심",
			Reason: "잇몸 주변에 자극을 줄 수 있는 부위가 보입니다.",
			Action: "부드럽게 양치하고, 스케일링 상담을 받아보세요.",
		},
		domain.LabelOralCancer: {
			Title:  "입안 이상 부위 의심",
			Reason: "입안 점막에 확인이 필요한 부위가 보입니다.",
			Action: "가까운 시일 내 치과 진료를 받아 정확히 확인하세요.",
		},
	},
	FindingTitle:  "확인 필요",
	FindingReason: "확인이 필요한 부위가 보입니다.",
	FindingAction: "무리한 자가 판단보다 치과 검진으로 확인하세요.",
	FallbackActions: []string{
		"오늘부터 하루 2~3회, 2분씩 부드럽게 양치하세요.",
		"자기 전 치실을 1회 사용하고, 사용 후 물로 헹구세요.",
		"단 음식은 식사 시간에만 먹고, 먹은 뒤 물을 마시세요.",
		"1주 안에 치과 검진 예약을 잡으세요.",
	},
	VisitLevels: map[domain.VisitLevel]domain.Visit{
		domain.VisitUrgent: {
			Level:     domain.VisitUrgent,
			LevelText: "긴급",
			Reason:    "입안 이상 부위가 의심되어 빠른 진료 확인이 필요합니다.",
		},
		domain.VisitRecommended: {
			Level:     domain.VisitRecommended,
			LevelText: "권장",
			Reason:    "확인이 필요한 부위가 있어 가까운 시일 내 검진이 좋습니다.",
		},
		domain.VisitObserve: {
			Level:     domain.VisitObserve,
			LevelText: "관찰",
			Reason:    "뚜렷한 이상 신호는 적지만 정기 검진은 유지하세요.",
		},
	},
	Sanitize: stripLatinWords,
}

// CatalogFor returns the catalog for a language tag, defaulting to English.
func CatalogFor(language string) *Catalog {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "ko", "ko-kr", "kr":
		return koreanCatalog
	default:
		return englishCatalog
	}
}

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	latinWord = regexp.MustCompile(`[A-Za-z]+`)
)

func collapseSpaces(text string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

// stripLatinWords keeps a Korean report in one script.
func stripLatinWords(text string) string {
	return collapseSpaces(latinWord.ReplaceAllString(text, " "))
}
