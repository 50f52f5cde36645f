package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	DefaultRagTopK    = 8
	maxSnippetRunes   = 200
	defaultRagTimeout = 3 * time.Second
)

// fallbackSources are served when the retrieval service is disabled, unreachable or empty.
var fallbackSources = []domain.RagSource{
	{
		Source:  "guideline:oral-hygiene",
		Score:   0,
		Snippet: "Brush twice daily with fluoride toothpaste, clean between teeth once a day and limit sugary snacks and drinks.",
	},
	{
		Source:  "guideline:dental-checkup",
		Score:   0,
		Snippet: "Routine dental examinations every six months help detect caries and calculus before symptoms appear.",
	},
	{
		Source:  "guideline:oral-lesion",
		Score:   0,
		Snippet: "Ulcers or lumps in the mouth that persist for more than two weeks should be examined by a dentist or physician.",
	},
}

// RagSearchRequest is the body of POST /v1/rag/search.
type RagSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RagSearchResponse is the retrieval service reply.
type RagSearchResponse struct {
	Contexts []RagContext `json:"contexts"`
}

// RagContext is one retrieved passage. Text is accepted as an alias of Snippet.
type RagContext struct {
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	Text    string  `json:"text"`
}

// RagRetriever implements domain.ContextRetriever against the retrieval service.
type RagRetriever struct {
	baseURL    string
	topK       int
	enabled    bool
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      ContextCache
	logger     *logrus.Logger
}

// NewRagRetriever creates a retriever. cache may be nil.
func NewRagRetriever(config domain.RagConfig, cache ContextCache, logger *logrus.Logger) *RagRetriever {
	topK := config.TopK
	if topK <= 0 {
		topK = DefaultRagTopK
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRagTimeout
	}

	return &RagRetriever{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		topK:    topK,
		enabled: config.Enabled && strings.TrimSpace(config.BaseURL) != "",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: newCircuitBreaker("rag-search", DefaultCircuitBreakerConfig(), logger),
		cache:   cache,
		logger:  logger,
	}
}

// Retrieve never fails: any problem yields the static fallback sources with UsedFallback set.
func (r *RagRetriever) Retrieve(ctx context.Context, query string) domain.RagSummary {
	if !r.enabled {
		return r.fallback()
	}

	key := retrievalKey(query, r.topK)
	if r.cache != nil {
		cached, found, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.WithError(err).Warn("Retrieval cache read failed")
		} else if found {
			return *cached
		}
	}

	contexts, err := execute(ctx, r.breaker, func() ([]RagContext, error) {
		return r.search(ctx, query)
	})
	if err != nil {
		r.logger.WithError(err).Warn("Context retrieval failed, using fallback sources")
		return r.fallback()
	}
	if len(contexts) == 0 {
		r.logger.WithField("query_length", len(query)).Info("Context retrieval returned no passages, using fallback sources")
		return r.fallback()
	}

	summary := domain.RagSummary{
		TopK:    r.topK,
		Sources: toRagSources(contexts, r.topK),
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, &summary, 0); err != nil {
			r.logger.WithError(err).Warn("Retrieval cache write failed")
		}
	}
	return summary
}

// BreakerStats reports the retrieval breaker state.
func (r *RagRetriever) BreakerStats() CircuitBreakerStats {
	return statsOf(r.breaker)
}

func (r *RagRetriever) search(ctx context.Context, query string) ([]RagContext, error) {
	payload, err := json.Marshal(RagSearchRequest{Query: query, TopK: r.topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rag/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service returned status %d", resp.StatusCode)
	}

	var result RagSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode retrieval response: %w", err)
	}
	return result.Contexts, nil
}

func (r *RagRetriever) fallback() domain.RagSummary {
	return domain.RagSummary{
		TopK:         r.topK,
		Sources:      append([]domain.RagSource(nil), fallbackSources...),
		UsedFallback: true,
	}
}

func toRagSources(contexts []RagContext, limit int) []domain.RagSource {
	if len(contexts) > limit {
		contexts = contexts[:limit]
	}
	sources := make([]domain.RagSource, 0, len(contexts))
	for _, c := range contexts {
		text := c.Snippet
		if text == "" {
			text = c.Text
		}
		sources = append(sources, domain.RagSource{
			Source:  c.Source,
			Score:   c.Score,
			Snippet: trimSnippet(text),
		})
	}
	return sources
}

func trimSnippet(text string) string {
	flat := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(flat)
	if len(runes) <= maxSnippetRunes {
		return flat
	}
	return string(runes[:maxSnippetRunes])
}
