package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"

	defaultGeminiModel      = "gemini-2.0-flash"
	defaultGenerativeBudget = 20 * time.Second
)

// ErrEmptyGeneration is returned when a backend answers without any content.
var ErrEmptyGeneration = errors.New("generative backend returned no content")

// NewGenerativeBackend builds the configured backend. A disabled configuration yields nil,
// which the synthesizer treats as generation turned off.
func NewGenerativeBackend(ctx context.Context, config domain.GenerativeConfig, logger *logrus.Logger) (domain.GenerativeBackend, error) {
	if !config.Enabled {
		return nil, nil
	}

	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", ProviderHTTP:
		if strings.TrimSpace(config.BaseURL) == "" {
			return nil, fmt.Errorf("generative.base_url is required for the http provider")
		}
		return NewHTTPGenerativeClient(config, logger), nil
	case ProviderGemini:
		client, err := NewGeminiClient(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported generative provider: %s", config.Provider)
	}
}

// HTTPGenerativeClient posts generation requests to the report generation service.
type HTTPGenerativeClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewHTTPGenerativeClient creates a client for POST {base_url}/v1/report/generate.
func NewHTTPGenerativeClient(config domain.GenerativeConfig, logger *logrus.Logger) *HTTPGenerativeClient {
	// The synthesizer owns the per-call budget; the client timeout only bounds stuck sockets.
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultGenerativeBudget
	}
	return &HTTPGenerativeClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: newCircuitBreaker("generative-http", DefaultCircuitBreakerConfig(), logger),
		logger:  logger,
	}
}

// Generate returns the raw response body.
func (c *HTTPGenerativeClient) Generate(ctx context.Context, req *domain.GenerationRequest) ([]byte, error) {
	return execute(ctx, c.breaker, func() ([]byte, error) {
		return c.post(ctx, req)
	})
}

// BreakerStats reports the backend breaker state.
func (c *HTTPGenerativeClient) BreakerStats() CircuitBreakerStats {
	return statsOf(c.breaker)
}

func (c *HTTPGenerativeClient) post(ctx context.Context, genReq *domain.GenerationRequest) ([]byte, error) {
	payload, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/report/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyGeneration
	}
	return body, nil
}

// GeminiClient generates narratives with the Gemini API in JSON mode.
type GeminiClient struct {
	cli     *genai.Client
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewGeminiClient creates a Gemini backend. generative.base_url overrides the API endpoint.
func NewGeminiClient(ctx context.Context, config domain.GenerativeConfig, logger *logrus.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("generative.api_key is required for the gemini provider")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = defaultGeminiModel
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &GeminiClient{
		cli:     cli,
		model:   model,
		limiter: limiter,
		breaker: newCircuitBreaker("generative-gemini", DefaultCircuitBreakerConfig(), logger),
		logger:  logger,
	}, nil
}

// Name identifies the backend in logs.
func (g *GeminiClient) Name() string { return "gemini:" + g.model }

// Generate sends the prompt with the request context appended as JSON.
func (g *GeminiClient) Generate(ctx context.Context, req *domain.GenerationRequest) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gemini rate limit wait: %w", err)
	}

	input, err := json.MarshalIndent(map[string]any{
		"detections": req.Detections,
		"summary":    req.Summary,
		"ragSources": req.RagSources,
		"language":   req.Language,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini input: %w", err)
	}
	full := req.Prompt + "\n\n[INPUT JSON]\n" + string(input)

	return execute(ctx, g.breaker, func() ([]byte, error) {
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			return nil, fmt.Errorf("gemini generate content: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return nil, ErrEmptyGeneration
		}
		text := resp.Candidates[0].Content.Parts[0].Text
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyGeneration
		}
		g.logger.WithFields(logrus.Fields{
			"model":  g.model,
			"prompt": len(full),
			"bytes":  len(text),
		}).Debug("Gemini narrative generated")
		return []byte(text), nil
	})
}

// BreakerStats reports the backend breaker state.
func (g *GeminiClient) BreakerStats() CircuitBreakerStats {
	return statsOf(g.breaker)
}
