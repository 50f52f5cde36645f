package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	defaultAITimeout     = 5 * time.Second
	defaultUploadName    = "upload.jpg"
	defaultUploadType    = "application/octet-stream"
	maxUpstreamBodyBytes = 4 << 20
)

// AIClient talks to the image model service for quality gating and detection.
type AIClient struct {
	baseURL        string
	httpClient     *http.Client
	qualityBreaker *gobreaker.CircuitBreaker
	detectBreaker  *gobreaker.CircuitBreaker
	logger         *logrus.Logger
}

// NewAIClient creates a new model service client
func NewAIClient(config domain.AIClientConfig, logger *logrus.Logger) *AIClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	breakers := DefaultCircuitBreakerConfig()

	return &AIClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		qualityBreaker: newCircuitBreaker("ai-quality", breakers, logger),
		detectBreaker:  newCircuitBreaker("ai-detect", breakers, logger),
		logger:         logger,
	}
}

// AssessQuality posts the image to /v1/quality.
func (c *AIClient) AssessQuality(ctx context.Context, image *domain.UploadedImage) (*domain.QualityAssessment, error) {
	body, err := execute(ctx, c.qualityBreaker, func() (map[string]any, error) {
		return c.postImage(ctx, "/v1/quality", image)
	})
	if err != nil {
		return nil, fmt.Errorf("quality check failed: %w", err)
	}

	pass, ok := body["pass"]
	if !ok {
		pass = body["pass_"]
	}
	return &domain.QualityAssessment{
		Pass:    asBool(pass),
		Score:   asFloat(body["score"]),
		Reasons: asStringList(body["reasons"]),
	}, nil
}

// Detect posts the image to /v1/detect. Labels are returned as sent; normalization belongs
// to the caller.
func (c *AIClient) Detect(ctx context.Context, image *domain.UploadedImage) (*domain.DetectionResult, error) {
	body, err := execute(ctx, c.detectBreaker, func() (map[string]any, error) {
		return c.postImage(ctx, "/v1/detect", image)
	})
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	return &domain.DetectionResult{
		Detections: parseDetections(body["detections"]),
		Summary:    asMap(body["summary"]),
	}, nil
}

// BreakerStats reports the state of both upstream breakers.
func (c *AIClient) BreakerStats() []CircuitBreakerStats {
	return []CircuitBreakerStats{statsOf(c.qualityBreaker), statsOf(c.detectBreaker)}
}

func (c *AIClient) postImage(ctx context.Context, path string, image *domain.UploadedImage) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("model service base url is not configured")
	}

	payload, contentType, err := multipartImage(image)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Model service responded")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model service %s returned status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

func multipartImage(image *domain.UploadedImage) (*bytes.Buffer, string, error) {
	filename := strings.TrimSpace(image.Filename)
	if filename == "" {
		filename = defaultUploadName
	}
	contentType := strings.TrimSpace(image.ContentType)
	if contentType == "" {
		contentType = defaultUploadType
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func parseDetections(raw any) []domain.Detection {
	items, ok := raw.([]any)
	if !ok {
		return []domain.Detection{}
	}

	out := make([]domain.Detection, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		box := asMap(m["bbox"])
		out = append(out, domain.Detection{
			Label:      domain.CanonicalLabel(asString(m["label"], string(domain.LabelNormal))),
			Confidence: asFloat(m["confidence"]),
			BBox: domain.BBox{
				X: asFloat(box["x"]),
				Y: asFloat(box["y"]),
				W: asFloat(box["w"]),
				H: asFloat(box["h"]),
			},
		})
	}
	return out
}
