package mcp

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/pipeline"
)

type stubScreener struct {
	last        *domain.UploadedImage
	generatePDF *bool
}

func (s *stubScreener) Run(_ context.Context, image *domain.UploadedImage) (*domain.RunResult, error) {
	if err := pipeline.ValidateImage(image); err != nil {
		return nil, err
	}
	s.last = image
	return &domain.RunResult{
		SessionID: "session-1",
		Status:    domain.StatusDone,
		RiskNarrative: domain.SynthesisResult{
			RiskLevel: domain.RiskRed,
			BadgeText: "Visit soon",
			Summary:   "Suspected lesion.",
		},
		PDFURL: "file:///tmp/reports/session-1.pdf",
	}, nil
}

func (s *stubScreener) RunQuick(_ context.Context, image *domain.UploadedImage) (*domain.QuickResult, error) {
	if err := pipeline.ValidateImage(image); err != nil {
		return nil, err
	}
	s.last = image
	return &domain.QuickResult{SessionID: "session-2", Status: domain.StatusDone, QualityPass: true,
		Detections: []domain.Detection{{Label: domain.LabelTartar}}}, nil
}

func (s *stubScreener) RunAnalyze(_ context.Context, image *domain.UploadedImage, generatePDF bool) (*domain.AnalyzeResult, error) {
	if err := pipeline.ValidateImage(image); err != nil {
		return nil, err
	}
	s.last = image
	s.generatePDF = &generatePDF
	return &domain.AnalyzeResult{SessionID: "session-3", Status: domain.StatusError,
		Error: domain.NewTimeoutFailure()}, nil
}

func newTestServer(t *testing.T, maxBytes int64) (*Server, *stubScreener) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	screener := &stubScreener{}
	srv, err := NewServer(screener, maxBytes, logger)
	require.NoError(t, err)
	return srv, screener
}

func text(t *testing.T, result *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(result.Content), i)
	tc, ok := result.Content[i].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	assert.NotNil(t, srv.mcpServer)
	assert.Equal(t, int64(defaultMaxImageBytes), srv.maxBytes)

	_, err := NewServer(nil, 0, logrus.New())
	assert.Error(t, err)
}

func TestScreenImage_FromPath(t *testing.T) {
	srv, screener := newTestServer(t, 0)
	path := filepath.Join(t.TempDir(), "mouth.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff"), 0o644))

	result, out, err := srv.handleScreenImage(context.Background(), nil, ImageParams{Path: path})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, text(t, result, 0), "Screening done: RED (Visit soon). Suspected lesion.")
	assert.Contains(t, text(t, result, 0), "Report: file:///tmp/reports/session-1.pdf")
	assert.Contains(t, text(t, result, 1), `"sessionId": "session-1"`)
	assert.IsType(t, &domain.RunResult{}, out)
	assert.Equal(t, "mouth.jpg", screener.last.Filename)
}

func TestQuickScreenImage_FromBase64(t *testing.T) {
	srv, screener := newTestServer(t, 0)

	result, _, err := srv.handleQuickScreenImage(context.Background(), nil, ImageParams{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		Filename:    "a.png",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "Quick screening done: quality passed, 1 detection(s).", text(t, result, 0))
	assert.Equal(t, []byte("png-bytes"), screener.last.Data)
}

func TestAnalyzeImage_GeneratePDF(t *testing.T) {
	srv, screener := newTestServer(t, 0)
	image := base64.StdEncoding.EncodeToString([]byte("jpg"))

	_, _, err := srv.handleAnalyzeImage(context.Background(), nil, AnalyzeParams{ImageBase64: image, Filename: "a.jpg"})
	require.NoError(t, err)
	require.NotNil(t, screener.generatePDF)
	assert.True(t, *screener.generatePDF)

	off := false
	result, _, err := srv.handleAnalyzeImage(context.Background(), nil, AnalyzeParams{ImageBase64: image, Filename: "a.jpg", GeneratePDF: &off})
	require.NoError(t, err)
	assert.False(t, *screener.generatePDF)
	assert.Contains(t, text(t, result, 1), "AI_ANALYSIS_TIMEOUT")
}

func TestToolInputErrors(t *testing.T) {
	srv, screener := newTestServer(t, 8)
	dir := t.TempDir()
	big := filepath.Join(dir, "big.jpg")
	require.NoError(t, os.WriteFile(big, make([]byte, 64), 0o644))
	gif := filepath.Join(dir, "scan.gif")
	require.NoError(t, os.WriteFile(gif, []byte("GIF"), 0o644))

	tests := []struct {
		name   string
		params ImageParams
		want   string
	}{
		{"nothing given", ImageParams{}, "either path or image_base64 is required"},
		{"missing file", ImageParams{Path: filepath.Join(dir, "nope.jpg")}, "cannot read"},
		{"directory", ImageParams{Path: dir}, "is a directory"},
		{"too large", ImageParams{Path: big}, "image exceeds 8 bytes"},
		{"base64 without filename", ImageParams{ImageBase64: "AAAA"}, "filename is required"},
		{"bad base64", ImageParams{ImageBase64: "***", Filename: "a.jpg"}, "not valid base64"},
		{"rejected extension", ImageParams{Path: gif}, "unsupported file extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, out, err := srv.handleScreenImage(context.Background(), nil, tt.params)

			require.NoError(t, err)
			assert.Nil(t, out)
			assert.True(t, result.IsError)
			assert.Contains(t, text(t, result, 0), tt.want)
		})
	}
	assert.Nil(t, screener.last)
}
