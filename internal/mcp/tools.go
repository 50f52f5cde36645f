package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/denticheck-screening-server/internal/domain"
)

// Tool names
const (
	ToolScreenImage      = "screen_image"
	ToolQuickScreenImage = "quick_screen_image"
	ToolAnalyzeImage     = "analyze_image"

	defaultMaxImageBytes = 10 << 20
)

// ImageParams identifies the image to screen: a local path, or base64 data plus a filename.
type ImageParams struct {
	Path        string `json:"path,omitempty" jsonschema:"local path of a .jpg, .jpeg, .png or .webp oral photo"`
	ImageBase64 string `json:"image_base64,omitempty" jsonschema:"base64-encoded image bytes, used when path is empty"`
	Filename    string `json:"filename,omitempty" jsonschema:"file name carrying the image extension, required with image_base64"`
}

// AnalyzeParams adds the report switch to the image fields.
type AnalyzeParams struct {
	Path        string `json:"path,omitempty" jsonschema:"local path of a .jpg, .jpeg, .png or .webp oral photo"`
	ImageBase64 string `json:"image_base64,omitempty" jsonschema:"base64-encoded image bytes, used when path is empty"`
	Filename    string `json:"filename,omitempty" jsonschema:"file name carrying the image extension, required with image_base64"`
	GeneratePDF *bool  `json:"generate_pdf,omitempty" jsonschema:"render and publish a PDF report; defaults to true"`
}

func (s *Server) handleScreenImage(ctx context.Context, req *mcp.CallToolRequest, params ImageParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolScreenImage).Info("Tool invoked")

	image, err := s.loadImage(params)
	if err != nil {
		return s.createErrorResult("Invalid image input", err), nil, nil
	}
	result, err := s.screener.Run(ctx, image)
	if err != nil {
		return s.createErrorResult("Screening rejected", err), nil, nil
	}
	return s.createResult(headline(string(result.Status), result.RiskNarrative, result.PDFURL), result), result, nil
}

func (s *Server) handleQuickScreenImage(ctx context.Context, req *mcp.CallToolRequest, params ImageParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolQuickScreenImage).Info("Tool invoked")

	image, err := s.loadImage(params)
	if err != nil {
		return s.createErrorResult("Invalid image input", err), nil, nil
	}
	result, err := s.screener.RunQuick(ctx, image)
	if err != nil {
		return s.createErrorResult("Screening rejected", err), nil, nil
	}
	summary := fmt.Sprintf("Quick screening %s: quality %s, %d detection(s).",
		result.Status, passText(result.QualityPass), len(result.Detections))
	return s.createResult(summary, result), result, nil
}

func (s *Server) handleAnalyzeImage(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolAnalyzeImage).Info("Tool invoked")

	generatePDF := true
	if params.GeneratePDF != nil {
		generatePDF = *params.GeneratePDF
	}

	image, err := s.loadImage(ImageParams{Path: params.Path, ImageBase64: params.ImageBase64, Filename: params.Filename})
	if err != nil {
		return s.createErrorResult("Invalid image input", err), nil, nil
	}
	result, err := s.screener.RunAnalyze(ctx, image, generatePDF)
	if err != nil {
		return s.createErrorResult("Analysis rejected", err), nil, nil
	}
	return s.createResult(headline(string(result.Status), result.RiskNarrative, result.PDFURL), result), result, nil
}

// loadImage resolves params into an upload. Extension and emptiness checks are left to the
// pipeline gate.
func (s *Server) loadImage(params ImageParams) (*domain.UploadedImage, error) {
	switch {
	case strings.TrimSpace(params.Path) != "":
		path := filepath.Clean(params.Path)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		if info.Size() > s.maxBytes {
			return nil, fmt.Errorf("image exceeds %d bytes", s.maxBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		return &domain.UploadedImage{Filename: filepath.Base(path), Data: data}, nil

	case params.ImageBase64 != "":
		if params.Filename == "" {
			return nil, errors.New("filename is required with image_base64")
		}
		if int64(base64.StdEncoding.DecodedLen(len(params.ImageBase64))) > s.maxBytes+2 {
			return nil, fmt.Errorf("image exceeds %d bytes", s.maxBytes)
		}
		data, err := base64.StdEncoding.DecodeString(params.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("image_base64 is not valid base64: %w", err)
		}
		return &domain.UploadedImage{Filename: params.Filename, Data: data}, nil

	default:
		return nil, errors.New("either path or image_base64 is required")
	}
}

func headline(status string, narrative domain.SynthesisResult, pdfURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Screening %s: %s", status, narrative.RiskLevel)
	if narrative.BadgeText != "" {
		fmt.Fprintf(&b, " (%s)", narrative.BadgeText)
	}
	if narrative.Summary != "" {
		fmt.Fprintf(&b, ". %s", narrative.Summary)
	}
	if pdfURL != "" {
		fmt.Fprintf(&b, "\nReport: %s", pdfURL)
	}
	return b.String()
}

func passText(pass bool) string {
	if pass {
		return "passed"
	}
	return "failed"
}

// createResult returns a summary line followed by the full result as JSON.
func (s *Server) createResult(summary string, result any) *mcp.CallToolResult {
	content := []mcp.Content{&mcp.TextContent{Text: summary}}
	if body, err := json.MarshalIndent(result, "", "  "); err == nil {
		content = append(content, &mcp.TextContent{Text: string(body)})
	} else {
		s.logger.WithError(err).Warn("Failed to encode tool result")
	}
	return &mcp.CallToolResult{Content: content}
}

func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
