// Package mcp exposes the screening pipeline as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	serverName    = "denticheck-screening"
	serverVersion = "v0.1.0"
)

// Screener runs the screening façades.
type Screener interface {
	Run(ctx context.Context, image *domain.UploadedImage) (*domain.RunResult, error)
	RunQuick(ctx context.Context, image *domain.UploadedImage) (*domain.QuickResult, error)
	RunAnalyze(ctx context.Context, image *domain.UploadedImage, generatePDF bool) (*domain.AnalyzeResult, error)
}

// Server represents the DentiCheck MCP server
type Server struct {
	mcpServer *mcp.Server
	screener  Screener
	maxBytes  int64
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers the screening tools. maxBytes caps the
// decoded image size; zero means 10 MiB.
func NewServer(screener Screener, maxBytes int64, logger *logrus.Logger) (*Server, error) {
	if screener == nil {
		return nil, fmt.Errorf("screener is required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		screener:  screener,
		maxBytes:  maxBytes,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Start serves the tools on stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("transport_type", "stdio").Info("Starting DentiCheck MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// registerTools registers the screening tools with the SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolScreenImage,
		Description: "Run the full dental screening on an oral photo: quality gate, detection, risk narrative and PDF report.",
	}, s.handleScreenImage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolQuickScreenImage,
		Description: "Run only the quality gate and detection on an oral photo. No narrative or report.",
	}, s.handleQuickScreenImage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolAnalyzeImage,
		Description: "Produce the risk narrative for an oral photo within the analysis time budget, optionally with a PDF report.",
	}, s.handleAnalyzeImage)

	s.logger.WithField("tool_count", 3).Debug("Registered MCP tools")
}
