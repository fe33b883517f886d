package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/ingest"
)

const (
	// ServerName is the MCP server name
	ServerName = "filecorr"
	// DefaultMaxFileSize bounds submitted content when Options leaves it unset
	DefaultMaxFileSize = 5 << 20
)

// Options tunes tool behavior
type Options struct {
	Version       string
	MaxFileSize   int64 // Largest accepted submission in bytes
	ImportWorkers int   // 0 means one per CPU
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp         *server.MCPServer
	coordinator *ingest.Coordinator
	importer    *ingest.Importer
	store       *corpus.Store
	opts        Options
	logger      *slog.Logger
}

// NewServer creates a new MCP server instance with every tool registered
func NewServer(coordinator *ingest.Coordinator, importer *ingest.Importer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		mcp:         server.NewMCPServer(ServerName, opts.Version),
		coordinator: coordinator,
		importer:    importer,
		store:       coordinator.Store(),
		opts:        opts,
		logger:      logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or in
// reaches EOF. Nothing else may write to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP on stdio", "version", s.opts.Version)
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(compareFileTool(), s.handleCompareFile)
	s.mcp.AddTool(getFileTool(), s.handleGetFile)
	s.mcp.AddTool(corpusStatusTool(), s.handleCorpusStatus)
	s.mcp.AddTool(reloadCorpusTool(), s.handleReloadCorpus)
	s.mcp.AddTool(importFilesTool(), s.handleImportFiles)
}
