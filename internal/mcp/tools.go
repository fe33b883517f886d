package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/filecorr/internal/ingest"
	"github.com/dshills/filecorr/internal/report"
	"github.com/dshills/filecorr/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeFileNotFound      = -32001 // Digest is not in the corpus
	ErrorCodeImportInProgress  = -32002 // Another import is already running
	ErrorCodeUnreadableInput   = -32003 // Submitted content could not be read
	ErrorCodeFileTooLarge      = -32004 // Submitted content exceeds the size limit
	ErrorCodeCorpusUnavailable = -32005 // Durable storage failed
)

// handleCompareFile handles the compare_file tool invocation
func (s *Server) handleCompareFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path := getStringDefault(args, "path", "")
	encoded := getStringDefault(args, "content_base64", "")
	if (path == "") == (encoded == "") {
		return nil, newMCPError(ErrorCodeInvalidParams, "exactly one of path or content_base64 is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or ambiguous",
		})
	}

	limit, err := getLimit(args)
	if err != nil {
		return nil, err
	}

	var content []byte
	filename := getStringDefault(args, "filename", "")
	if path != "" {
		content, err = s.readFile(path)
		if err != nil {
			return nil, err
		}
		if filename == "" {
			filename = filepath.Base(path)
		}
	} else {
		// Oversized payloads are rejected before decoding
		if n := int64(base64.StdEncoding.DecodedLen(len(encoded))); n > s.opts.MaxFileSize+2 {
			return nil, s.tooLarge(n)
		}
		content, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "content_base64 is not valid base64", map[string]interface{}{
				"param":  "content_base64",
				"reason": err.Error(),
			})
		}
		if int64(len(content)) > s.opts.MaxFileSize {
			return nil, s.tooLarge(int64(len(content)))
		}
		if filename == "" {
			filename = "upload"
		}
	}

	req := ingest.CompareRequest{
		Content:  bytes.NewReader(content),
		Filename: filename,
		Limit:    limit,
	}
	if save, ok := args["save_to_db"].(bool); ok {
		req.Save = &save
	}

	result, err := s.coordinator.Compare(ctx, req)
	if err != nil {
		return nil, toMCPError(err, "comparison failed")
	}

	return mcp.NewToolResultText(formatJSON(report.Comparison(result, s.coordinator.MetricOrder()))), nil
}

// handleGetFile handles the get_file tool invocation
func (s *Server) handleGetFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	digest, ok := args["sha256"].(string)
	if !ok || digest == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "sha256 parameter is required", map[string]interface{}{
			"param":  "sha256",
			"reason": "missing or empty",
		})
	}

	limit, err := getLimit(args)
	if err != nil {
		return nil, err
	}

	view, err := s.coordinator.GetFileBySHA(ctx, digest, limit)
	if err != nil {
		return nil, toMCPError(err, "lookup failed")
	}

	return mcp.NewToolResultText(formatJSON(report.File(view, s.coordinator.MetricOrder()))), nil
}

// handleCorpusStatus handles the corpus_status tool invocation
func (s *Server) handleCorpusStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := arguments(request); err != nil {
		return nil, err
	}

	response := report.Status(s.store.Status())
	response["backend"] = s.store.Backend().Kind()
	response["import_running"] = s.importer.Running()
	if since := s.importer.RunningSince(); !since.IsZero() {
		response["import_started_at"] = since.UTC().Format(time.RFC3339)
	}
	response["save_by_default"] = s.coordinator.Config().SaveByDefault
	response["version"] = s.opts.Version

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReloadCorpus handles the reload_corpus tool invocation
func (s *Server) handleReloadCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := arguments(request); err != nil {
		return nil, err
	}

	if _, err := s.store.Reload(ctx); err != nil {
		return nil, toMCPError(err, "reload failed")
	}

	response := report.Status(s.store.Status())
	response["status"] = "success"
	response["message"] = "Corpus reloaded"

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImportFiles handles the import_files tool invocation
func (s *Server) handleImportFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	raw, ok := args["paths"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "paths parameter is required", map[string]interface{}{
			"param":  "paths",
			"reason": "missing or empty",
		})
	}

	paths := make([]string, 0, len(raw))
	for _, v := range raw {
		path, ok := v.(string)
		if !ok || path == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "paths must be non-empty strings", map[string]interface{}{
				"param": "paths",
				"value": v,
			})
		}
		if err := validatePath(path); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "paths",
				"value":  path,
				"reason": err.Error(),
			})
		}
		paths = append(paths, path)
	}

	stats, err := s.importer.Import(ctx, paths, &ingest.ImportConfig{
		Workers:     s.opts.ImportWorkers,
		Recursive:   getBoolDefault(args, "recursive", false),
		MaxFileSize: s.opts.MaxFileSize,
	})
	if err != nil {
		return nil, toMCPError(err, "import failed")
	}

	return mcp.NewToolResultText(formatJSON(report.Import(stats))), nil
}

// readFile loads a local file named by the compare_file path parameter
func (s *Server) readFile(path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeUnreadableInput, "cannot stat file", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if info.IsDir() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrIsDirectory.Error(),
		})
	}
	if info.Size() > s.opts.MaxFileSize {
		return nil, s.tooLarge(info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeUnreadableInput, "cannot open file", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = f.Close() }()

	// The limit guards against a file that grew after the stat
	content, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileSize+1))
	if err != nil {
		return nil, newMCPError(ErrorCodeUnreadableInput, "cannot read file", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if int64(len(content)) > s.opts.MaxFileSize {
		return nil, s.tooLarge(int64(len(content)))
	}
	return content, nil
}

func (s *Server) tooLarge(size int64) error {
	return newMCPError(ErrorCodeFileTooLarge, "file too large", map[string]interface{}{
		"file_size_bytes": size,
		"max_size_bytes":  s.opts.MaxFileSize,
		"max_size_mb":     float64(s.opts.MaxFileSize) / (1024 * 1024),
	})
}

// Helper functions

// arguments returns the tool arguments; tools without parameters may be
// called with none
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// getLimit reads the optional limit parameter; 0 means the server default
func getLimit(args map[string]interface{}) (int, error) {
	limit := getIntDefault(args, "limit", 0)
	if _, set := args["limit"]; set && (limit < 1 || limit > types.MaxMatches) {
		return 0, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", types.MaxMatches), map[string]interface{}{
			"param": "limit",
			"value": args["limit"],
		})
	}
	return limit, nil
}

// toMCPError maps engine errors onto MCP error codes
func toMCPError(err error, message string) error {
	data := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeFileNotFound, "file not found", data)
	case errors.Is(err, types.ErrInvalidDigest):
		return newMCPError(ErrorCodeInvalidParams, "invalid sha256", data)
	case errors.Is(err, types.ErrUnreadableInput):
		return newMCPError(ErrorCodeUnreadableInput, "unreadable input", data)
	case errors.Is(err, types.ErrImportInProgress):
		return newMCPError(ErrorCodeImportInProgress, "another import is already running", nil)
	case errors.Is(err, types.ErrCorpusIO):
		return newMCPError(ErrorCodeCorpusUnavailable, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that a path is absolute and exists
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrIsDirectory     = errors.New("path is a directory")
)
