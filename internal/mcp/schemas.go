package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/filecorr/pkg/types"
)

// compareFileTool returns the tool definition for compare_file
func compareFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "compare_file",
		Description: "Fingerprint a file and rank the most similar files in the corpus by TLSH and ssdeep",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a local file (give either path or content_base64)",
				},
				"content_base64": map[string]interface{}{
					"type":        "string",
					"description": "File content, standard base64 encoded",
				},
				"filename": map[string]interface{}{
					"type":        "string",
					"description": "Name recorded for the observation (default: base name of path, or \"upload\")",
				},
				"save_to_db": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, add a new file to the corpus after ranking (default: server setting)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches per metric",
					"default":     types.MaxMatches,
					"minimum":     1,
					"maximum":     types.MaxMatches,
				},
			},
		},
	}
}

// getFileTool returns the tool definition for get_file
func getFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file",
		Description: "Look up a corpus file by SHA-256 and list the files most similar to it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sha256": map[string]interface{}{
					"type":        "string",
					"description": "Hex SHA-256 of the stored file",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches per metric",
					"default":     types.MaxMatches,
					"minimum":     1,
					"maximum":     types.MaxMatches,
				},
			},
			Required: []string{"sha256"},
		},
	}
}

// corpusStatusTool returns the tool definition for corpus_status
func corpusStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "corpus_status",
		Description: "Report corpus size, index coverage per metric and storage backend",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// reloadCorpusTool returns the tool definition for reload_corpus
func reloadCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reload_corpus",
		Description: "Re-read the corpus from durable storage, picking up external edits",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// importFilesTool returns the tool definition for import_files
func importFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_files",
		Description: "Add local files and directories to the corpus",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Absolute file or directory paths",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"recursive": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, descend into subdirectories",
					"default":     false,
				},
			},
			Required: []string{"paths"},
		},
	}
}
