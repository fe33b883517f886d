// Package mcp implements the Model Context Protocol (MCP) server for filecorr.
//
// The MCP server exposes five tools to AI assistants and analyst tooling:
//   - compare_file: Fingerprint a file and rank similar corpus entries
//   - get_file: Look up a stored file and rank it against the corpus
//   - corpus_status: Report corpus size and index coverage
//   - reload_corpus: Re-read the corpus from durable storage
//   - import_files: Add local files and directories to the corpus
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the mcp command, which is also the default:
//
//	filecorr mcp --db /var/lib/filecorr/corpus.db
//
// # Tool: compare_file
//
// Give either an absolute path or the content itself:
//
//	Request:
//	{
//	  "name": "compare_file",
//	  "arguments": {
//	    "path": "/samples/invoice.pdf",
//	    "save_to_db": true,
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "uploaded_file": {
//	    "filename": "invoice.pdf",
//	    "file_type": "application/pdf",
//	    "sha256": "9f86d0...",
//	    "exists_in_database": true,
//	    "saved_to_database": true,
//	    "hashes": {"sha256": "...", "md5": "...", "tlsh": "T1...", "ssdeep": "96:..."}
//	  },
//	  "state": "PERSISTED",
//	  "tlsh": {
//	    "family": "distance",
//	    "best_match": {"sha256": "...", "name": ["invoice-v1.pdf"], "score": 14, "closeness": 86},
//	    "similarity_score": 14,
//	    "top_matches": [...],
//	    "total_comparisons": 150
//	  },
//	  "ssdeep": {...}
//	}
//
// A file whose SHA-256 is already stored is merged into the existing record
// and returned without rankings (state EXACT_MATCH).
//
// # Tool: get_file
//
//	Request:
//	{"name": "get_file", "arguments": {"sha256": "9f86d0..."}}
//
// The response is the stored record plus a "similar" list joining both
// metrics by digest, each entry carrying tlsh_score and ssdeep_score
// closeness values. The file itself is always included.
//
// # Error Handling
//
// Tool errors are returned as *MCPError values:
//   - -32602: Invalid params (missing/invalid arguments, malformed sha256)
//   - -32603: Internal error
//   - -32001: File not found in corpus
//   - -32002: Import already in progress
//   - -32003: Unreadable input
//   - -32004: File too large
//   - -32005: Corpus storage unavailable
//
// A failure to persist during compare_file is not an error: the rankings are
// returned with persistence_failed set on uploaded_file.
//
// # Logging
//
// The server logs to stderr through log/slog; stdout carries only protocol
// messages.
package mcp
