package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/ingest"
	"github.com/dshills/filecorr/internal/report"
	"github.com/dshills/filecorr/pkg/types"
)

// multipartOverhead is the body allowance beyond MaxFileSize for multipart
// boundaries, part headers and small form fields
const multipartOverhead = 64 << 10

// API serves the filecorr HTTP endpoints
type API struct {
	coordinator *ingest.Coordinator
	store       *corpus.Store
	maxFileSize int64
	version     string
	logger      *slog.Logger
}

// NewAPI creates the endpoint handlers
func NewAPI(coordinator *ingest.Coordinator, maxFileSize int64, version string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		coordinator: coordinator,
		store:       coordinator.Store(),
		maxFileSize: maxFileSize,
		version:     version,
		logger:      logger.With("component", "httpapi"),
	}
}

// Compare handles POST /api/compare.
// Multipart form: file (required), save_to_db (optional boolean).
// Query: limit (optional, 1-10).
func (a *API) Compare(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.tooLarge(w, "", r.ContentLength)
			return
		}
		validationError(w, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		validationError(w, "no file provided")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		validationError(w, "no file selected")
		return
	}
	if header.Size > a.maxFileSize {
		a.tooLarge(w, header.Filename, header.Size)
		return
	}

	req := ingest.CompareRequest{
		Content:  file,
		Filename: header.Filename,
		Limit:    limit,
	}
	if v := r.FormValue("save_to_db"); v != "" {
		save, err := strconv.ParseBool(v)
		if err != nil {
			validationError(w, "save_to_db must be true or false")
			return
		}
		req.Save = &save
	}

	result, err := a.coordinator.Compare(r.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrUnreadableInput) {
			writeError(w, http.StatusBadRequest, CodeUnreadableInput, "file processing failed", map[string]interface{}{
				"filename": header.Filename,
				"details":  err.Error(),
			})
			return
		}
		a.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report.Comparison(result, a.coordinator.MetricOrder()))
}

// File handles GET /api/file/{sha256}
func (a *API) File(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	view, err := a.coordinator.GetFileBySHA(r.Context(), chi.URLParam(r, "sha256"), limit)
	switch {
	case errors.Is(err, types.ErrInvalidDigest):
		validationError(w, err.Error())
		return
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "file not found", nil)
		return
	case err != nil:
		a.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report.File(view, a.coordinator.MetricOrder()))
}

// Reload handles POST /api/reload
func (a *API) Reload(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.Reload(r.Context()); err != nil {
		a.logger.Error("corpus reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	response := report.Status(a.store.Status())
	response["status"] = "success"
	response["message"] = "Corpus reloaded"
	writeJSON(w, http.StatusOK, response)
}

// Health handles GET /api/health
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	response := report.Status(a.store.Status())
	response["status"] = "ok"
	response["backend"] = a.store.Backend().Kind()
	response["version"] = a.version
	writeJSON(w, http.StatusOK, response)
}

func (a *API) tooLarge(w http.ResponseWriter, filename string, size int64) {
	details := map[string]interface{}{
		"max_size_bytes": a.maxFileSize,
		"max_size_mb":    float64(a.maxFileSize) / (1024 * 1024),
	}
	if filename != "" {
		details["filename"] = filename
	}
	if size > 0 {
		details["file_size_bytes"] = size
	}
	writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, "file too large", details)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"error", err)
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error", nil)
}

// parseLimit reads the optional limit query parameter; 0 means the default
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > types.MaxMatches {
		validationError(w, "limit must be between 1 and "+strconv.Itoa(types.MaxMatches))
		return 0, false
	}
	return n, true
}
