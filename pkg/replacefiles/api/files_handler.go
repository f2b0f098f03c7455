package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

// FilesHandler streams stored files for backends that cannot serve URLs themselves
type FilesHandler struct {
	service replacefiles.Service
	logger  *slog.Logger
}

func NewFilesHandler(service replacefiles.Service, logger *slog.Logger) *FilesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesHandler{service: service, logger: logger}
}

// Routes returns the router for file downloads. Mount it at the service's file URL prefix.
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{backend}/*", h.ServeFile)
	return r
}

// ServeFile writes the object named by the rest of the path
func (h *FilesHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	backend := chi.URLParam(r, "backend")
	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "Invalid object key", http.StatusBadRequest)
		return
	}

	reader, meta, err := h.service.DownloadObject(r.Context(), backend, key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer reader.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if meta.ETag != "" {
		w.Header().Set("ETag", meta.ETag)
	}

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.WarnContext(r.Context(), "failed to stream file", "backend", backend, "key", key, "error", err)
	}
}
