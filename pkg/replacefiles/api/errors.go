package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/replace-files/pkg/replacefiles"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, replacefiles.ErrAttachmentNotFound),
		errors.Is(err, replacefiles.ErrObjectNotFound),
		errors.Is(err, replacefiles.ErrStorageBackendNotFound):
		return http.StatusNotFound
	case errors.Is(err, replacefiles.ErrInvalidParent),
		errors.Is(err, replacefiles.ErrInvalidTransition),
		errors.Is(err, replacefiles.ErrNotReplacement):
		return http.StatusConflict
	case errors.Is(err, replacefiles.ErrForbidden),
		errors.Is(err, replacefiles.ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, replacefiles.ErrInvalidField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
