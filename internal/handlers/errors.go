package handlers

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// writeError logs unexpected failures and writes err with its default status.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeErrorWithOverrides(w, r, logger, err, nil)
}

// writeErrorWithOverrides is writeError with per-route status overrides.
func writeErrorWithOverrides(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, overrides map[models.ErrorKind]int) {
	kind := models.KindOf(err)
	if kind == models.KindInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	pkghttp.WriteAppErrorWithStatus(w, err, overrides[kind])
}
