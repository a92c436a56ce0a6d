package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForKind maps business error kinds to HTTP statuses.
var statusForKind = map[models.Kind]int{
	models.KindInvalidArgument:   http.StatusBadRequest,
	models.KindInvalidAmount:     http.StatusUnprocessableEntity,
	models.KindNotFound:          http.StatusNotFound,
	models.KindUnknownArbitrator: http.StatusForbidden,
	models.KindInvalidTransition: http.StatusConflict,
	models.KindDuplicatePhone:    http.StatusConflict,
	models.KindRosterFull:        http.StatusConflict,
	models.KindIncompleteRoster:  http.StatusConflict,
	models.KindAlreadyEscalated:  http.StatusConflict,
	models.KindCaseClosed:        http.StatusConflict,
	models.KindArbitratorInUse:   http.StatusConflict,
	models.KindLockNotAcquired:   http.StatusServiceUnavailable,
}

// writeError answers a service error. Business errors carry their kind and
// message; anything else is logged and reported as internal_error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := models.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		logger.Error("request_failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if kind == models.KindLockNotAcquired {
		w.Header().Set("Retry-After", "1")
	}
	security.WriteJSONErrorMessage(w, r, status, string(kind), models.MessageOf(err))
}
