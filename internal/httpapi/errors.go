package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
)

var (
	// ErrBadRequest marks malformed query parameters.
	ErrBadRequest = errors.New("bad request")
	// ErrIngestDisabled is returned by the maintenance endpoints when the
	// server was built without an ingester.
	ErrIngestDisabled = errors.New("ingestion is not configured")
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		ferr *feed.FeedError
		perr *core.PropagationError
		terr *core.TransformError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrBadRequest),
		errors.Is(err, query.ErrInvalidDays),
		errors.Is(err, model.ErrInvalidCategory):
		return http.StatusBadRequest

	case errors.Is(err, ingest.ErrIngestInProgress):
		return http.StatusConflict

	case errors.Is(err, ErrIngestDisabled):
		return http.StatusServiceUnavailable

	case errors.As(err, &ferr):
		if ferr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway

	case errors.As(err, &perr),
		errors.As(err, &terr),
		errors.Is(err, core.ErrInvalidWindow):
		return http.StatusUnprocessableEntity

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its mapped status. Server-side failures are
// logged with the request logger; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		log := logging.OrNoop(logging.LoggerFromContext(ctx))
		log.Error(ctx, "request failed", logging.Int("status", status), logging.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: logging.RequestIDFromContext(ctx)})
}
