// Package httpapi exposes the query surface and the ingestion maintenance
// operations over HTTP, plus a websocket stream of live positions.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Ingester runs ingestion and wipe operations. *ingest.Orchestrator
// implements it.
type Ingester interface {
	Ingest(ctx context.Context, f ingest.Feed) (ingest.Report, error)
	WipeAndRefetch(ctx context.Context, f ingest.Feed) (ingest.Report, error)
}

// Server routes HTTP requests to the query service and the ingester.
type Server struct {
	query   *query.Service
	ingest  Ingester
	feed    ingest.Feed
	hub     *Hub
	log     logging.Logger
	metrics *observability.TrackerCollector
}

// Option customises a Server.
type Option func(*Server)

// WithIngester enables the fetch and wipe endpoints, reading from f.
func WithIngester(ing Ingester, f ingest.Feed) Option {
	return func(s *Server) {
		s.ingest = ing
		s.feed = f
	}
}

// WithHub enables the websocket stream.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithLogger sets the base request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = logging.OrNoop(l) }
}

// WithMetrics records per-route request metrics.
func WithMetrics(c *observability.TrackerCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// New builds a server over q.
func New(q *query.Service, opts ...Option) *Server {
	s := &Server{query: q, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	s.route(mux, "GET /api/tle/latest", "tle_latest", s.handleLatestOverall)
	s.route(mux, "GET /api/tle/latest-per-object", "tle_latest_per_object", s.handleLatestPerObject)
	s.route(mux, "GET /api/tle/by-type", "tle_by_type", s.handleByType)
	s.route(mux, "POST /api/tle/fetch", "tle_fetch", s.handleFetch)
	s.route(mux, "POST /api/tle/wipe", "tle_wipe", s.handleWipe)
	s.route(mux, "GET /api/orbit/realtime", "orbit_realtime_all", s.handleRealtimeAll)
	s.route(mux, "GET /api/orbit/realtime/{name}", "orbit_realtime", s.handleRealtime)
	s.route(mux, "GET /api/orbit/predict", "orbit_predict", s.handlePredict)
	if s.hub != nil {
		mux.Handle("GET /api/orbit/stream", s.metrics.InstrumentHandler("orbit_stream", s.hub))
	}
	return otelhttp.NewHandler(s.requestContext(mux), "orbit-tracker")
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.InstrumentHandler(name, h))
}

// requestContext attaches a request id and request-scoped logger, echoing
// the id in the response.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log)
		ctx = logging.ContextWithLogger(ctx, log)
		w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Debug(ctx, "request served",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatestOverall(w http.ResponseWriter, r *http.Request) {
	rec, err := s.query.LatestOverall(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(rec))
}

func (s *Server) handleLatestPerObject(w http.ResponseWriter, r *http.Request) {
	recs, err := s.query.LatestPerObject(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordViews(recs))
}

func (s *Server) handleByType(w http.ResponseWriter, r *http.Request) {
	category, err := model.ParseCategory(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := s.query.AllByCategory(r.Context(), category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordViews(recs))
}

func (s *Server) handleRealtimeAll(w http.ResponseWriter, r *http.Request) {
	positions, failures, err := s.query.RealtimeAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if positions == nil {
		positions = []query.Position{}
	}
	writeJSON(w, http.StatusOK, realtimeView{Positions: positions, Failures: toFailureViews(failures)})
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	pos, err := s.query.Realtime(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	name := params.Get("objectName")
	if name == "" {
		name = params.Get("name")
	}
	if name == "" {
		writeError(w, r, errorf(ErrBadRequest, "objectName is required"))
		return
	}
	days := query.MinPredictDays
	if raw := params.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, errorf(query.ErrInvalidDays, "%q is not a number", raw))
			return
		}
		days = n
	}

	traj, err := s.query.Predict(r.Context(), name, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrajectoryView(traj, days))
}

// handleFetch runs one ingestion. A feed failure is reported in the body
// with a 502 so callers can tell it apart from a successful empty run.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, r, ErrIngestDisabled)
		return
	}
	report, err := s.ingest.Ingest(r.Context(), s.feed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if report.FeedErr != nil {
		status = statusFor(report.FeedErr)
	}
	writeJSON(w, status, toReportView(report))
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, r, ErrIngestDisabled)
		return
	}
	report, err := s.ingest.WipeAndRefetch(r.Context(), s.feed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportView(report))
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
