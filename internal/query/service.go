// Package query answers read-side requests: latest element sets, current
// ground positions and ground-track predictions.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
)

const (
	MinPredictDays = 1
	MaxPredictDays = 3
	// PredictStep is the ground-track sampling interval.
	PredictStep = 600 * time.Second
)

var (
	// ErrNotFound is returned for unknown object names or an empty store.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidDays is returned when a prediction span is outside
	// [MinPredictDays, MaxPredictDays].
	ErrInvalidDays = errors.New("query: days out of range")
)

// Reader is the read half of storage.Store.
type Reader interface {
	LatestPerObject(ctx context.Context) ([]model.Record, error)
	LatestOverall(ctx context.Context) (model.Record, error)
	LatestByName(ctx context.Context, name string) (model.Record, error)
	AllByCategory(ctx context.Context, category model.Category) ([]model.Record, error)
}

// LatestCache serves the latest-per-object view from a mirror.
type LatestCache interface {
	LatestPerObject(ctx context.Context) ([]model.Record, error)
	LatestByName(ctx context.Context, name string) (model.Record, error)
}

// Metrics counts propagation failures.
type Metrics interface {
	IncPropagationFailure(code int)
}

// Position is the current ground point of one object.
type Position struct {
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Epoch    time.Time        `json:"epoch"`
	Point    model.OrbitPoint `json:"position"`
}

// ObjectError is a per-object failure inside a batch answer.
type ObjectError struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (e *ObjectError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }

func (e *ObjectError) Unwrap() error { return e.Err }

// Service is the query surface.
type Service struct {
	store   Reader
	cache   LatestCache
	clock   timectrl.Clock
	log     logging.Logger
	metrics Metrics
	workers int
	tracer  trace.Tracer
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = logging.OrNoop(l) }
}

// WithClock sets the clock that defines "now" for realtime queries.
func WithClock(c timectrl.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLatestCache reads the latest view from c first, falling back to the
// store when the cache fails or is empty.
func WithLatestCache(c LatestCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics sets the propagation failure counter.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithWorkers bounds the propagation pool used by RealtimeAll.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// NewService constructs a query service over store.
func NewService(store Reader, opts ...Option) *Service {
	s := &Service{
		store:  store,
		clock:  timectrl.SystemClock{},
		log:    logging.Noop(),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LatestPerObject returns one record per object, newest epoch first.
func (s *Service) LatestPerObject(ctx context.Context) ([]model.Record, error) {
	if s.cache != nil {
		recs, err := s.cache.LatestPerObject(ctx)
		if err == nil && len(recs) > 0 {
			return recs, nil
		}
		if err != nil {
			s.log.Warn(ctx, "latest cache read failed; using store", logging.Err(err))
		}
	}
	return s.store.LatestPerObject(ctx)
}

// LatestOverall returns the most recently ingested record.
func (s *Service) LatestOverall(ctx context.Context) (model.Record, error) {
	return s.store.LatestOverall(ctx)
}

// AllByCategory returns every stored record of category.
func (s *Service) AllByCategory(ctx context.Context, category model.Category) ([]model.Record, error) {
	return s.store.AllByCategory(ctx, category)
}

func (s *Service) latestByName(ctx context.Context, name string) (model.Record, error) {
	if s.cache != nil {
		rec, err := s.cache.LatestByName(ctx, name)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn(ctx, "latest cache read failed; using store", logging.Err(err))
		}
	}
	return s.store.LatestByName(ctx, name)
}

// Realtime returns the current ground point of the named object.
func (s *Service) Realtime(ctx context.Context, name string) (Position, error) {
	ctx, span := s.tracer.Start(ctx, "query.realtime", trace.WithAttributes(attribute.String("object.name", name)))
	defer span.End()

	rec, err := s.latestByName(ctx, name)
	if err != nil {
		return Position{}, err
	}
	pt, err := core.Realtime(rec.ElementSet, s.clock.Now())
	if err != nil {
		s.countFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "propagation failed")
		return Position{}, err
	}
	return positionOf(rec, pt), nil
}

// LatestOverallPosition returns the current ground point of the most
// recently ingested record.
func (s *Service) LatestOverallPosition(ctx context.Context) (Position, error) {
	rec, err := s.store.LatestOverall(ctx)
	if err != nil {
		return Position{}, err
	}
	pt, err := core.Realtime(rec.ElementSet, s.clock.Now())
	if err != nil {
		s.countFailure(err)
		return Position{}, err
	}
	return positionOf(rec, pt), nil
}

// RealtimeAll computes the current ground point of every object in the
// latest view. Objects that fail to propagate are listed in the second
// result and do not fail the call.
func (s *Service) RealtimeAll(ctx context.Context) ([]Position, []*ObjectError, error) {
	ctx, span := s.tracer.Start(ctx, "query.realtime_all")
	defer span.End()

	latest, err := s.LatestPerObject(ctx)
	if err != nil {
		return nil, nil, err
	}
	sets := make([]model.ElementSet, len(latest))
	for i, rec := range latest {
		sets[i] = rec.ElementSet
	}

	now := s.clock.Now()
	trajs := core.PredictAll(ctx, sets, core.PredictOptions{Start: now}, s.workers)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	positions := make([]Position, 0, len(trajs))
	var failures []*ObjectError
	for i, traj := range trajs {
		if traj.Err != nil || len(traj.Points) == 0 {
			err := traj.Err
			if err == nil {
				err = core.ErrInvalidWindow
			}
			s.countFailure(err)
			failures = append(failures, &ObjectError{Name: latest[i].Identity(), Err: err})
			continue
		}
		positions = append(positions, positionOf(latest[i], traj.Points[0]))
	}
	span.SetAttributes(
		attribute.Int("query.objects", len(latest)),
		attribute.Int("query.failures", len(failures)),
	)
	if len(failures) > 0 {
		s.log.Debug(ctx, "realtime positions incomplete", logging.Int("failures", len(failures)))
	}
	return positions, failures, nil
}

// Predict samples the ground track of the named object every PredictStep
// for days days starting at its element epoch.
func (s *Service) Predict(ctx context.Context, name string, days int) (model.Trajectory, error) {
	if days < MinPredictDays || days > MaxPredictDays {
		return model.Trajectory{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidDays, days, MinPredictDays, MaxPredictDays)
	}
	ctx, span := s.tracer.Start(ctx, "query.predict", trace.WithAttributes(
		attribute.String("object.name", name),
		attribute.Int("predict.days", days),
	))
	defer span.End()

	rec, err := s.latestByName(ctx, name)
	if err != nil {
		return model.Trajectory{}, err
	}
	traj, err := core.Predict(rec.ElementSet, core.PredictOptions{
		Duration: time.Duration(days) * 24 * time.Hour,
		Step:     PredictStep,
	})
	if err != nil {
		s.countFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		return traj, err
	}
	if traj.Truncated {
		s.countFailure(traj.Err)
		s.log.Info(ctx, "prediction truncated",
			logging.String("name", name),
			logging.Int("points", len(traj.Points)),
			logging.Err(traj.Err),
		)
	}
	span.SetAttributes(attribute.Int("predict.points", len(traj.Points)))
	return traj, nil
}

func (s *Service) countFailure(err error) {
	if s.metrics == nil || err == nil {
		return
	}
	code := 0
	var perr *core.PropagationError
	if errors.As(err, &perr) {
		code = perr.Code
	}
	s.metrics.IncPropagationFailure(code)
}

func positionOf(rec model.Record, pt model.OrbitPoint) Position {
	return Position{
		Name:     rec.Identity(),
		Category: rec.Category.String(),
		Epoch:    rec.Epoch,
		Point:    pt,
	}
}
