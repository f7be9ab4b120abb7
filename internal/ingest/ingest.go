// Package ingest runs the fetch, decode, classify and store pipeline and the
// wipe-then-refetch maintenance operation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

// DefaultFeedTimeout bounds login plus fetch for one run.
const DefaultFeedTimeout = 30 * time.Second

// ErrIngestInProgress is returned immediately when another ingestion or
// wipe is running.
var ErrIngestInProgress = errors.New("ingest: another ingestion is in progress")

// Feed is the element-set source. *feed.Client implements it.
type Feed interface {
	Authenticate(ctx context.Context, creds feed.Credentials) (*feed.Session, error)
	FetchLatestElementSets(ctx context.Context, s *feed.Session) ([]byte, error)
}

// Metrics receives per-run measurements.
type Metrics interface {
	ObserveIngest(outcome string, parsed, rejected, inserted int, d time.Duration)
	SetTrackedObjects(counts map[model.Category]int)
}

// FeedStatus is told whether the last feed call succeeded.
type FeedStatus interface {
	SetFeedServing(ok bool)
}

// Report summarises one ingestion run.
type Report struct {
	RunID        string
	Started      time.Time
	Finished     time.Time
	FetchedBytes int
	Parsed       int
	Rejected     []*tle.ParseError
	Inserted     int
	ByCategory   map[model.Category]int
	Wiped        bool
	// FeedErr is set when the feed could not be read. The run then stores
	// nothing.
	FeedErr error
}

// Orchestrator is the single writer of the store.
type Orchestrator struct {
	store storage.Store
	mu    sync.Mutex

	log         logging.Logger
	metrics     Metrics
	mirror      storage.LatestMirror
	status      FeedStatus
	creds       feed.Credentials
	feedTimeout time.Duration
	clock       timectrl.Clock
	tracer      trace.Tracer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLatestMirror refreshes m with the latest-per-object view after every
// successful run and clears it on wipe.
func WithLatestMirror(m storage.LatestMirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

// WithFeedStatus reports feed health to s.
func WithFeedStatus(s FeedStatus) Option {
	return func(o *Orchestrator) { o.status = s }
}

// WithCredentials sets the feed account.
func WithCredentials(c feed.Credentials) Option {
	return func(o *Orchestrator) { o.creds = c }
}

// WithFeedTimeout bounds login plus fetch.
func WithFeedTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.feedTimeout = d
		}
	}
}

// WithClock sets the clock used for report timestamps.
func WithClock(c timectrl.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New constructs an orchestrator writing to store.
func New(store storage.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		log:         logging.Noop(),
		feedTimeout: DefaultFeedTimeout,
		clock:       timectrl.SystemClock{},
		tracer:      observability.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest fetches, decodes and stores one batch. Feed failures are recorded
// in Report.FeedErr and do not produce an error; storage failures do.
func (o *Orchestrator) Ingest(ctx context.Context, f Feed) (Report, error) {
	if !o.mu.TryLock() {
		o.observe(observability.OutcomeBusy, Report{}, 0)
		return Report{}, ErrIngestInProgress
	}
	defer o.mu.Unlock()

	return o.run(ctx, f, false)
}

// WipeAndRefetch clears the store and ingests a fresh batch under the same
// writer lock. Any failure after the clear is returned and leaves the store
// empty; there is no rollback to the previous contents.
func (o *Orchestrator) WipeAndRefetch(ctx context.Context, f Feed) (Report, error) {
	if !o.mu.TryLock() {
		o.observe(observability.OutcomeBusy, Report{}, 0)
		return Report{}, ErrIngestInProgress
	}
	defer o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "ingest.wipe")
	defer span.End()

	if err := o.store.DeleteAll(ctx); err != nil {
		err = storage.Wrap("delete all", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "wipe failed")
		o.log.Error(ctx, "wipe failed", logging.Err(err))
		return Report{}, err
	}
	if o.mirror != nil {
		if err := o.mirror.Clear(ctx); err != nil {
			o.log.Warn(ctx, "latest mirror clear failed", logging.Err(err))
		}
	}
	if o.metrics != nil {
		o.metrics.SetTrackedObjects(nil)
	}
	o.log.Info(ctx, "store wiped; refetching")

	report, err := o.run(ctx, f, true)
	report.Wiped = true
	if err == nil && report.FeedErr != nil {
		err = report.FeedErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refetch failed")
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, f Feed, wiped bool) (Report, error) {
	report := Report{
		RunID:      uuid.NewString(),
		Started:    o.clock.Now(),
		ByCategory: make(map[model.Category]int, len(model.Categories())),
		Wiped:      wiped,
	}
	started := time.Now()
	log := o.log.With(logging.String("run_id", report.RunID))

	ctx, span := o.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("ingest.run_id", report.RunID),
		attribute.Bool("ingest.wiped", wiped),
	))
	defer span.End()

	body, err := o.fetch(ctx, f)
	if err != nil {
		report.FeedErr = err
		report.Finished = o.clock.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, "feed failed")
		o.setFeedStatus(false)
		o.observe(observability.OutcomeFeedError, report, time.Since(started))
		log.Warn(ctx, "feed fetch failed", logging.Err(err))
		return report, nil
	}
	o.setFeedStatus(true)
	report.FetchedBytes = len(body)

	sets, rejected := tle.DecodeBatch(body)
	report.Parsed = len(sets)
	report.Rejected = rejected
	for _, perr := range rejected {
		log.Debug(ctx, "element set rejected",
			logging.Int("index", perr.Index),
			logging.String("name", perr.Name),
			logging.Err(perr.Err),
		)
	}

	objs := make([]model.TrackedObject, 0, len(sets))
	for _, set := range sets {
		objs = append(objs, model.NewTrackedObject(set))
	}

	recs, err := o.store.InsertMany(ctx, objs)
	if err != nil {
		err = storage.Wrap("insert", err)
		report.Finished = o.clock.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		o.observe(observability.OutcomeStorageError, report, time.Since(started))
		log.Error(ctx, "storing element sets failed", logging.Err(err))
		return report, err
	}
	report.Inserted = len(recs)
	for _, rec := range recs {
		report.ByCategory[rec.Category]++
	}

	o.refreshLatest(ctx, log)

	report.Finished = o.clock.Now()
	span.SetAttributes(
		attribute.Int("ingest.parsed", report.Parsed),
		attribute.Int("ingest.rejected", len(report.Rejected)),
		attribute.Int("ingest.inserted", report.Inserted),
	)
	o.observe(observability.OutcomeSuccess, report, time.Since(started))
	log.Info(ctx, "ingestion complete",
		logging.Int("bytes", report.FetchedBytes),
		logging.Int("parsed", report.Parsed),
		logging.Int("rejected", len(report.Rejected)),
		logging.Int("inserted", report.Inserted),
		logging.Int("satellites", report.ByCategory[model.Satellite]),
		logging.Int("debris", report.ByCategory[model.Debris]),
		logging.Int("rocket_bodies", report.ByCategory[model.RocketBody]),
	)
	return report, nil
}

// fetch logs in and downloads one batch within the feed timeout. Every
// failure comes back as a *feed.FeedError.
func (o *Orchestrator) fetch(ctx context.Context, f Feed) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.feedTimeout)
	defer cancel()

	session, err := f.Authenticate(ctx, o.creds)
	if err != nil {
		return nil, asFeedError("login", err)
	}
	body, err := f.FetchLatestElementSets(ctx, session)
	if err != nil {
		return nil, asFeedError("fetch", err)
	}
	return body, nil
}

func asFeedError(op string, err error) error {
	var ferr *feed.FeedError
	if errors.As(err, &ferr) {
		return err
	}
	return &feed.FeedError{Op: op, Err: err}
}

// refreshLatest pushes the latest-per-object view to the mirror and the
// tracked-object gauge. Failures are logged only.
func (o *Orchestrator) refreshLatest(ctx context.Context, log logging.Logger) {
	if o.mirror == nil && o.metrics == nil {
		return
	}
	latest, err := o.store.LatestPerObject(ctx)
	if err != nil {
		log.Warn(ctx, "reading latest view failed", logging.Err(err))
		return
	}
	if o.metrics != nil {
		counts := make(map[model.Category]int, len(model.Categories()))
		for _, rec := range latest {
			counts[rec.Category]++
		}
		o.metrics.SetTrackedObjects(counts)
	}
	if o.mirror != nil {
		if err := o.mirror.ReplaceLatest(ctx, latest); err != nil {
			log.Warn(ctx, "latest mirror refresh failed", logging.Err(err))
		}
	}
}

func (o *Orchestrator) observe(outcome string, r Report, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveIngest(outcome, r.Parsed, len(r.Rejected), r.Inserted, d)
}

func (o *Orchestrator) setFeedStatus(ok bool) {
	if o.status != nil {
		o.status.SetFeedServing(ok)
	}
}

// String renders a one-line summary for logs and the CLI.
func (r Report) String() string {
	if r.FeedErr != nil {
		return fmt.Sprintf("run %s: feed error: %v", r.RunID, r.FeedErr)
	}
	return fmt.Sprintf("run %s: parsed %d, rejected %d, inserted %d (satellites %d, debris %d, rocket bodies %d)",
		r.RunID, r.Parsed, len(r.Rejected), r.Inserted,
		r.ByCategory[model.Satellite], r.ByCategory[model.Debris], r.ByCategory[model.RocketBody])
}
