package main

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/orbit-tracker/internal/config"
	"github.com/signalsfoundry/orbit-tracker/internal/httpapi"
	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
)

// job is a periodic background task driven by a timectrl.Ticker.
type job struct {
	name      string
	interval  time.Duration
	immediate bool
	run       func(ctx context.Context, now time.Time) error
}

// startJobs starts one ticker per job and returns their done channels.
func startJobs(ctx context.Context, clock timectrl.Clock, jobs []job, metrics *observability.JobCollector, log logging.Logger) []<-chan struct{} {
	done := make([]<-chan struct{}, 0, len(jobs))
	for _, j := range jobs {
		ticker := timectrl.NewTicker(j.interval, clock)
		ticker.Immediate = j.immediate
		ticker.AddListener(func(ctx context.Context, now time.Time) {
			start := time.Now()
			err := j.run(ctx, now)
			metrics.ObserveJob(j.name, clock.Now(), time.Since(start), err)
			if err != nil && ctx.Err() == nil {
				log.Warn(ctx, "background job failed", logging.String("job", j.name), logging.Err(err))
			}
		})
		log.Debug(ctx, "starting background job",
			logging.String("job", j.name),
			logging.Duration("interval", j.interval),
		)
		done = append(done, ticker.Start(ctx))
	}
	return done
}

// ingestJob fetches the feed on the configured interval. A feed failure
// counts as a failed run even though the orchestrator itself only logs it.
func ingestJob(o *ingest.Orchestrator, f ingest.Feed, cfg config.Config, log logging.Logger) job {
	return job{
		name:      "ingest",
		interval:  cfg.IngestInterval,
		immediate: cfg.IngestOnStart,
		run: func(ctx context.Context, _ time.Time) error {
			report, err := o.Ingest(ctx, f)
			if errors.Is(err, ingest.ErrIngestInProgress) {
				log.Info(ctx, "skipping scheduled ingestion; another run is in progress")
				return nil
			}
			if err != nil {
				return err
			}
			log.Info(ctx, report.String())
			return report.FeedErr
		},
	}
}

// feedbackJob logs the current ground point of the most recently ingested
// element set.
func feedbackJob(svc *query.Service, interval time.Duration, log logging.Logger) job {
	return job{
		name:     "feedback",
		interval: interval,
		run: func(ctx context.Context, _ time.Time) error {
			pos, err := svc.LatestOverallPosition(ctx)
			if errors.Is(err, storage.ErrNotFound) {
				log.Info(ctx, "no element sets stored yet")
				return nil
			}
			if err != nil {
				return err
			}
			log.Info(ctx, "current orbit point",
				logging.String("name", pos.Name),
				logging.Float64("latitude", pos.Point.Latitude),
				logging.Float64("longitude", pos.Point.Longitude),
				logging.Float64("altitude_m", pos.Point.Altitude),
			)
			return nil
		},
	}
}

// streamJob pushes current positions to websocket subscribers.
func streamJob(hub *httpapi.Hub, svc *query.Service, interval time.Duration) job {
	return job{
		name:     "stream",
		interval: interval,
		run: func(ctx context.Context, _ time.Time) error {
			return hub.PublishPositions(ctx, svc)
		},
	}
}
