package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/signalsfoundry/orbit-tracker/model"
)

const (
	// DefaultStep is the sampling interval used when PredictOptions.Step
	// is zero.
	DefaultStep = 10 * time.Minute
	// MaxPredictDuration bounds a single prediction window.
	MaxPredictDuration = 3 * 24 * time.Hour
	// MaxPredictSamples bounds the number of points in one window.
	MaxPredictSamples = 100_000
)

// PredictOptions describes a sampling window. A zero Start means the
// element epoch; a zero Step means DefaultStep.
type PredictOptions struct {
	Start    time.Time
	Duration time.Duration
	Step     time.Duration
}

func (o PredictOptions) normalise(epoch time.Time) (PredictOptions, error) {
	if o.Start.IsZero() {
		o.Start = epoch
	}
	if o.Step == 0 {
		o.Step = DefaultStep
	}
	if o.Step < 0 {
		return o, fmt.Errorf("%w: step %s", ErrInvalidWindow, o.Step)
	}
	if o.Duration < 0 || o.Duration > MaxPredictDuration {
		return o, fmt.Errorf("%w: duration %s outside [0, %s]", ErrInvalidWindow, o.Duration, MaxPredictDuration)
	}
	if o.Duration/o.Step >= MaxPredictSamples {
		return o, fmt.Errorf("%w: step %s gives more than %d samples", ErrInvalidWindow, o.Step, MaxPredictSamples)
	}
	return o, nil
}

// Predict samples the ground track of set at Start + k*Step for
// k = 0..floor(Duration/Step). A failure after the first sample truncates
// the trajectory and is reported through Trajectory.Err; only an
// initialisation failure or a failure at the first sample is returned.
func Predict(set model.ElementSet, opts PredictOptions) (model.Trajectory, error) {
	traj := model.Trajectory{Name: set.Identity()}

	prop, err := NewPropagator(set)
	if err != nil {
		return traj, err
	}
	opts, err = opts.normalise(prop.Epoch())
	if err != nil {
		return traj, err
	}

	n := int(opts.Duration/opts.Step) + 1
	traj.Points = make([]model.OrbitPoint, 0, n)
	for k := 0; k < n; k++ {
		at := opts.Start.Add(time.Duration(k) * opts.Step)
		pt, err := samplePoint(prop, at)
		if err != nil {
			if k == 0 {
				return traj, err
			}
			traj.Truncated = true
			traj.Err = err
			break
		}
		traj.Points = append(traj.Points, pt)
	}
	return traj, nil
}

// Realtime evaluates a single ground point for set at now.
func Realtime(set model.ElementSet, now time.Time) (model.OrbitPoint, error) {
	prop, err := NewPropagator(set)
	if err != nil {
		return model.OrbitPoint{}, err
	}
	return samplePoint(prop, now)
}

func samplePoint(prop *Propagator, at time.Time) (model.OrbitPoint, error) {
	sv, err := prop.Propagate(at)
	if err != nil {
		return model.OrbitPoint{}, err
	}
	return Geodetic(sv.Position, at)
}

// PredictAll runs Predict for every set on a bounded pool of workers.
// Results are in input order; a set that fails carries its error in
// Trajectory.Err with no points. workers <= 0 means GOMAXPROCS.
func PredictAll(ctx context.Context, sets []model.ElementSet, opts PredictOptions, workers int) []model.Trajectory {
	out := make([]model.Trajectory, len(sets))
	if len(sets) == 0 {
		return out
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(sets) {
		workers = len(sets)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					out[i] = model.Trajectory{Name: sets[i].Identity(), Err: err}
					continue
				}
				traj, err := Predict(sets[i], opts)
				if err != nil {
					traj.Err = err
				}
				out[i] = traj
			}
		}()
	}
	for i := range sets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}
