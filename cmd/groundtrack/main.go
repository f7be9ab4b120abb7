// Command groundtrack prints the predicted ground track of every element set
// in a two-line element file.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "groundtrack: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	path     string
	name     string
	start    time.Time
	duration time.Duration
	step     time.Duration
	format   string
	compare  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("groundtrack", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var start string
	fs.StringVar(&opts.path, "tle", "-", "two-line element file (- reads stdin)")
	fs.StringVar(&opts.name, "name", "", "only track objects whose name contains this text (case-insensitive)")
	fs.StringVar(&start, "start", "", "first sample time, RFC 3339 (default: each set's epoch)")
	fs.DurationVar(&opts.duration, "duration", 24*time.Hour, "prediction span, at most 72h")
	fs.DurationVar(&opts.step, "step", core.DefaultStep, "sampling interval")
	fs.StringVar(&opts.format, "format", "csv", "output format: csv or json")
	fs.BoolVar(&opts.compare, "compare", false, "add the go-satellite reference solution and its distance from ours")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return opts, fmt.Errorf("-start: %w", err)
		}
		opts.start = t.UTC()
	}
	if opts.step <= 0 {
		return opts, fmt.Errorf("-step must be positive, got %s", opts.step)
	}
	if opts.duration < 0 || opts.duration > core.MaxPredictDuration {
		return opts, fmt.Errorf("-duration must be within [0, %s], got %s", core.MaxPredictDuration, opts.duration)
	}
	if opts.format != "csv" && opts.format != "json" {
		return opts, fmt.Errorf("-format must be csv or json, got %q", opts.format)
	}
	return opts, nil
}

// track is one object's ground track plus the optional reference samples.
type track struct {
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Epoch     string   `json:"epoch"`
	Truncated bool     `json:"truncated"`
	Error     string   `json:"error,omitempty"`
	Points    []sample `json:"points"`
}

type sample struct {
	model.OrbitPoint
	Reference *model.OrbitPoint `json:"reference,omitempty"`
	DeltaKm   *float64          `json:"delta_km,omitempty"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	raw, err := readInput(opts.path, stdin)
	if err != nil {
		return err
	}
	sets, rejected := tle.DecodeBatch(raw)
	for _, perr := range rejected {
		fmt.Fprintf(stderr, "warning: %v\n", perr)
	}

	var tracks []track
	for _, set := range sets {
		if opts.name != "" && !strings.Contains(strings.ToUpper(set.Name), strings.ToUpper(opts.name)) {
			continue
		}
		tr, err := trackFor(set, opts)
		if err != nil {
			fmt.Fprintf(stderr, "warning: %s: %v\n", set.Identity(), err)
			continue
		}
		tracks = append(tracks, tr)
	}
	if len(tracks) == 0 {
		return errors.New("no element sets to track")
	}

	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tracks)
	}
	return writeCSV(stdout, tracks, opts.compare)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func trackFor(set model.ElementSet, opts options) (track, error) {
	obj := model.NewTrackedObject(set)
	window := core.PredictOptions{Start: opts.start, Duration: opts.duration, Step: opts.step}
	// The reference model only takes whole seconds.
	if opts.compare && window.Start.IsZero() {
		window.Start = set.Epoch.Truncate(time.Second)
	}

	traj, err := core.Predict(set, window)
	if err != nil {
		return track{}, err
	}
	tr := track{
		Name:      set.Identity(),
		Category:  obj.Category.String(),
		Epoch:     set.Epoch.Format(time.RFC3339Nano),
		Truncated: traj.Truncated,
		Points:    make([]sample, len(traj.Points)),
	}
	if traj.Err != nil {
		tr.Error = traj.Err.Error()
	}
	for i, pt := range traj.Points {
		tr.Points[i] = sample{OrbitPoint: pt}
	}
	if opts.compare {
		if err := addReference(set, tr.Points); err != nil {
			return track{}, err
		}
	}
	return tr, nil
}

// addReference fills each sample with the go-satellite ground point and the
// distance between the two TEME positions.
func addReference(set model.ElementSet, points []sample) error {
	ref, err := core.NewReferenceModel(set)
	if err != nil {
		return err
	}
	prop, err := core.NewPropagator(set)
	if err != nil {
		return err
	}
	for i := range points {
		at := points[i].Time
		refPos, _, err := ref.Position(at)
		if err != nil {
			continue
		}
		sv, err := prop.Propagate(at)
		if err != nil {
			continue
		}
		refPt, err := ref.GroundPoint(at)
		if err != nil {
			continue
		}
		delta := sv.Position.DistanceTo(refPos) / 1000
		points[i].Reference = &refPt
		points[i].DeltaKm = &delta
	}
	return nil
}

func writeCSV(w io.Writer, tracks []track, compare bool) error {
	cw := csv.NewWriter(w)
	header := []string{"name", "category", "time", "latitude", "longitude", "altitude_m"}
	if compare {
		header = append(header, "ref_latitude", "ref_longitude", "ref_altitude_m", "delta_km")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, tr := range tracks {
		for _, s := range tr.Points {
			row := []string{
				tr.Name,
				tr.Category,
				s.Time.Format(time.RFC3339),
				formatFloat(s.Latitude, 6),
				formatFloat(s.Longitude, 6),
				formatFloat(s.Altitude, 1),
			}
			if compare {
				if s.Reference != nil {
					row = append(row,
						formatFloat(s.Reference.Latitude, 6),
						formatFloat(s.Reference.Longitude, 6),
						formatFloat(s.Reference.Altitude, 1),
						formatFloat(*s.DeltaKm, 3),
					)
				} else {
					row = append(row, "", "", "", "")
				}
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
