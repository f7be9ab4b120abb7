package httpapi

import (
	"errors"
	"time"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/model"
)

type recordView struct {
	Name           string    `json:"name"`
	CatalogNumber  int       `json:"catalog_number"`
	IntlDesignator string    `json:"intl_designator,omitempty"`
	Category       string    `json:"category"`
	TypeLabel      string    `json:"type_label,omitempty"`
	Epoch          time.Time `json:"epoch"`
	Line1          string    `json:"line1"`
	Line2          string    `json:"line2"`
	Seq            uint64    `json:"seq"`
	IngestedAt     time.Time `json:"ingested_at"`
}

func toRecordView(rec model.Record) recordView {
	return recordView{
		Name:           rec.Name,
		CatalogNumber:  rec.CatalogNumber,
		IntlDesignator: rec.IntlDesignator,
		Category:       rec.Category.String(),
		TypeLabel:      rec.TypeLabel,
		Epoch:          rec.Epoch,
		Line1:          rec.Line1,
		Line2:          rec.Line2,
		Seq:            rec.Seq,
		IngestedAt:     rec.IngestedAt,
	}
}

func toRecordViews(recs []model.Record) []recordView {
	out := make([]recordView, len(recs))
	for i, rec := range recs {
		out[i] = toRecordView(rec)
	}
	return out
}

type failureView struct {
	Name  string `json:"name"`
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func toFailureViews(failures []*query.ObjectError) []failureView {
	out := make([]failureView, 0, len(failures))
	for _, f := range failures {
		v := failureView{Name: f.Name, Error: f.Err.Error()}
		var perr *core.PropagationError
		if errors.As(f.Err, &perr) {
			v.Code = perr.Code
		}
		out = append(out, v)
	}
	return out
}

type realtimeView struct {
	Positions []query.Position `json:"positions"`
	Failures  []failureView    `json:"failures,omitempty"`
}

type trajectoryView struct {
	Name        string             `json:"name"`
	Days        int                `json:"days"`
	StepSeconds int                `json:"step_seconds"`
	Truncated   bool               `json:"truncated"`
	Error       string             `json:"error,omitempty"`
	Points      []model.OrbitPoint `json:"points"`
}

func toTrajectoryView(traj model.Trajectory, days int) trajectoryView {
	v := trajectoryView{
		Name:        traj.Name,
		Days:        days,
		StepSeconds: int(query.PredictStep / time.Second),
		Truncated:   traj.Truncated,
		Points:      traj.Points,
	}
	if traj.Err != nil {
		v.Error = traj.Err.Error()
	}
	if v.Points == nil {
		v.Points = []model.OrbitPoint{}
	}
	return v
}

type rejectView struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

type reportView struct {
	RunID        string         `json:"run_id"`
	Started      time.Time      `json:"started"`
	Finished     time.Time      `json:"finished"`
	FetchedBytes int            `json:"fetched_bytes"`
	Parsed       int            `json:"parsed"`
	Inserted     int            `json:"inserted"`
	ByCategory   map[string]int `json:"by_category"`
	Rejected     []rejectView   `json:"rejected,omitempty"`
	Wiped        bool           `json:"wiped"`
	FeedError    string         `json:"feed_error,omitempty"`
}

func toReportView(r ingest.Report) reportView {
	v := reportView{
		RunID:        r.RunID,
		Started:      r.Started,
		Finished:     r.Finished,
		FetchedBytes: r.FetchedBytes,
		Parsed:       r.Parsed,
		Inserted:     r.Inserted,
		ByCategory:   make(map[string]int, len(model.Categories())),
		Wiped:        r.Wiped,
	}
	for _, c := range model.Categories() {
		v.ByCategory[c.String()] = r.ByCategory[c]
	}
	for _, perr := range r.Rejected {
		v.Rejected = append(v.Rejected, rejectView{Index: perr.Index, Name: perr.Name, Error: perr.Err.Error()})
	}
	if r.FeedErr != nil {
		v.FeedError = r.FeedErr.Error()
	}
	return v
}
