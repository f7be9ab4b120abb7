package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/kb"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

const (
	iss1      = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	iss2      = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
	vanguard1 = "1 00005U 58002B   00179.78495062  .00000023  00000-0  28098-4 0  4753"
	vanguard2 = "2 00005  34.2682 348.7242 1859667 331.7664  19.3264 10.82419157413667"
)

type fakeIngester struct {
	report ingest.Report
	err    error
	calls  []string
}

func (f *fakeIngester) Ingest(context.Context, ingest.Feed) (ingest.Report, error) {
	f.calls = append(f.calls, "ingest")
	return f.report, f.err
}

func (f *fakeIngester) WipeAndRefetch(context.Context, ingest.Feed) (ingest.Report, error) {
	f.calls = append(f.calls, "wipe")
	r := f.report
	r.Wiped = true
	return r, f.err
}

type fixture struct {
	store     *kb.KnowledgeBase
	collector *observability.TrackerCollector
	handler   http.Handler
	epoch     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	iss, err := tle.ParseLines("ISS", iss1, iss2)
	require.NoError(t, err)
	iss.TypeLabel = "PAYLOAD"
	vanguard, err := tle.ParseLines("VANGUARD 1", vanguard1, vanguard2)
	require.NoError(t, err)
	vanguard.TypeLabel = "DEBRIS"

	store := kb.NewKnowledgeBase()
	_, err = store.InsertMany(context.Background(), []model.TrackedObject{
		model.NewTrackedObject(iss),
		model.NewTrackedObject(vanguard),
	})
	require.NoError(t, err)

	collector, err := observability.NewTrackerCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := query.NewService(store,
		query.WithClock(timectrl.NewManualClock(iss.Epoch.Add(time.Hour))),
		query.WithMetrics(collector),
	)
	opts = append([]Option{WithMetrics(collector)}, opts...)
	return &fixture{
		store:     store,
		collector: collector,
		handler:   New(svc, opts...).Handler(),
		epoch:     iss.Epoch,
	}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLatestEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/tle/latest-per-object")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	latest := decode[[]recordView](t, rec)
	require.Len(t, latest, 2)
	assert.Equal(t, "ISS", latest[0].Name)
	assert.Equal(t, "SATELLITE", latest[0].Category)
	assert.Equal(t, iss1, latest[0].Line1)

	rec = f.do(t, http.MethodGet, "/api/tle/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "VANGUARD 1", decode[recordView](t, rec).Name)

	rec = f.do(t, http.MethodGet, "/api/tle/by-type?type=debris")
	require.Equal(t, http.StatusOK, rec.Code)
	debris := decode[[]recordView](t, rec)
	require.Len(t, debris, 1)
	assert.Equal(t, "DEBRIS", debris[0].Category)

	rec = f.do(t, http.MethodGet, "/api/tle/by-type?type=ROCKET%20BODY")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]recordView](t, rec))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.collector.HTTPRequests.WithLabelValues("tle_by_type", "GET", "200")))
}

func TestByTypeRejectsUnknownCategory(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/tle/by-type?type=comet")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "comet")
}

func TestLatestOverallEmptyStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DeleteAll(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/api/tle/latest", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", decode[errorBody](t, rec).RequestID)
}

func TestRequestIDGenerated(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRealtimeEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orbit/realtime/ISS")
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decode[query.Position](t, rec)
	assert.Equal(t, "ISS", pos.Name)
	assert.True(t, pos.Point.Time.Equal(f.epoch.Add(time.Hour)))
	assert.InDelta(t, 350e3, pos.Point.Altitude, 100e3)

	rec = f.do(t, http.MethodGet, "/api/orbit/realtime/MIR")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/orbit/realtime")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[realtimeView](t, rec)
	require.Len(t, all.Positions, 1)
	assert.Equal(t, "ISS", all.Positions[0].Name)
	require.Len(t, all.Failures, 1)
	assert.Equal(t, "VANGUARD 1", all.Failures[0].Name)
	assert.Equal(t, 7, all.Failures[0].Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.PropagationFailures.WithLabelValues("7")))
}

func TestPredictEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orbit/predict?objectName=ISS&days=2")
	require.Equal(t, http.StatusOK, rec.Code)
	traj := decode[trajectoryView](t, rec)
	assert.Equal(t, 2, traj.Days)
	assert.Equal(t, 600, traj.StepSeconds)
	assert.False(t, traj.Truncated)
	require.Len(t, traj.Points, 289)
	for i := 1; i < len(traj.Points); i++ {
		require.True(t, traj.Points[i].Time.After(traj.Points[i-1].Time))
	}

	rec = f.do(t, http.MethodGet, "/api/orbit/predict?name=ISS")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[trajectoryView](t, rec).Points, 145)
}

func TestPredictRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]int{
		"/api/orbit/predict?objectName=ISS&days=0":   http.StatusBadRequest,
		"/api/orbit/predict?objectName=ISS&days=4":   http.StatusBadRequest,
		"/api/orbit/predict?objectName=ISS&days=two": http.StatusBadRequest,
		"/api/orbit/predict?days=1":                  http.StatusBadRequest,
		"/api/orbit/predict?objectName=MIR&days=1":   http.StatusNotFound,
	}
	for target, want := range cases {
		rec := f.do(t, http.MethodGet, target)
		assert.Equal(t, want, rec.Code, target)
	}
}

func TestFetchAndWipe(t *testing.T) {
	ing := &fakeIngester{report: ingest.Report{
		RunID:      "run-1",
		Parsed:     3,
		Inserted:   3,
		ByCategory: map[model.Category]int{model.Satellite: 2, model.Debris: 1},
		Rejected:   []*tle.ParseError{{Index: 4, Name: "BAD", Err: tle.ErrMissingLines}},
	}}
	f := newFixture(t, WithIngester(ing, nil))

	rec := f.do(t, http.MethodPost, "/api/tle/fetch")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[reportView](t, rec)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 2, report.ByCategory["SATELLITE"])
	assert.Equal(t, 0, report.ByCategory["ROCKET BODY"])
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, 4, report.Rejected[0].Index)

	rec = f.do(t, http.MethodPost, "/api/tle/wipe")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[reportView](t, rec).Wiped)
	assert.Equal(t, []string{"ingest", "wipe"}, ing.calls)

	rec = f.do(t, http.MethodGet, "/api/tle/fetch")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFetchFailures(t *testing.T) {
	busy := newFixture(t, WithIngester(&fakeIngester{err: ingest.ErrIngestInProgress}, nil))
	assert.Equal(t, http.StatusConflict, busy.do(t, http.MethodPost, "/api/tle/fetch").Code)
	assert.Equal(t, http.StatusConflict, busy.do(t, http.MethodPost, "/api/tle/wipe").Code)

	feedErr := &feed.FeedError{Op: "fetch", StatusCode: http.StatusServiceUnavailable}
	down := newFixture(t, WithIngester(&fakeIngester{report: ingest.Report{RunID: "r", FeedErr: feedErr}}, nil))
	rec := down.do(t, http.MethodPost, "/api/tle/fetch")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotEmpty(t, decode[reportView](t, rec).FeedError)

	disabled := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, disabled.do(t, http.MethodPost, "/api/tle/fetch").Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{storage.ErrNotFound, http.StatusNotFound},
		{query.ErrInvalidDays, http.StatusBadRequest},
		{storage.Wrap("all by category", model.ErrInvalidCategory), http.StatusBadRequest},
		{ingest.ErrIngestInProgress, http.StatusConflict},
		{&feed.FeedError{Op: "login", Err: feed.ErrAuthRejected}, http.StatusBadGateway},
		{&feed.FeedError{Op: "fetch", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&core.PropagationError{Code: 6, Err: core.ErrDecayed}, http.StatusUnprocessableEntity},
		{&core.TransformError{Err: core.ErrDegenerateVector}, http.StatusUnprocessableEntity},
		{storage.Wrap("insert", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	f := newFixture(t, WithHub(NewHub(nil)))
	rec := f.do(t, http.MethodGet, "/api/orbit/stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "websocket"))
}
