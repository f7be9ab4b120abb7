package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/kb"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

var elementSets = []struct {
	name, objectType, l1, l2 string
}{
	{"ISS (ZARYA)", "PAYLOAD",
		"1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927",
		"2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"},
	{"VANGUARD 1", "DEBRIS",
		"1 00005U 58002B   00179.78495062  .00000023  00000-0  28098-4 0  4753",
		"2 00005  34.2682 348.7242 1859667 331.7664  19.3264 10.82419157413667"},
	{"GEO R/B", "ROCKET BODY",
		"1 28626U 05008A   06176.46683397 -.00000205  00000-0  10000-3 0  2190",
		"2 28626   0.0019 286.9433 0000335  13.7918  55.6504  1.00270176  4891"},
}

func payload(extra ...string) []byte {
	parts := make([]string, 0, len(elementSets)+len(extra))
	for _, es := range elementSets {
		parts = append(parts, fmt.Sprintf(`{"OBJECT_NAME":%q,"OBJECT_TYPE":%q,"TLE_LINE1":%q,"TLE_LINE2":%q}`,
			es.name, es.objectType, es.l1, es.l2))
	}
	parts = append(parts, extra...)
	return []byte("[" + strings.Join(parts, ",") + "]")
}

// fakeFeed answers from funcs, defaulting to a successful login and the
// standard payload.
type fakeFeed struct {
	auth  func(ctx context.Context, creds feed.Credentials) (*feed.Session, error)
	fetch func(ctx context.Context) ([]byte, error)
}

func (f *fakeFeed) Authenticate(ctx context.Context, creds feed.Credentials) (*feed.Session, error) {
	if f.auth != nil {
		return f.auth(ctx, creds)
	}
	return &feed.Session{}, nil
}

func (f *fakeFeed) FetchLatestElementSets(ctx context.Context, _ *feed.Session) ([]byte, error) {
	if f.fetch != nil {
		return f.fetch(ctx)
	}
	return payload(), nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	tracked  map[model.Category]int
}

func (m *fakeMetrics) ObserveIngest(outcome string, parsed, rejected, inserted int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) SetTrackedObjects(counts map[model.Category]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = counts
}

type fakeMirror struct {
	replaced [][]model.Record
	cleared  int
	err      error
}

func (m *fakeMirror) ReplaceLatest(_ context.Context, recs []model.Record) error {
	m.replaced = append(m.replaced, recs)
	return m.err
}

func (m *fakeMirror) Clear(context.Context) error {
	m.cleared++
	return m.err
}

type fakeStatus struct{ last *bool }

func (s *fakeStatus) SetFeedServing(ok bool) { s.last = &ok }

// failingStore fails inserts and otherwise delegates to a KnowledgeBase.
type failingStore struct {
	*kb.KnowledgeBase
}

func (failingStore) InsertMany(context.Context, []model.TrackedObject) ([]model.Record, error) {
	return nil, errors.New("disk full")
}

func TestIngestStoresClassifiedRecords(t *testing.T) {
	store := kb.NewKnowledgeBase()
	metrics := &fakeMetrics{}
	mirror := &fakeMirror{}
	status := &fakeStatus{}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var gotCreds feed.Credentials
	f := &fakeFeed{auth: func(_ context.Context, c feed.Credentials) (*feed.Session, error) {
		gotCreds = c
		return &feed.Session{}, nil
	}}

	o := New(store,
		WithMetrics(metrics),
		WithLatestMirror(mirror),
		WithFeedStatus(status),
		WithCredentials(feed.Credentials{Username: "u", Password: "p"}),
		WithClock(timectrl.NewManualClock(start)),
	)

	report, err := o.Ingest(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "u", gotCreds.Username)
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.Started.Equal(start))
	assert.Equal(t, 3, report.Parsed)
	assert.Equal(t, 3, report.Inserted)
	assert.Empty(t, report.Rejected)
	assert.Nil(t, report.FeedErr)
	assert.Equal(t, 1, report.ByCategory[model.Satellite])
	assert.Equal(t, 1, report.ByCategory[model.Debris])
	assert.Equal(t, 1, report.ByCategory[model.RocketBody])

	rec, err := store.LatestByName(context.Background(), "GEO R/B")
	require.NoError(t, err)
	assert.Equal(t, model.RocketBody, rec.Category)

	assert.Equal(t, []string{observability.OutcomeSuccess}, metrics.outcomes)
	assert.Equal(t, 1, metrics.tracked[model.Debris])
	require.Len(t, mirror.replaced, 1)
	assert.Len(t, mirror.replaced[0], 3)
	require.NotNil(t, status.last)
	assert.True(t, *status.last)
	assert.Contains(t, report.String(), "inserted 3")
}

func TestIngestRejectsBadRecordsOnly(t *testing.T) {
	store := kb.NewKnowledgeBase()
	bad := fmt.Sprintf(`{"OBJECT_NAME":"BROKEN","TLE_LINE1":%q,"TLE_LINE2":%q}`,
		elementSets[0].l1[:68]+"0", elementSets[0].l2)
	f := &fakeFeed{fetch: func(context.Context) ([]byte, error) { return payload(bad), nil }}

	report, err := New(store).Ingest(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "BROKEN", report.Rejected[0].Name)
	assert.ErrorIs(t, report.Rejected[0], tle.ErrChecksum)
}

func TestIngestFeedFailureIsReported(t *testing.T) {
	store := kb.NewKnowledgeBase()
	metrics := &fakeMetrics{}
	status := &fakeStatus{}
	f := &fakeFeed{auth: func(context.Context, feed.Credentials) (*feed.Session, error) {
		return nil, errors.New("connection refused")
	}}

	report, err := New(store, WithMetrics(metrics), WithFeedStatus(status)).Ingest(context.Background(), f)
	require.NoError(t, err)

	var ferr *feed.FeedError
	require.ErrorAs(t, report.FeedErr, &ferr)
	assert.Equal(t, "login", ferr.Op)
	assert.Zero(t, report.Inserted)
	assert.Zero(t, store.Len())
	assert.Equal(t, []string{observability.OutcomeFeedError}, metrics.outcomes)
	require.NotNil(t, status.last)
	assert.False(t, *status.last)
	assert.Contains(t, report.String(), "feed error")
}

func TestIngestFeedTimeout(t *testing.T) {
	f := &fakeFeed{fetch: func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	report, err := New(kb.NewKnowledgeBase(), WithFeedTimeout(20*time.Millisecond)).Ingest(context.Background(), f)
	require.NoError(t, err)

	var ferr *feed.FeedError
	require.ErrorAs(t, report.FeedErr, &ferr)
	assert.Equal(t, "fetch", ferr.Op)
	assert.True(t, ferr.Timeout())
}

func TestIngestStorageFailureIsReturned(t *testing.T) {
	metrics := &fakeMetrics{}
	o := New(failingStore{kb.NewKnowledgeBase()}, WithMetrics(metrics))

	_, err := o.Ingest(context.Background(), &fakeFeed{})
	var serr *storage.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert", serr.Op)
	assert.Equal(t, []string{observability.OutcomeStorageError}, metrics.outcomes)
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("redis down")}
	report, err := New(kb.NewKnowledgeBase(), WithLatestMirror(mirror)).Ingest(context.Background(), &fakeFeed{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted)
}

func TestConcurrentIngestIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := &fakeFeed{fetch: func(context.Context) ([]byte, error) {
		close(entered)
		<-release
		return payload(), nil
	}}
	metrics := &fakeMetrics{}
	o := New(kb.NewKnowledgeBase(), WithMetrics(metrics))

	done := make(chan error, 1)
	go func() {
		_, err := o.Ingest(context.Background(), slow)
		done <- err
	}()
	<-entered

	_, err := o.Ingest(context.Background(), &fakeFeed{})
	assert.ErrorIs(t, err, ErrIngestInProgress)
	_, err = o.WipeAndRefetch(context.Background(), &fakeFeed{})
	assert.ErrorIs(t, err, ErrIngestInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Contains(t, metrics.outcomes, observability.OutcomeBusy)

	// The lock is released once the first run returns.
	_, err = o.Ingest(context.Background(), &fakeFeed{})
	assert.NoError(t, err)
}

func TestWipeAndRefetch(t *testing.T) {
	ctx := context.Background()
	store := kb.NewKnowledgeBase()
	_, err := store.InsertMany(ctx, []model.TrackedObject{
		model.NewTrackedObject(model.ElementSet{Name: "STALE", Epoch: time.Now(), MeanMotion: 15}),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{}
	var sawEmpty bool
	f := &fakeFeed{fetch: func(context.Context) ([]byte, error) {
		latest, err := store.LatestPerObject(ctx)
		require.NoError(t, err)
		sawEmpty = len(latest) == 0
		return payload(), nil
	}}

	report, err := New(store, WithLatestMirror(mirror)).WipeAndRefetch(ctx, f)
	require.NoError(t, err)
	assert.True(t, report.Wiped)
	assert.True(t, sawEmpty, "the store must be empty before the refetch completes")
	assert.Equal(t, 1, mirror.cleared)

	_, err = store.LatestByName(ctx, "STALE")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	latest, err := store.LatestPerObject(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 3)
}

func TestWipeAndRefetchFeedFailureLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := kb.NewKnowledgeBase()
	_, err := New(store).Ingest(ctx, &fakeFeed{})
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())

	f := &fakeFeed{fetch: func(context.Context) ([]byte, error) {
		return nil, &feed.FeedError{Op: "fetch", StatusCode: 503}
	}}
	report, err := New(store).WipeAndRefetch(ctx, f)

	var ferr *feed.FeedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 503, ferr.StatusCode)
	assert.True(t, report.Wiped)
	assert.Zero(t, store.Len())
}

func TestWipeAndRefetchStorageFailure(t *testing.T) {
	_, err := New(failingStore{kb.NewKnowledgeBase()}).WipeAndRefetch(context.Background(), &fakeFeed{})
	var serr *storage.StorageError
	assert.ErrorAs(t, err, &serr)
}
