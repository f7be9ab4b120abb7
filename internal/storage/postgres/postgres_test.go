package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func TestSinkTablesCoverEveryCategory(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range model.Categories() {
		table, ok := sinkTables[c]
		require.True(t, ok, "no sink table for %s", c)
		assert.False(t, seen[table], "sink table %s shared", table)
		seen[table] = true
	}
}

func TestWrapIntegrityViolation(t *testing.T) {
	err := wrap("insert", &pq.Error{Code: "23505", Message: "duplicate key"})
	assert.ErrorIs(t, err, storage.ErrInvalidRecord)

	var serr *storage.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert", serr.Op)

	other := wrap("insert", &pq.Error{Code: "08006", Message: "connection failure"})
	assert.False(t, errors.Is(other, storage.ErrInvalidRecord))
	require.ErrorAs(t, other, &serr)
}

func TestLinesOfFormatsMissingLines(t *testing.T) {
	set, err := tle.ParseLines("ISS", issLine1, issLine2)
	require.NoError(t, err)

	l1, l2, err := linesOf(set)
	require.NoError(t, err)
	assert.Equal(t, issLine1, l1)

	set.Line1, set.Line2 = "", ""
	l1, l2, err = linesOf(set)
	require.NoError(t, err)
	assert.Equal(t, issLine1, l1)
	assert.Equal(t, issLine2, l2)
}

// openTestStore connects to ORBIT_TEST_POSTGRES_DSN and starts from an
// empty schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ORBIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORBIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.DeleteAll(ctx))
	return s
}

func tracked(t *testing.T, name, label string, shift time.Duration) model.TrackedObject {
	t.Helper()
	set, err := tle.ParseLines(name, issLine1, issLine2)
	require.NoError(t, err)
	set.TypeLabel = label
	set.Epoch = set.Epoch.Add(shift)
	set.Line1, set.Line2 = "", ""
	return model.NewTrackedObject(set)
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs, err := s.InsertMany(ctx, []model.TrackedObject{
		tracked(t, "ISS", "PAYLOAD", 0),
		tracked(t, "ISS", "PAYLOAD", time.Hour),
		tracked(t, "DEB", "DEBRIS", 0),
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Less(t, recs[0].Seq, recs[1].Seq)

	latest, err := s.LatestPerObject(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "ISS", latest[0].Name)
	assert.WithinDuration(t, recs[1].Epoch, latest[0].Epoch, time.Microsecond)

	overall, err := s.LatestOverall(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DEB", overall.Name)
	assert.Equal(t, model.Debris, overall.Category)

	byName, err := s.LatestByName(ctx, "ISS")
	require.NoError(t, err)
	assert.Equal(t, recs[1].Seq, byName.Seq)

	_, err = s.LatestByName(ctx, "MIR")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	debris, err := s.AllByCategory(ctx, model.Debris)
	require.NoError(t, err)
	assert.Len(t, debris, 1)
}

func TestStoreDuplicateEpochReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertMany(ctx, []model.TrackedObject{tracked(t, "SL-4", "PAYLOAD", 0)})
	require.NoError(t, err)
	second, err := s.InsertMany(ctx, []model.TrackedObject{tracked(t, "SL-4", "ROCKET BODY", 0)})
	require.NoError(t, err)
	assert.Greater(t, second[0].Seq, first[0].Seq)

	latest, err := s.LatestPerObject(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, model.RocketBody, latest[0].Category)

	sats, err := s.AllByCategory(ctx, model.Satellite)
	require.NoError(t, err)
	assert.Empty(t, sats)
}

func TestStoreDeleteAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, []model.TrackedObject{
		tracked(t, "A", "DEBRIS", 0),
		tracked(t, "B", "ROCKET BODY", 0),
		tracked(t, "C", "", 0),
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAll(ctx))

	latest, err := s.LatestPerObject(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)
	_, err = s.LatestOverall(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
