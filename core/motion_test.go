package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestReferenceModelRequiresLines(t *testing.T) {
	set := mustSet(t, "ISS", iss1, iss2)
	set.Line1 = ""
	if _, err := NewReferenceModel(set); !errors.Is(err, ErrNoElementLines) {
		t.Fatalf("NewReferenceModel without lines = %v, want ErrNoElementLines", err)
	}
}

// We don't assert exact orbital values here (the propagator tests do);
// we check the ground point moves and matches our own pipeline.
func TestReferenceGroundPointTracksPredict(t *testing.T) {
	set := mustSet(t, "ISS", iss1, iss2)
	ref, err := NewReferenceModel(set)
	if err != nil {
		t.Fatalf("NewReferenceModel: %v", err)
	}

	t1 := set.Epoch.Add(10 * time.Minute)
	t2 := t1.Add(5 * time.Minute)

	first, err := ref.GroundPoint(t1)
	if err != nil {
		t.Fatalf("GroundPoint(t1): %v", err)
	}
	second, err := ref.GroundPoint(t2)
	if err != nil {
		t.Fatalf("GroundPoint(t2): %v", err)
	}
	if first.Latitude == second.Latitude && first.Longitude == second.Longitude {
		t.Fatalf("expected ground point to move over time, got %+v at both times", first)
	}
	if !first.Time.Equal(t1.Truncate(time.Second)) {
		t.Fatalf("reference time = %s, want whole second %s", first.Time, t1.Truncate(time.Second))
	}

	ours, err := Realtime(set, first.Time)
	if err != nil {
		t.Fatalf("Realtime: %v", err)
	}
	if d := math.Abs(ours.Latitude - first.Latitude); d > 0.05 {
		t.Fatalf("latitude differs by %.4f deg", d)
	}
	if d := math.Abs(ours.Altitude - first.Altitude); d > 1000 {
		t.Fatalf("altitude differs by %.1f m", d)
	}
}
