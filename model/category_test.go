package model

import (
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		label string
		want  Category
	}{
		{"DEBRIS", Debris},
		{"debris", Debris},
		{"Debris", Debris},
		{"  DEBRIS ", Satellite},
		{"ROCKET  BODY", Satellite},
		{"ROCKET BODY", RocketBody},
		{"rocket body", RocketBody},
		{"PAYLOAD", Satellite},
		{"", Satellite},
		{"UNKNOWN", Satellite},
		{"ROCKET_BODY", Satellite},
		{"DEB", Satellite},
	}
	for _, tc := range cases {
		if got := Classify(tc.label); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.label, got, tc.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(c.String())
		if err != nil || got != c {
			t.Fatalf("ParseCategory(%q) = %v, %v", c.String(), got, err)
		}
	}
	if got, err := ParseCategory("rocket_body"); err != nil || got != RocketBody {
		t.Fatalf("ParseCategory(rocket_body) = %v, %v", got, err)
	}
	if _, err := ParseCategory("comet"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestNewTrackedObjectClassifiesOnce(t *testing.T) {
	set := ElementSet{Name: "SL-16 R/B", TypeLabel: "Rocket Body"}
	obj := NewTrackedObject(set)
	if obj.Category != RocketBody {
		t.Fatalf("category = %s, want ROCKET BODY", obj.Category)
	}
	set.TypeLabel = "DEBRIS"
	if obj.Category != RocketBody || obj.TypeLabel != "Rocket Body" {
		t.Fatalf("tracked object must not observe later changes to the source set")
	}
}

func TestRecordNewer(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mk := func(epoch time.Time, seq uint64) Record {
		r := Record{Seq: seq}
		r.Epoch = epoch
		return r
	}
	if !mk(t0.Add(time.Minute), 1).Newer(mk(t0, 9)) {
		t.Fatalf("later epoch must win regardless of sequence")
	}
	if !mk(t0, 5).Newer(mk(t0, 4)) {
		t.Fatalf("equal epochs are ordered by sequence")
	}
	if mk(t0, 4).Newer(mk(t0, 4)) {
		t.Fatalf("a record is not newer than itself")
	}
}

func TestPeriodMinutes(t *testing.T) {
	if got := (ElementSet{MeanMotion: 16}).PeriodMinutes(); got != 90 {
		t.Fatalf("PeriodMinutes = %v, want 90", got)
	}
}
