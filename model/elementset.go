package model

import (
	"math"
	"time"

	"github.com/soniakeys/unit"
)

// ElementSet is one decoded two-line element set. It is a value type: once
// produced by the parser it is only ever copied, never mutated in place.
type ElementSet struct {
	Name           string
	CatalogNumber  int
	Classification byte // U, C or S
	IntlDesignator string
	Epoch          time.Time

	Inclination  unit.Angle
	RAAN         unit.Angle // right ascension of the ascending node
	Eccentricity float64
	ArgPerigee   unit.Angle
	MeanAnomaly  unit.Angle
	MeanMotion   float64 // revolutions per day

	BStar          float64 // 1/earth radii
	MeanMotionDot  float64 // first derivative / 2, rev/day^2
	MeanMotionDDot float64 // second derivative / 6, rev/day^3

	EphemerisType    int
	ElementSetNumber int
	RevolutionNumber int

	// TypeLabel is the feed's free-text object type (e.g. "ROCKET BODY").
	TypeLabel string

	Line1 string
	Line2 string
}

// PeriodMinutes returns the orbital period implied by the mean motion.
func (e ElementSet) PeriodMinutes() float64 {
	if e.MeanMotion <= 0 {
		return math.Inf(1)
	}
	return 1440.0 / e.MeanMotion
}

// Identity is the key used by the latest-state view.
func (e ElementSet) Identity() string {
	return e.Name
}

// TrackedObject is an element set with the category assigned at ingestion.
type TrackedObject struct {
	ElementSet
	Category Category
}

// NewTrackedObject classifies set and returns the tracked value. The
// category is fixed for the lifetime of the record.
func NewTrackedObject(set ElementSet) TrackedObject {
	return TrackedObject{
		ElementSet: set,
		Category:   Classify(set.TypeLabel),
	}
}

// Record is a stored TrackedObject plus its ingestion bookkeeping.
type Record struct {
	TrackedObject
	Seq        uint64
	IngestedAt time.Time
}

// Newer reports whether r supersedes other for the same identity, ordering
// by epoch and then by ingestion sequence.
func (r Record) Newer(other Record) bool {
	if !r.Epoch.Equal(other.Epoch) {
		return r.Epoch.After(other.Epoch)
	}
	return r.Seq > other.Seq
}
