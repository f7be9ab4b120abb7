package core

import (
	"errors"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// ErrNoElementLines is returned by NewReferenceModel for element sets that
// carry no two-line text.
var ErrNoElementLines = errors.New("element set has no two-line text")

// ReferenceModel propagates an element set with the go-satellite SGP4
// implementation. It is independent of Propagator and used to cross-check
// it.
type ReferenceModel struct {
	name string
	sat  satellite.Satellite
}

// NewReferenceModel builds a reference model from the set's element lines.
func NewReferenceModel(set model.ElementSet) (*ReferenceModel, error) {
	if set.Line1 == "" || set.Line2 == "" {
		return nil, ErrNoElementLines
	}
	return &ReferenceModel{
		name: set.Identity(),
		sat:  satellite.TLEToSat(set.Line1, set.Line2, satellite.GravityWGS72),
	}, nil
}

// Position returns the TEME position in metres at t truncated to the whole
// second, which is the resolution go-satellite accepts.
func (m *ReferenceModel) Position(t time.Time) (Vec3, time.Time, error) {
	at := t.UTC().Truncate(time.Second)
	year, month, day := at.Date()
	hour, min, sec := at.Clock()

	// go-satellite records failures on a copy of the satellite, so a
	// failed step only shows up as a degenerate vector.
	pos, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	r := Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}.Scale(1000)
	if !r.Finite() || r.Norm() == 0 {
		return Vec3{}, at, &PropagationError{Name: m.name, Err: ErrDegenerateVector}
	}
	return r, at, nil
}

// GroundPoint returns the geodetic ground point at t truncated to the whole
// second.
func (m *ReferenceModel) GroundPoint(t time.Time) (model.OrbitPoint, error) {
	r, at, err := m.Position(t)
	if err != nil {
		return model.OrbitPoint{}, err
	}
	return Geodetic(r, at)
}
