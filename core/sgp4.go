package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// WGS72 constants used by the SGP4 theory. Element sets are fitted against
// these values, so they stay WGS72 even though geodetic output uses WGS84.
const (
	wgs72Mu     = 398600.8 // km^3/s^2
	wgs72Radius = 6378.135 // km
	wgs72J2     = 0.001082616
	wgs72J3     = -0.00000253881
	wgs72J4     = -0.00000165597

	twoPi   = 2 * math.Pi
	x2o3    = 2.0 / 3.0
	minPerD = 1440.0
	xpdotp  = minPerD / twoPi // rev/day to rad/min
	jd1950  = 2433281.5       // days before the theory's internal epoch origin
)

var (
	xke       = 60.0 / math.Sqrt(wgs72Radius*wgs72Radius*wgs72Radius/wgs72Mu)
	j3oj2     = wgs72J3 / wgs72J2
	vkmpersec = wgs72Radius * xke / 60.0
)

// MaxPropagationSpan bounds how far from the element epoch a Propagator will
// produce positions.
const MaxPropagationSpan = 30 * 24 * time.Hour

// StateVector is a TEME position (m) and velocity (m/s) at a UTC instant.
type StateVector struct {
	Time     time.Time
	Position Vec3
	Velocity Vec3
}

// Propagator evaluates SGP4/SDP4 for one element set. It holds only values
// derived at construction and is safe for concurrent use.
type Propagator struct {
	name    string
	epoch   time.Time
	horizon time.Duration

	// mean elements, radians and radians per minute
	ecco, argpo, inclo, mo, nodeo, bstar float64
	noUnkozai                            float64

	isimp bool

	aycof, con41, cc1, cc4, cc5, d2, d3, d4 float64
	delmo, eta, argpdot, omgcof, sinmao     float64
	t2cof, t3cof, t4cof, t5cof              float64
	x1mth2, x7thm1, mdot, nodedot           float64
	xlcof, xmcof, nodecf                    float64

	deep *deepSpace
}

// Option customises a Propagator.
type Option func(*Propagator)

// WithHorizon overrides MaxPropagationSpan. A non-positive value disables the
// horizon check.
func WithHorizon(d time.Duration) Option {
	return func(p *Propagator) { p.horizon = d }
}

// Name returns the identity of the propagated object.
func (p *Propagator) Name() string { return p.name }

// Epoch returns the element set epoch.
func (p *Propagator) Epoch() time.Time { return p.epoch }

// DeepSpace reports whether the lunar-solar and resonance terms are in use
// (orbital period of 225 minutes or more).
func (p *Propagator) DeepSpace() bool { return p.deep != nil }

// Propagate returns the TEME state at t.
func (p *Propagator) Propagate(t time.Time) (StateVector, error) {
	minutes := t.Sub(p.epoch).Seconds() / 60
	if p.horizon > 0 && math.Abs(minutes) > p.horizon.Minutes() {
		return StateVector{}, propagationErr(p.name, minutes, ErrHorizon)
	}
	r, v, err := p.PropagateMinutes(minutes)
	if err != nil {
		return StateVector{}, err
	}
	return StateVector{Time: t, Position: r, Velocity: v}, nil
}

// PropagateMinutes evaluates the model at tsince minutes from epoch and
// returns TEME position (m) and velocity (m/s). It does not apply the
// horizon check.
func (p *Propagator) PropagateMinutes(tsince float64) (Vec3, Vec3, error) {
	r, v, cause := p.sgp4(tsince)
	if cause != nil {
		return Vec3{}, Vec3{}, propagationErr(p.name, tsince, cause)
	}
	const kmToM = 1000.0
	return r.Scale(kmToM), v.Scale(kmToM), nil
}

// NewPropagator initialises the model for set. Elements outside the
// theory's domain return a PropagationError.
func NewPropagator(set model.ElementSet, opts ...Option) (*Propagator, error) {
	p := &Propagator{
		name:    set.Identity(),
		epoch:   set.Epoch.UTC(),
		horizon: MaxPropagationSpan,
		ecco:    set.Eccentricity,
		argpo:   set.ArgPerigee.Rad(),
		inclo:   set.Inclination.Rad(),
		mo:      set.MeanAnomaly.Rad(),
		nodeo:   set.RAAN.Rad(),
		bstar:   set.BStar,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ecco < 0 || p.ecco >= 1 || math.IsNaN(p.ecco) {
		return nil, propagationErr(p.name, 0, ErrEccentricity)
	}
	if !(set.MeanMotion > 0) {
		return nil, propagationErr(p.name, 0, ErrMeanMotion)
	}
	p.initialize(set.MeanMotion/xpdotp, epochDays(p.epoch))

	// Evaluate at epoch so degenerate sets fail here rather than on first use.
	if _, _, cause := p.sgp4(0); cause != nil {
		return nil, propagationErr(p.name, 0, cause)
	}
	return p, nil
}

// sgp4 evaluates the theory at tsince minutes and returns km and km/s.
func (p *Propagator) sgp4(tsince float64) (Vec3, Vec3, error) {
	const temp4 = 1.5e-12
	t := tsince

	// secular gravity and atmospheric drag
	xmdf := p.mo + p.mdot*t
	argpdf := p.argpo + p.argpdot*t
	nodedf := p.nodeo + p.nodedot*t
	argpm := argpdf
	mm := xmdf
	t2 := t * t
	nodem := nodedf + p.nodecf*t2
	tempa := 1.0 - p.cc1*t
	tempe := p.bstar * p.cc4 * t
	templ := p.t2cof * t2

	if !p.isimp {
		delomg := p.omgcof * t
		delmtemp := 1.0 + p.eta*math.Cos(xmdf)
		delm := p.xmcof * (delmtemp*delmtemp*delmtemp - p.delmo)
		temp := delomg + delm
		mm = xmdf + temp
		argpm = argpdf - temp
		t3 := t2 * t
		t4 := t3 * t
		tempa = tempa - p.d2*t2 - p.d3*t3 - p.d4*t4
		tempe = tempe + p.bstar*p.cc5*(math.Sin(mm)-p.sinmao)
		templ = templ + p.t3cof*t3 + t4*(p.t4cof+t*p.t5cof)
	}

	nm := p.noUnkozai
	em := p.ecco
	inclm := p.inclo
	if p.deep != nil {
		em, argpm, inclm, mm, nodem, nm = p.deep.space(p, t, em, argpm, inclm, mm, nodem)
	}

	if nm <= 0 {
		return Vec3{}, Vec3{}, ErrMeanMotion
	}
	am := math.Pow(xke/nm, x2o3) * tempa * tempa
	nm = xke / math.Pow(am, 1.5)
	em -= tempe

	if em >= 1.0 || em < -0.001 {
		return Vec3{}, Vec3{}, ErrEccentricity
	}
	if em < 1.0e-6 {
		em = 1.0e-6
	}
	mm += p.noUnkozai * templ
	xlm := mm + argpm + nodem

	nodem = math.Mod(nodem, twoPi)
	argpm = math.Mod(argpm, twoPi)
	xlm = math.Mod(xlm, twoPi)
	mm = math.Mod(xlm-argpm-nodem, twoPi)

	sinim := math.Sin(inclm)
	cosim := math.Cos(inclm)

	// lunar-solar periodics
	ep := em
	xincp := inclm
	argpp := argpm
	nodep := nodem
	mp := mm
	sinip := sinim
	cosip := cosim

	aycof, xlcof := p.aycof, p.xlcof
	con41, x1mth2, x7thm1 := p.con41, p.x1mth2, p.x7thm1
	if p.deep != nil {
		ep, xincp, nodep, argpp, mp = p.deep.periodics(t, ep, xincp, nodep, argpp, mp)
		if xincp < 0 {
			xincp = -xincp
			nodep += math.Pi
			argpp -= math.Pi
		}
		if ep < 0 || ep > 1 {
			return Vec3{}, Vec3{}, ErrPerturbedEccentricity
		}

		sinip = math.Sin(xincp)
		cosip = math.Cos(xincp)
		aycof = -0.5 * j3oj2 * sinip
		if math.Abs(cosip+1.0) > 1.5e-12 {
			xlcof = -0.25 * j3oj2 * sinip * (3.0 + 5.0*cosip) / (1.0 + cosip)
		} else {
			xlcof = -0.25 * j3oj2 * sinip * (3.0 + 5.0*cosip) / temp4
		}
	}

	// long period periodics
	axnl := ep * math.Cos(argpp)
	temp := 1.0 / (am * (1.0 - ep*ep))
	aynl := ep*math.Sin(argpp) + temp*aycof
	xl := mp + argpp + nodep + temp*xlcof*axnl

	// Kepler's equation
	u := math.Mod(xl-nodep, twoPi)
	eo1 := u
	tem5 := 9999.9
	var sineo1, coseo1 float64
	for ktr := 1; math.Abs(tem5) >= 1.0e-12 && ktr <= 10; ktr++ {
		sineo1 = math.Sin(eo1)
		coseo1 = math.Cos(eo1)
		tem5 = 1.0 - coseo1*axnl - sineo1*aynl
		tem5 = (u - aynl*coseo1 + axnl*sineo1 - eo1) / tem5
		if math.Abs(tem5) >= 0.95 {
			if tem5 > 0 {
				tem5 = 0.95
			} else {
				tem5 = -0.95
			}
		}
		eo1 += tem5
	}

	// short period preliminary quantities
	ecose := axnl*coseo1 + aynl*sineo1
	esine := axnl*sineo1 - aynl*coseo1
	el2 := axnl*axnl + aynl*aynl
	pl := am * (1.0 - el2)
	if pl < 0 {
		return Vec3{}, Vec3{}, ErrSemiLatusRectum
	}

	rl := am * (1.0 - ecose)
	rdotl := math.Sqrt(am) * esine / rl
	rvdotl := math.Sqrt(pl) / rl
	betal := math.Sqrt(1.0 - el2)
	temp = esine / (1.0 + betal)
	sinu := am / rl * (sineo1 - aynl - axnl*temp)
	cosu := am / rl * (coseo1 - axnl + aynl*temp)
	su := math.Atan2(sinu, cosu)
	sin2u := (cosu + cosu) * sinu
	cos2u := 1.0 - 2.0*sinu*sinu
	temp = 1.0 / pl
	temp1 := 0.5 * wgs72J2 * temp
	temp2 := temp1 * temp

	if p.deep != nil {
		cosisq := cosip * cosip
		con41 = 3.0*cosisq - 1.0
		x1mth2 = 1.0 - cosisq
		x7thm1 = 7.0*cosisq - 1.0
	}
	mrt := rl*(1.0-1.5*temp2*betal*con41) + 0.5*temp1*x1mth2*cos2u
	su -= 0.25 * temp2 * x7thm1 * sin2u
	xnode := nodep + 1.5*temp2*cosip*sin2u
	xinc := xincp + 1.5*temp2*cosip*sinip*cos2u
	mvt := rdotl - nm*temp1*x1mth2*sin2u/xke
	rvdot := rvdotl + nm*temp1*(x1mth2*cos2u+1.5*con41)/xke

	// orientation vectors
	sinsu, cossu := math.Sin(su), math.Cos(su)
	snod, cnod := math.Sin(xnode), math.Cos(xnode)
	sini, cosi := math.Sin(xinc), math.Cos(xinc)
	xmx := -snod * cosi
	xmy := cnod * cosi
	ux := xmx*sinsu + cnod*cossu
	uy := xmy*sinsu + snod*cossu
	uz := sini * sinsu
	vx := xmx*cossu - cnod*sinsu
	vy := xmy*cossu - snod*sinsu
	vz := sini * cossu

	r := Vec3{X: mrt * ux, Y: mrt * uy, Z: mrt * uz}.Scale(wgs72Radius)
	v := Vec3{
		X: mvt*ux + rvdot*vx,
		Y: mvt*uy + rvdot*vy,
		Z: mvt*uz + rvdot*vz,
	}.Scale(vkmpersec)

	if mrt < 1.0 {
		return Vec3{}, Vec3{}, ErrDecayed
	}
	return r, v, nil
}
