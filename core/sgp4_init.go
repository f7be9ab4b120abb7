package core

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// epochDays returns the epoch as days since 1949 December 31 00:00 UT, the
// origin the lunar-solar terms are expressed against.
func epochDays(t time.Time) float64 {
	return julian.TimeToJD(t) - jd1950
}

// gstime is the IAU-82 sidereal angle used internally by the deep-space
// resonance terms.
func gstime(jdut1 float64) float64 {
	tut1 := (jdut1 - 2451545.0) / 36525.0
	temp := -6.2e-6*tut1*tut1*tut1 + 0.093104*tut1*tut1 +
		(876600.0*3600+8640184.812866)*tut1 + 67310.54841 // seconds
	temp = math.Mod(temp*(math.Pi/180)/240.0, twoPi)
	if temp < 0 {
		temp += twoPi
	}
	return temp
}

// initialize derives every epoch-constant coefficient. noKozai is the mean motion
// in rad/min as carried by the element set.
func (p *Propagator) initialize(noKozai, epoch float64) {
	const temp4 = 1.5e-12

	ss := 78.0/wgs72Radius + 1.0
	qzms2ttemp := (120.0 - 78.0) / wgs72Radius
	qzms2t := qzms2ttemp * qzms2ttemp * qzms2ttemp * qzms2ttemp

	// recover the original mean motion and semi-major axis
	eccsq := p.ecco * p.ecco
	omeosq := 1.0 - eccsq
	rteosq := math.Sqrt(omeosq)
	cosio := math.Cos(p.inclo)
	cosio2 := cosio * cosio

	ak := math.Pow(xke/noKozai, x2o3)
	d1 := 0.75 * wgs72J2 * (3.0*cosio2 - 1.0) / (rteosq * omeosq)
	del := d1 / (ak * ak)
	adel := ak * (1.0 - del*del - del*(1.0/3.0+134.0*del*del/81.0))
	del = d1 / (adel * adel)
	p.noUnkozai = noKozai / (1.0 + del)

	ao := math.Pow(xke/p.noUnkozai, x2o3)
	sinio := math.Sin(p.inclo)
	po := ao * omeosq
	con42 := 1.0 - 5.0*cosio2
	p.con41 = -con42 - cosio2 - cosio2
	posq := po * po
	rp := ao * (1.0 - p.ecco)

	p.isimp = rp < 220.0/wgs72Radius+1.0
	sfour := ss
	qzms24 := qzms2t
	perige := (rp - 1.0) * wgs72Radius

	// perigees below 156 km alter s and qoms2t
	if perige < 156.0 {
		sfour = perige - 78.0
		if perige < 98.0 {
			sfour = 20.0
		}
		qzms24temp := (120.0 - sfour) / wgs72Radius
		qzms24 = qzms24temp * qzms24temp * qzms24temp * qzms24temp
		sfour = sfour/wgs72Radius + 1.0
	}
	pinvsq := 1.0 / posq

	tsi := 1.0 / (ao - sfour)
	p.eta = ao * p.ecco * tsi
	etasq := p.eta * p.eta
	eeta := p.ecco * p.eta
	psisq := math.Abs(1.0 - etasq)
	coef := qzms24 * math.Pow(tsi, 4.0)
	coef1 := coef / math.Pow(psisq, 3.5)
	cc2 := coef1 * p.noUnkozai * (ao*(1.0+1.5*etasq+eeta*(4.0+etasq)) +
		0.375*wgs72J2*tsi/psisq*p.con41*(8.0+3.0*etasq*(8.0+etasq)))
	p.cc1 = p.bstar * cc2
	cc3 := 0.0
	if p.ecco > 1.0e-4 {
		cc3 = -2.0 * coef * tsi * j3oj2 * p.noUnkozai * sinio / p.ecco
	}
	p.x1mth2 = 1.0 - cosio2
	p.cc4 = 2.0 * p.noUnkozai * coef1 * ao * omeosq *
		(p.eta*(2.0+0.5*etasq) + p.ecco*(0.5+2.0*etasq) -
			wgs72J2*tsi/(ao*psisq)*
				(-3.0*p.con41*(1.0-2.0*eeta+etasq*(1.5-0.5*eeta))+
					0.75*p.x1mth2*(2.0*etasq-eeta*(1.0+etasq))*math.Cos(2.0*p.argpo)))
	p.cc5 = 2.0 * coef1 * ao * omeosq * (1.0 + 2.75*(etasq+eeta) + eeta*etasq)
	cosio4 := cosio2 * cosio2
	temp1 := 1.5 * wgs72J2 * pinvsq * p.noUnkozai
	temp2 := 0.5 * temp1 * wgs72J2 * pinvsq
	temp3 := -0.46875 * wgs72J4 * pinvsq * pinvsq * p.noUnkozai
	p.mdot = p.noUnkozai + 0.5*temp1*rteosq*p.con41 +
		0.0625*temp2*rteosq*(13.0-78.0*cosio2+137.0*cosio4)
	p.argpdot = -0.5*temp1*con42 + 0.0625*temp2*(7.0-114.0*cosio2+395.0*cosio4) +
		temp3*(3.0-36.0*cosio2+49.0*cosio4)
	xhdot1 := -temp1 * cosio
	p.nodedot = xhdot1 + (0.5*temp2*(4.0-19.0*cosio2)+2.0*temp3*(3.0-7.0*cosio2))*cosio
	xpidot := p.argpdot + p.nodedot
	p.omgcof = p.bstar * cc3 * math.Cos(p.argpo)
	p.xmcof = 0.0
	if p.ecco > 1.0e-4 {
		p.xmcof = -x2o3 * coef * p.bstar / eeta
	}
	p.nodecf = 3.5 * omeosq * xhdot1 * p.cc1
	p.t2cof = 1.5 * p.cc1
	if math.Abs(cosio+1.0) > 1.5e-12 {
		p.xlcof = -0.25 * j3oj2 * sinio * (3.0 + 5.0*cosio) / (1.0 + cosio)
	} else {
		p.xlcof = -0.25 * j3oj2 * sinio * (3.0 + 5.0*cosio) / temp4
	}
	p.aycof = -0.5 * j3oj2 * sinio
	delmotemp := 1.0 + p.eta*math.Cos(p.mo)
	p.delmo = delmotemp * delmotemp * delmotemp
	p.sinmao = math.Sin(p.mo)
	p.x7thm1 = 7.0*cosio2 - 1.0

	if twoPi/p.noUnkozai >= 225.0 {
		p.isimp = true
		p.deep = newDeepSpace(p, epoch, eccsq, xpidot)
	}

	if !p.isimp {
		cc1sq := p.cc1 * p.cc1
		p.d2 = 4.0 * ao * tsi * cc1sq
		temp := p.d2 * tsi * p.cc1 / 3.0
		p.d3 = (17.0*ao + sfour) * temp
		p.d4 = 0.5 * temp * ao * tsi * (221.0*ao + 31.0*sfour) * p.cc1
		p.t3cof = p.d2 + 2.0*cc1sq
		p.t4cof = 0.25 * (3.0*p.d3 + p.cc1*(12.0*p.d2+10.0*cc1sq))
		p.t5cof = 0.2 * (3.0*p.d4 + 12.0*p.cc1*p.d3 + 6.0*p.d2*p.d2 +
			15.0*cc1sq*(2.0*p.d2+cc1sq))
	}
}
