package tle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// Format writes set back out as two checksummed element lines.
func Format(set model.ElementSet) (string, string, error) {
	cat, err := formatCatalog(set.CatalogNumber)
	if err != nil {
		return "", "", err
	}
	epoch, err := formatEpoch(set.Epoch)
	if err != nil {
		return "", "", err
	}
	ndot, err := formatNdot(set.MeanMotionDot)
	if err != nil {
		return "", "", err
	}
	nddot, err := formatImplied(set.MeanMotionDDot)
	if err != nil {
		return "", "", fmt.Errorf("mean motion second derivative: %w", err)
	}
	bstar, err := formatImplied(set.BStar)
	if err != nil {
		return "", "", fmt.Errorf("bstar: %w", err)
	}
	if set.Eccentricity < 0 || set.Eccentricity >= 1 {
		return "", "", fmt.Errorf("%w: eccentricity %g", ErrElements, set.Eccentricity)
	}
	ecc := int(math.Round(set.Eccentricity * 1e7))
	if ecc > 9999999 {
		ecc = 9999999
	}

	class := set.Classification
	if class == 0 || class == ' ' {
		class = 'U'
	}
	intl := set.IntlDesignator
	if len(intl) > 8 {
		intl = intl[:8]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "1 %s%c %-8s %s %s %s %s %d %4d",
		cat, class, intl, epoch, ndot, nddot, bstar,
		set.EphemerisType%10, set.ElementSetNumber%10000)
	line1 := withChecksum(b.String())

	b.Reset()
	fmt.Fprintf(&b, "2 %s %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		cat,
		normDeg(set.Inclination.Deg()),
		normDeg(set.RAAN.Deg()),
		ecc,
		normDeg(set.ArgPerigee.Deg()),
		normDeg(set.MeanAnomaly.Deg()),
		set.MeanMotion,
		set.RevolutionNumber%100000)
	line2 := withChecksum(b.String())

	if len(line1) != LineLength || len(line2) != LineLength {
		return "", "", fmt.Errorf("%w: formatted widths %d/%d", ErrLineLength, len(line1), len(line2))
	}
	return line1, line2, nil
}

func withChecksum(body string) string {
	return body + string(rune('0'+Checksum(body)))
}

func normDeg(d float64) float64 {
	if d < 0 {
		d = math.Mod(d, 360) + 360
	}
	return d
}

func formatCatalog(n int) (string, error) {
	switch {
	case n < 0:
		return "", fmt.Errorf("%w: catalog number %d", ErrField, n)
	case n < 100000:
		return fmt.Sprintf("%05d", n), nil
	case n < 340000:
		const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
		return fmt.Sprintf("%c%04d", letters[n/10000-10], n%10000), nil
	default:
		return "", fmt.Errorf("%w: catalog number %d exceeds Alpha-5", ErrField, n)
	}
}

func formatEpoch(t time.Time) (string, error) {
	t = t.UTC()
	year := t.Year()
	if year < 1957 || year > 2056 {
		return "", fmt.Errorf("%w: epoch year %d", ErrField, year)
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	day := 1 + t.Sub(start).Seconds()/86400
	s := fmt.Sprintf("%02d%012.8f", year%100, day)
	return s, nil
}

// formatNdot renders the first derivative as " .NNNNNNNN" / "-.NNNNNNNN".
func formatNdot(v float64) (string, error) {
	abs := math.Abs(v)
	digits := fmt.Sprintf("%.8f", abs)
	if !strings.HasPrefix(digits, "0.") {
		return "", fmt.Errorf("%w: mean motion derivative %g", ErrField, v)
	}
	sign := " "
	if v < 0 && digits != "0.00000000" {
		sign = "-"
	}
	return sign + digits[1:], nil
}

// formatImplied renders the "±NNNNN±E" notation used for nddot and bstar.
func formatImplied(v float64) (string, error) {
	if v == 0 {
		return " 00000-0", nil
	}
	sign := " "
	if v < 0 {
		sign = "-"
	}
	abs := math.Abs(v)
	exp := int(math.Floor(math.Log10(abs))) + 1
	mant := int(math.Round(abs / math.Pow(10, float64(exp)) * 1e5))
	if mant >= 100000 {
		mant /= 10
		exp++
	}
	if mant == 0 {
		return " 00000-0", nil
	}
	if exp < -9 || exp > 9 {
		return "", fmt.Errorf("%w: exponent %d out of range", ErrField, exp)
	}
	expSign := "+"
	if exp < 0 {
		expSign = "-"
		exp = -exp
	}
	return fmt.Sprintf("%s%05d%s%d", sign, mant, expSign, exp), nil
}
