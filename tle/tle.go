// Package tle reads and writes the two-line element set format.
//
// Each element set is two 69 column lines. Column positions, implied decimal
// points and the modulo-10 checksum follow the NORAD layout exactly so that
// output can be consumed by existing tooling.
package tle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/unit"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// LineLength is the fixed width of both element lines.
const LineLength = 69

var (
	// ErrLineLength indicates a line that is not exactly LineLength columns.
	ErrLineLength = errors.New("tle: line is not 69 columns")
	// ErrChecksum indicates a column-69 checksum mismatch.
	ErrChecksum = errors.New("tle: checksum mismatch")
	// ErrLineNumber indicates a line that does not start with its line number.
	ErrLineNumber = errors.New("tle: unexpected line number")
	// ErrCatalogMismatch indicates lines 1 and 2 describe different objects.
	ErrCatalogMismatch = errors.New("tle: catalog numbers differ between lines")
	// ErrField indicates a field that failed to decode.
	ErrField = errors.New("tle: malformed field")
	// ErrElements indicates decoded elements outside their valid domain.
	ErrElements = errors.New("tle: invalid orbital elements")
)

// Checksum computes the modulo-10 checksum over the first 68 columns of a
// line: digits count their value, a minus sign counts one, everything else
// counts zero.
func Checksum(line string) int {
	sum := 0
	n := len(line)
	if n > LineLength-1 {
		n = LineLength - 1
	}
	for i := 0; i < n; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// ParseLines decodes one element set. name may be empty, in which case the
// catalog number is used as the object's identity.
func ParseLines(name, line1, line2 string) (model.ElementSet, error) {
	var set model.ElementSet

	line1 = strings.TrimRight(line1, " \r\n\t")
	line2 = strings.TrimRight(line2, " \r\n\t")
	if err := checkLine(line1, '1'); err != nil {
		return set, fmt.Errorf("line 1: %w", err)
	}
	if err := checkLine(line2, '2'); err != nil {
		return set, fmt.Errorf("line 2: %w", err)
	}

	cat1, err := parseCatalog(line1[2:7])
	if err != nil {
		return set, fieldErr("line 1 catalog number", line1[2:7], err)
	}
	cat2, err := parseCatalog(line2[2:7])
	if err != nil {
		return set, fieldErr("line 2 catalog number", line2[2:7], err)
	}
	if cat1 != cat2 {
		return set, fmt.Errorf("%w: %d vs %d", ErrCatalogMismatch, cat1, cat2)
	}

	epoch, err := parseEpoch(line1[18:32])
	if err != nil {
		return set, fieldErr("epoch", line1[18:32], err)
	}
	ndot, err := parseFloat(line1[33:43])
	if err != nil {
		return set, fieldErr("mean motion derivative", line1[33:43], err)
	}
	nddot, err := parseImplied(line1[44:52])
	if err != nil {
		return set, fieldErr("mean motion second derivative", line1[44:52], err)
	}
	bstar, err := parseImplied(line1[53:61])
	if err != nil {
		return set, fieldErr("bstar", line1[53:61], err)
	}
	ephType, err := parseIntBlank(line1[62:63])
	if err != nil {
		return set, fieldErr("ephemeris type", line1[62:63], err)
	}
	elset, err := parseIntBlank(line1[64:68])
	if err != nil {
		return set, fieldErr("element set number", line1[64:68], err)
	}

	incl, err := parseFloat(line2[8:16])
	if err != nil {
		return set, fieldErr("inclination", line2[8:16], err)
	}
	raan, err := parseFloat(line2[17:25])
	if err != nil {
		return set, fieldErr("right ascension", line2[17:25], err)
	}
	ecc, err := parseFloat("." + strings.TrimSpace(line2[26:33]))
	if err != nil {
		return set, fieldErr("eccentricity", line2[26:33], err)
	}
	argp, err := parseFloat(line2[34:42])
	if err != nil {
		return set, fieldErr("argument of perigee", line2[34:42], err)
	}
	mo, err := parseFloat(line2[43:51])
	if err != nil {
		return set, fieldErr("mean anomaly", line2[43:51], err)
	}
	no, err := parseFloat(line2[52:63])
	if err != nil {
		return set, fieldErr("mean motion", line2[52:63], err)
	}
	rev, err := parseIntBlank(line2[63:68])
	if err != nil {
		return set, fieldErr("revolution number", line2[63:68], err)
	}

	if ecc < 0 || ecc >= 1 {
		return set, fmt.Errorf("%w: eccentricity %g", ErrElements, ecc)
	}
	if no <= 0 {
		return set, fmt.Errorf("%w: mean motion %g", ErrElements, no)
	}

	name = strings.TrimSpace(strings.TrimPrefix(name, "0 "))
	if name == "" {
		name = strconv.Itoa(cat1)
	}

	set = model.ElementSet{
		Name:             name,
		CatalogNumber:    cat1,
		Classification:   line1[7],
		IntlDesignator:   strings.TrimSpace(line1[9:17]),
		Epoch:            epoch,
		Inclination:      unit.AngleFromDeg(incl),
		RAAN:             unit.AngleFromDeg(raan),
		Eccentricity:     ecc,
		ArgPerigee:       unit.AngleFromDeg(argp),
		MeanAnomaly:      unit.AngleFromDeg(mo),
		MeanMotion:       no,
		BStar:            bstar,
		MeanMotionDot:    ndot,
		MeanMotionDDot:   nddot,
		EphemerisType:    ephType,
		ElementSetNumber: elset,
		RevolutionNumber: rev,
		Line1:            line1,
		Line2:            line2,
	}
	return set, nil
}

func checkLine(line string, number byte) error {
	if len(line) != LineLength {
		return fmt.Errorf("%w: got %d", ErrLineLength, len(line))
	}
	if line[0] != number || line[1] != ' ' {
		return fmt.Errorf("%w: want %q, got %q", ErrLineNumber, number, line[0])
	}
	want := line[LineLength-1]
	if want < '0' || want > '9' {
		return fmt.Errorf("%w: column 69 is %q", ErrChecksum, want)
	}
	if got := Checksum(line); got != int(want-'0') {
		return fmt.Errorf("%w: computed %d, line carries %c", ErrChecksum, got, want)
	}
	return nil
}

func fieldErr(field, raw string, err error) error {
	return fmt.Errorf("%w %s %q: %v", ErrField, field, raw, err)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	// "-.00002182" and " .00000204" are both legal.
	s = strings.Replace(s, "-.", "-0.", 1)
	s = strings.Replace(s, "+.", "0.", 1)
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	return strconv.ParseFloat(s, 64)
}

func parseIntBlank(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseImplied decodes the "±NNNNN±E" notation: an implied leading decimal
// point on the mantissa and a signed power-of-ten exponent.
func parseImplied(field string) (float64, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	sign := ""
	if s[0] == '-' || s[0] == '+' {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	if len(s) < 3 {
		return 0, fmt.Errorf("too short")
	}
	mantissa := s[:len(s)-2]
	exp := s[len(s)-2:]
	if exp[0] != '-' && exp[0] != '+' {
		return 0, fmt.Errorf("missing exponent sign")
	}
	for _, c := range mantissa {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("bad mantissa digit %q", c)
		}
	}
	return strconv.ParseFloat(sign+"0."+mantissa+"e"+exp, 64)
}

// parseEpoch decodes YYDDD.DDDDDDDD. Years 57-99 map to the 1900s.
func parseEpoch(s string) (time.Time, error) {
	yy, err := strconv.Atoi(strings.TrimSpace(s[:2]))
	if err != nil {
		return time.Time{}, err
	}
	day, err := strconv.ParseFloat(strings.TrimSpace(s[2:]), 64)
	if err != nil {
		return time.Time{}, err
	}
	if day < 1 || day >= 367 {
		return time.Time{}, fmt.Errorf("day of year %g out of range", day)
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	whole, frac := math.Modf(day)
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	offset := time.Duration(math.Round(frac * 86400e9))
	return start.AddDate(0, 0, int(whole)-1).Add(offset), nil
}

// parseCatalog accepts plain five digit numbers and the Alpha-5 scheme, in
// which a leading letter (I and O excluded) extends the range past 99999.
func parseCatalog(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	if c := s[0]; c >= 'A' && c <= 'Z' {
		if c == 'I' || c == 'O' {
			return 0, fmt.Errorf("letter %q not used by Alpha-5", c)
		}
		v := int(c-'A') + 10
		if c > 'I' {
			v--
		}
		if c > 'O' {
			v--
		}
		rest, err := strconv.Atoi(s[1:])
		if err != nil {
			return 0, err
		}
		return v*10000 + rest, nil
	}
	return strconv.Atoi(s)
}
