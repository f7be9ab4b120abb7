package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const elements = `ISS (ZARYA)
1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537
VANGUARD 1
1 00005U 58002B   00179.78495062  .00000023  00000-0  28098-4 0  4753
2 00005  34.2682 348.7242 1859667 331.7664  19.3264 10.82419157413667
`

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestCSVFromStdin(t *testing.T) {
	out, _, err := runCLI(t, elements, "-name", "iss")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// header plus one sample every 10 minutes over a day, both ends included
	if len(rows) != 1+145 {
		t.Fatalf("got %d rows, want 146", len(rows))
	}
	if got := strings.Join(rows[0], ","); got != "name,category,time,latitude,longitude,altitude_m" {
		t.Fatalf("header = %q", got)
	}
	if rows[1][0] != "ISS (ZARYA)" || rows[1][1] != "SATELLITE" {
		t.Fatalf("first row = %v", rows[1])
	}
	alt, err := strconv.ParseFloat(rows[1][5], 64)
	if err != nil || alt < 250e3 || alt > 450e3 {
		t.Fatalf("altitude = %q (%v), want a low earth orbit", rows[1][5], err)
	}
}

func TestJSONCompareFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iss.tle")
	if err := os.WriteFile(path, []byte(elements), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, _, err := runCLI(t, "", "-tle", path, "-name", "ZARYA", "-duration", "6h", "-step", "30m", "-format", "json", "-compare")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var tracks []track
	if err := json.Unmarshal([]byte(out), &tracks); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(tracks) != 1 || len(tracks[0].Points) != 13 {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
	for i, s := range tracks[0].Points {
		if s.Reference == nil || s.DeltaKm == nil {
			t.Fatalf("point %d has no reference solution", i)
		}
		if *s.DeltaKm > 1 {
			t.Fatalf("point %d differs from go-satellite by %.3f km", i, *s.DeltaKm)
		}
		if s.Time.Nanosecond() != 0 {
			t.Fatalf("point %d at %s is not on a whole second", i, s.Time)
		}
	}
}

func TestStartOutsideHorizonIsReported(t *testing.T) {
	// Vanguard's epoch is 2000; ISS's 2008 epoch is well past its horizon.
	out, stderr, err := runCLI(t, elements, "-start", "2008-09-20T12:00:00Z", "-duration", "1h")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr, "VANGUARD 1") {
		t.Fatalf("expected a warning for VANGUARD 1, stderr %q", stderr)
	}
	if strings.Contains(out, "VANGUARD") || !strings.Contains(out, "ISS (ZARYA)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRejectsBadFlags(t *testing.T) {
	cases := [][]string{
		{"-format", "xml"},
		{"-duration", "96h"},
		{"-step", "0s"},
		{"-start", "yesterday"},
		{"-step", "1ns"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, elements, args...); err == nil {
			t.Fatalf("run %v: expected error", args)
		}
	}
}

func TestNothingToTrack(t *testing.T) {
	if _, _, err := runCLI(t, elements, "-name", "hubble"); err == nil {
		t.Fatalf("expected an error when no set matches")
	}
}
