package tle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// ParseError rejects a single record of a batch. Index is the position of
// the record in the batch, or -1 when the document as a whole is unreadable.
type ParseError struct {
	Index int
	Name  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("tle: record %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("tle: record %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrMissingLines indicates a feed record without both element lines.
var ErrMissingLines = errors.New("tle: record has no element lines")

// feedRecord is the subset of a Space-Track GP/TLE JSON object the tracker
// consumes. Unknown keys are ignored by encoding/json.
type feedRecord struct {
	ObjectName string  `json:"OBJECT_NAME"`
	ObjectType string  `json:"OBJECT_TYPE"`
	NoradCatID flexInt `json:"NORAD_CAT_ID"`
	Line0      string  `json:"TLE_LINE0"`
	Line1      string  `json:"TLE_LINE1"`
	Line2      string  `json:"TLE_LINE2"`
}

// flexInt accepts a JSON number, a numeric string or null. Space-Track
// quotes every numeric value.
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", string(b))
	}
	f.Value, f.Set = v, true
	return nil
}

// DecodeBatch decodes a feed payload, either a JSON array of element
// records or plain two/three line text. Each bad record yields its own
// ParseError; the remaining records are still returned.
func DecodeBatch(raw []byte) ([]model.ElementSet, []*ParseError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		return decodeJSON(trimmed)
	}
	return decodeText(trimmed)
}

func decodeJSON(raw []byte) ([]model.ElementSet, []*ParseError) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, []*ParseError{{Index: -1, Err: fmt.Errorf("decode feed document: %w", err)}}
	}

	sets := make([]model.ElementSet, 0, len(items))
	var errs []*ParseError
	for i, item := range items {
		var rec feedRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			errs = append(errs, &ParseError{Index: i, Err: err})
			continue
		}
		name := rec.ObjectName
		if name == "" {
			name = rec.Line0
		}
		if rec.Line1 == "" || rec.Line2 == "" {
			errs = append(errs, &ParseError{Index: i, Name: name, Err: ErrMissingLines})
			continue
		}
		set, err := ParseLines(name, rec.Line1, rec.Line2)
		if err != nil {
			errs = append(errs, &ParseError{Index: i, Name: name, Err: err})
			continue
		}
		if rec.NoradCatID.Set && rec.NoradCatID.Value != set.CatalogNumber {
			errs = append(errs, &ParseError{Index: i, Name: name, Err: fmt.Errorf("%w: NORAD_CAT_ID %d vs lines %d",
				ErrCatalogMismatch, rec.NoradCatID.Value, set.CatalogNumber)})
			continue
		}
		set.TypeLabel = rec.ObjectType
		sets = append(sets, set)
	}
	return sets, errs
}

func decodeText(raw []byte) ([]model.ElementSet, []*ParseError) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r\t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, []*ParseError{{Index: -1, Err: err}}
	}

	var (
		sets []model.ElementSet
		errs []*ParseError
	)
	index := 0
	for i := 0; i < len(lines); {
		name := ""
		if !strings.HasPrefix(lines[i], "1 ") {
			name = lines[i]
			i++
		}
		if i+1 >= len(lines) || !strings.HasPrefix(lines[i], "1 ") || !strings.HasPrefix(lines[i+1], "2 ") {
			errs = append(errs, &ParseError{Index: index, Name: strings.TrimSpace(strings.TrimPrefix(name, "0 ")), Err: ErrMissingLines})
			index++
			// An orphan line 1 belongs to this record; don't report it twice.
			if i < len(lines) && strings.HasPrefix(lines[i], "1 ") {
				i++
			}
			continue
		}
		set, err := ParseLines(name, lines[i], lines[i+1])
		if err != nil {
			errs = append(errs, &ParseError{Index: index, Name: strings.TrimSpace(strings.TrimPrefix(name, "0 ")), Err: err})
		} else {
			sets = append(sets, set)
		}
		index++
		i += 2
	}
	return sets, errs
}
