package tle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonRecord(name, objectType, catID, l1, l2 string) string {
	return fmt.Sprintf(`{"OBJECT_NAME":%q,"OBJECT_TYPE":%q,"NORAD_CAT_ID":%s,"TLE_LINE0":%q,"TLE_LINE1":%q,"TLE_LINE2":%q,"COMMENT":"GENERATED VIA SPACE-TRACK.ORG API","FILE":"4017356"}`,
		name, objectType, catID, "0 "+name, l1, l2)
}

func TestDecodeBatchJSONPartialFailure(t *testing.T) {
	badChecksum := fixtures[0].l1[:68] + "0"
	payload := "[" +
		jsonRecord("ISS (ZARYA)", "PAYLOAD", `"25544"`, fixtures[0].l1, fixtures[0].l2) + "," +
		jsonRecord("BROKEN", "PAYLOAD", `"25544"`, badChecksum, fixtures[0].l2) + "," +
		jsonRecord("VANGUARD 1 DEB", "DEBRIS", `5`, fixtures[1].l1, fixtures[1].l2) + "," +
		`{"OBJECT_NAME":"NO LINES","NORAD_CAT_ID":null}` + "," +
		jsonRecord("WRONG ID", "ROCKET BODY", `"11802"`, fixtures[2].l1, fixtures[2].l2) + "," +
		jsonRecord("", "Rocket Body", `"28626"`, fixtures[3].l1, fixtures[3].l2) +
		"]"

	sets, errs := DecodeBatch([]byte(payload))

	require.Len(t, sets, 3)
	assert.Equal(t, "ISS (ZARYA)", sets[0].Name)
	assert.Equal(t, "PAYLOAD", sets[0].TypeLabel)
	assert.Equal(t, "VANGUARD 1 DEB", sets[1].Name)
	assert.Equal(t, "DEBRIS", sets[1].TypeLabel)
	// Falls back to TLE_LINE0 without its "0 " prefix.
	assert.Equal(t, "28626", sets[2].Name)
	assert.Equal(t, "Rocket Body", sets[2].TypeLabel)

	require.Len(t, errs, 3)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, "BROKEN", errs[0].Name)
	assert.ErrorIs(t, errs[0], ErrChecksum)
	assert.Equal(t, 3, errs[1].Index)
	assert.ErrorIs(t, errs[1], ErrMissingLines)
	assert.Equal(t, 4, errs[2].Index)
	assert.ErrorIs(t, errs[2], ErrCatalogMismatch)

	var perr *ParseError
	assert.True(t, errors.As(error(errs[0]), &perr))
}

func TestDecodeBatchJSONBadRecordType(t *testing.T) {
	payload := `[` + jsonRecord("ISS", "PAYLOAD", `25544`, fixtures[0].l1, fixtures[0].l2) +
		`, {"OBJECT_NAME": 12, "TLE_LINE1": []}, "not an object"]`

	sets, errs := DecodeBatch([]byte(payload))
	require.Len(t, sets, 1)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
}

func TestDecodeBatchMalformedDocument(t *testing.T) {
	sets, errs := DecodeBatch([]byte(`[{"OBJECT_NAME":`))
	assert.Empty(t, sets)
	require.Len(t, errs, 1)
	assert.Equal(t, -1, errs[0].Index)
}

func TestDecodeBatchText(t *testing.T) {
	text := "0 ISS (ZARYA)\n" + fixtures[0].l1 + "\n" + fixtures[0].l2 + "\r\n" +
		"\n" +
		fixtures[1].l1 + "\n" + fixtures[1].l2 + "\n" +
		"ORPHAN NAME\n" +
		"GEO\n" + fixtures[3].l1 + "\n" + fixtures[3].l2[:68] + "0\n"

	sets, errs := DecodeBatch([]byte(text))

	require.Len(t, sets, 2)
	assert.Equal(t, "ISS (ZARYA)", sets[0].Name)
	assert.Equal(t, "5", sets[1].Name)

	require.Len(t, errs, 2)
	assert.Equal(t, "ORPHAN NAME", errs[0].Name)
	assert.ErrorIs(t, errs[0], ErrMissingLines)
	assert.Equal(t, "GEO", errs[1].Name)
	assert.ErrorIs(t, errs[1], ErrChecksum)
}

func TestDecodeBatchTextTruncatedRecord(t *testing.T) {
	text := "BROKEN\n" + fixtures[0].l1 + "\n" +
		"ISS (ZARYA)\n" + fixtures[0].l1 + "\n" + fixtures[0].l2 + "\n" +
		"BAD SUM\n" + fixtures[1].l1 + "\n" + fixtures[1].l2[:68] + "0\n"

	sets, errs := DecodeBatch([]byte(text))

	require.Len(t, sets, 1)
	assert.Equal(t, "ISS (ZARYA)", sets[0].Name)

	require.Len(t, errs, 2)
	assert.Equal(t, 0, errs[0].Index)
	assert.Equal(t, "BROKEN", errs[0].Name)
	assert.ErrorIs(t, errs[0], ErrMissingLines)
	assert.Equal(t, 2, errs[1].Index)
	assert.Equal(t, "BAD SUM", errs[1].Name)
	assert.ErrorIs(t, errs[1], ErrChecksum)
}

func TestDecodeBatchEmpty(t *testing.T) {
	sets, errs := DecodeBatch([]byte("  \n"))
	assert.Empty(t, sets)
	assert.Empty(t, errs)

	sets, errs = DecodeBatch([]byte("[]"))
	assert.Empty(t, sets)
	assert.Empty(t, errs)
}
