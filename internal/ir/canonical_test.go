package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{Number(3), "3"},
		{Number(-0.5), "-0.5"},
		{Number(1e21), "1e+21"},
		{Number(0.000001), "0.000001"},
		{Number(math.NaN()), `"NaN"`},
		{Number(math.Inf(-1)), `"-Infinity"`},
		{json.Number("42"), "42"},
		{7, "7"},
	}

	for _, tt := range tests {
		got, err := MarshalCanonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestMarshalCanonicalObjectOrderAndEscaping(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"b":    "<tag>&",
		"a":    []any{true, nil},
		"line": "x\u2028y",
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[true,null],\"b\":\"<tag>&\",\"line\":\"x\u2028y\"}", string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// e + combining acute accent normalizes to the single code point.
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonicalStructuredValues(t *testing.T) {
	got, err := MarshalCanonical(Object{
		"pos": Vector3{X: 1, Y: 2, Z: 3},
		"rot": Rotation{W: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"pos":{"x":1,"y":2,"z":3},"rot":{"w":1,"x":0,"y":0,"z":0}}`, string(got))
}

func TestUnescapeU2028KeepsEscapedBackslash(t *testing.T) {
	in := []byte(`"\\u2028"`)
	assert.Equal(t, string(in), string(unescapeU2028U2029(in)))
}
