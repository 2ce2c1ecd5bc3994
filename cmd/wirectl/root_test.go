package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"typedrpc/internal/errs"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSuffix(out.String(), "\n"), err
}

func TestEncode(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		want    string
		fail    bool
		wantErr error
	}{
		{name: "list", args: []string{"encode", "-t", "LIST(UINT32)", "[1,2,3,4]"}, want: "0a01010a01020a01030a0104"},
		{name: "empty list", args: []string{"encode", "-t", "LIST(UINT32)", "[]"}, want: ""},
		{name: "negative", args: []string{"encode", "-t", "SINT32", "--", "-1"}, want: "01"},
		{name: "string", args: []string{"encode", "-t", "STRING", `"hi"`}, want: "026869"},
		{name: "bytes", args: []string{"encode", "-t", "BYTES", `"AQI="`}, want: "020102"},
		{name: "dictionary object", args: []string{"encode", "-t", "DICTIONARY(STRING,UINT32)", `{"a":1}`}, want: "0a070a020161120101"},
		{name: "dictionary pairs", args: []string{"encode", "-t", "DICT(UINT32,BOOL)", `[[1,true]]`}, want: "0a060a0101120101"},
		{name: "tuple", args: []string{"encode", "-t", "TUPLE(BOOL,DOUBLE)", "[true,1.5]"}, want: "0a01010a08000000000000f83f"},
		{name: "null object", args: []string{"encode", "-t", "CLASS(SpaceCenter.Vessel)", "null"}, want: "00"},
		{name: "base64 output", args: []string{"encode", "-f", "base64", "-t", "UINT32", "300"}, want: "rAI="},
		{name: "out of range", args: []string{"encode", "-t", "UINT32", "4294967296"}, fail: true, wantErr: errs.ErrSchemaMismatch},
		{name: "float out of range", args: []string{"encode", "-t", "FLOAT", "1e300"}, fail: true, wantErr: errs.ErrSchemaMismatch},
		{name: "float infinity", args: []string{"encode", "-t", "FLOAT", `"Infinity"`}, want: "0000807f"},
		{name: "set of tuples", args: []string{"encode", "-t", "SET(TUPLE(UINT32,UINT32))", "[[1,2]]"}, want: "0a060a01010a0102"},
		{name: "set of sets", args: []string{"encode", "-t", "SET(SET(UINT32))", "[[1]]"}, fail: true},
		{name: "tuple arity", args: []string{"encode", "-t", "TUPLE(BOOL,DOUBLE)", "[true]"}, fail: true},
		{name: "not json", args: []string{"encode", "-t", "UINT32", "one"}, fail: true},
		{name: "missing type", args: []string{"encode", "1"}, fail: true},
		{name: "unknown format", args: []string{"encode", "-f", "octal", "-t", "UINT32", "1"}, fail: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, "", tc.args...)
			if tc.fail {
				require.Error(t, err)
				if tc.wantErr != nil {
					assert.ErrorIs(t, err, tc.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		want    string
		fail    bool
		wantErr error
	}{
		{name: "list", args: []string{"decode", "-t", "LIST(UINT32)", "0a01010a0102"}, want: "[1,2]"},
		{name: "spaces in hex", args: []string{"decode", "-t", "LIST(UINT32)", "0a 01 01"}, want: "[1]"},
		{name: "set is sorted", args: []string{"decode", "-t", "SET(SINT64)", "0a010a0a0101"}, want: "[-1,5]"},
		{
			name: "dictionary with numeric keys",
			args: []string{"decode", "-t", "DICTIONARY(UINT32,STRING)", "0a080a01011203026869" + "0a060a0100120100"},
			want: `[[0,""],[1,"hi"]]`,
		},
		{name: "dictionary with string keys", args: []string{"decode", "-t", "DICTIONARY(STRING,UINT32)", "0a070a020161120101"}, want: `{"a":1}`},
		{name: "infinity", args: []string{"decode", "-t", "DOUBLE", "000000000000f07f"}, want: `"Infinity"`},
		{name: "null object", args: []string{"decode", "-t", "CLASS(SpaceCenter.Vessel)", "00"}, want: "null"},
		{name: "object", args: []string{"decode", "-t", "CLASS(SpaceCenter.Vessel)", "2a"}, want: "42"},
		{name: "bytes", args: []string{"decode", "-t", "BYTES", "020102"}, want: `"AQI="`},
		{name: "base64 input", args: []string{"decode", "-f", "base64", "-t", "UINT32", "rAI="}, want: "300"},
		{name: "truncated", args: []string{"decode", "-t", "LIST(UINT32)", "0a05"}, fail: true, wantErr: errs.ErrMalformedInput},
		{name: "overflow", args: []string{"decode", "-t", "UINT32", "8080808010"}, fail: true, wantErr: errs.ErrOverflow},
		{name: "bad hex", args: []string{"decode", "-t", "UINT32", "zz"}, fail: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, "", tc.args...)
			if tc.fail {
				require.Error(t, err)
				if tc.wantErr != nil {
					assert.ErrorIs(t, err, tc.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name    string
		expr    string
		want    string
		wantErr bool
	}{
		{name: "canonical", expr: "list( dict(string, int32) )", want: "LIST(DICTIONARY(STRING,SINT32))"},
		{name: "class", expr: "class(SpaceCenter.Vessel)", want: "CLASS(SpaceCenter.Vessel)"},
		{name: "list key", expr: "DICTIONARY(LIST(UINT32),STRING)", want: "DICTIONARY(LIST(UINT32),STRING)"},
		{name: "tuple members", expr: "set(tuple(uint32,bytes))", want: "SET(TUPLE(UINT32,BYTES))"},
		{name: "unknown", expr: "LIST(WIDGET)", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, "", "check", "--type", tc.expr)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestMaxDepth(t *testing.T) {
	_, err := run(t, "", "check", "--max-depth", "2", "-t", "LIST(LIST(UINT32))")
	assert.ErrorIs(t, err, errs.ErrSchemaMismatch)
	out, err := run(t, "", "check", "--max-depth", "3", "-t", "LIST(LIST(UINT32))")
	require.NoError(t, err)
	assert.Equal(t, "LIST(LIST(UINT32))", out)
}

func TestStdin(t *testing.T) {
	out, err := run(t, `{"x": [1.5, 2], "y": []}`, "encode", "-t", "DICTIONARY(STRING,LIST(FLOAT))", "-")
	require.NoError(t, err)
	back, err := run(t, out, "decode", "-t", "DICTIONARY(STRING,LIST(FLOAT))", "-")
	require.NoError(t, err)
	assert.Equal(t, `{"x":[1.5,2],"y":[]}`, back)
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		expr  string
		value string
	}{
		{expr: "TUPLE(UINT64,STRING,BOOL)", value: `[18446744073709551615,"héllo",false]`},
		{expr: "SET(STRING)", value: `["a","b","c"]`},
		{expr: "DICTIONARY(SINT32,LIST(DOUBLE))", value: `[[-3,[0.25]],[7,[]]]`},
		{expr: "LIST(TUPLE(ENUMERATION(SpaceCenter.VesselSituation),FLOAT))", value: `[[2,0.5],[-1,-8]]`},
		{expr: "LIST(CLASS(SpaceCenter.Part))", value: `[1,null,3]`},
		{expr: "SET(TUPLE(UINT32,STRING))", value: `[[1,"a"],[2,"b"]]`},
		{expr: "DICTIONARY(BYTES,UINT32)", value: `[["AQ==",5],["Ag==",6]]`},
		{expr: "DICTIONARY(LIST(SINT32),BOOL)", value: `[[[-1,2],true]]`},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			encoded, err := run(t, "", "encode", "-t", tc.expr, tc.value)
			require.NoError(t, err)
			decoded, err := run(t, "", "decode", "-t", tc.expr, encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.value, decoded)
		})
	}
}

func TestVerbose(t *testing.T) {
	out, err := run(t, "", "encode", "-v", "-t", "BOOL", "true")
	require.NoError(t, err)
	assert.Equal(t, "01", out)
}
