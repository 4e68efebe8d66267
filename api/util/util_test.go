package util

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberUnmarshal(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "json number", in: `12`, want: "12"},
		{name: "decimal string", in: `"12"`, want: "12"},
		{
			name: "beyond uint64",
			in:   `"115792089237316195423570985008687907853269984665640564039457584007913129639935"`,
			want: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		},
		{name: "zero", in: `0`, want: "0"},
		{name: "negative", in: `-1`, wantErr: true},
		{name: "fraction", in: `1.5`, wantErr: true},
		{name: "exponent", in: `1e3`, wantErr: true},
		{name: "hex string", in: `"0x10"`, wantErr: true},
		{name: "empty string", in: `""`, wantErr: true},
		{name: "bool", in: `true`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var n Number
			err := json.Unmarshal([]byte(tc.in), &n)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNumber)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n.String())
		})
	}
}

func TestNumberUint64(t *testing.T) {
	n := NewNumber(256)
	_, err := n.Uint64(8)
	assert.ErrorIs(t, err, ErrInvalidNumber)

	v, err := n.Uint64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), v)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, `"256"`, string(out))
}

func TestHexFormats(t *testing.T) {
	testCases := []struct {
		in        string
		bytes32   bool
		signature bool
	}{
		{in: "0x", bytes32: true},
		{in: "0x" + strings.Repeat("aB", 32), bytes32: true},
		{in: "0x" + strings.Repeat("a", 63)},
		{in: strings.Repeat("a", 64)},
		{in: "0x" + strings.Repeat("0f", 65), signature: true},
		{in: "0x" + strings.Repeat("0g", 65)},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.bytes32, IsBytes32(tc.in), tc.in)
		assert.Equal(t, tc.signature, IsSignature(tc.in), tc.in)
	}
}
