package scale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCompactUint64(t *testing.T) {
	scenarios := []struct {
		name string
		in   uint64
		want []byte
	}{
		{"singleByteZero", 0, []byte{0x00}},
		{"singleByteMax", 63, []byte{0xfc}},
		{"twoByteMin", 64, []byte{0x01, 0x01}},
		{"twoByteMax", 1<<14 - 1, []byte{0xfd, 0xff}},
		{"fourByteMin", 1 << 14, []byte{0x02, 0x00, 0x01, 0x00}},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			assert.Equal(t, sc.want, EncodeCompactUint64(sc.in))
		})
	}
}

func TestEncodeDecodeCompactRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40} {
		encoded := EncodeCompactUint64(n)
		prefix, remainder, length, err := DecodeCompactLengthPrefix(append(encoded, 0xde, 0xad))
		require.NoError(t, err)
		assert.Equal(t, encoded, prefix)
		assert.Equal(t, n, length)
		assert.Equal(t, []byte{0xde, 0xad}, remainder)
	}
}

func TestDecodeCompactLengthPrefixErrors(t *testing.T) {
	_, _, _, err := DecodeCompactLengthPrefix(nil)
	assert.Error(t, err)

	_, _, _, err = DecodeCompactLengthPrefix([]byte{0b01})
	assert.Error(t, err)

	_, _, _, err = DecodeCompactLengthPrefix([]byte{0b10, 0x00})
	assert.Error(t, err)
}
