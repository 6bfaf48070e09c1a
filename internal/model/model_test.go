package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	h[0] = 0xde
	h[31] = 0xad

	hexStr := h.Hex()
	assert.Equal(t, "0x"+"de"+"000000000000000000000000000000000000000000000000000000000000"+"ad", hexStr)

	back, err := HashFromHex(hexStr)
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestHashFromHexWithoutPrefix(t *testing.T) {
	h, err := HashFromHex("000000000000000000000000000000000000000000000000000000000000000f")
	require.NoError(t, err)
	assert.Equal(t, byte(0x0f), h[31])
}

func TestHashFromHexInvalid(t *testing.T) {
	_, err := HashFromHex("0xzz")
	assert.Error(t, err)
}

func TestRetryStateTransitions(t *testing.T) {
	assert.False(t, RetryStateFresh.Complete())
	assert.False(t, RetryStateFresh.Retry())

	assert.True(t, RetryStateRetry.Retry())
	assert.False(t, RetryStateRetry.Complete())

	assert.True(t, RetryStateComplete.Complete())
	assert.False(t, RetryStateComplete.Retry())

	assert.False(t, RetryStateFailedExhausted.Complete())
	assert.False(t, RetryStateFailedExhausted.Retry())
}
