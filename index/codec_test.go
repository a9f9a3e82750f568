package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("market history "), 64)
	for _, compress := range []bool{false, true} {
		sealed, err := sealValue(raw, compress)
		require.NoError(t, err)
		if compress {
			assert.Less(t, len(sealed), len(raw))
		} else {
			assert.Len(t, sealed, len(raw)+envelopeOverhead)
		}

		got, err := openValue(sealed)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	sealed, err := sealValue(nil, false)
	require.NoError(t, err)
	got, err := openValue(sealed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnvelopeDetectsCorruption(t *testing.T) {
	sealed, err := sealValue([]byte("record"), false)
	require.NoError(t, err)

	flipped := bytes.Clone(sealed)
	flipped[2] ^= 0x40
	_, err = openValue(flipped)
	assert.ErrorIs(t, err, ErrCorruptEnvelope)
	assert.ErrorIs(t, err, ErrEngine)

	_, err = openValue(sealed[:4])
	assert.ErrorIs(t, err, ErrCorruptEnvelope)
}
