package encryption_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/vaultseal/internal/encryption"
)

func TestPadRoundTrip(t *testing.T) {
	t.Parallel()

	const blockSize = 16

	for n := range 10 * blockSize {
		data := bytes.Repeat([]byte{0x5a}, n)

		padded := encryption.Pad(append([]byte(nil), data...), blockSize)

		require.Zero(t, len(padded)%blockSize, "n=%d", n)
		require.Equal(t, encryption.PaddedSize(n, blockSize), len(padded))

		added := len(padded) - n
		require.GreaterOrEqual(t, added, 1)
		require.LessOrEqual(t, added, blockSize)

		unpadded, err := encryption.Unpad(padded, blockSize)
		require.NoError(t, err)
		require.Equal(t, data, unpadded, "n=%d", n)
	}
}

func TestPadAlignedAddsFullBlock(t *testing.T) {
	t.Parallel()

	padded := encryption.Pad(make([]byte, 32), 16)

	assert.Len(t, padded, 48)
	assert.Equal(t, bytes.Repeat([]byte{16}, 16), padded[32:])
}

func TestUnpadMalformed(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"empty":          {},
		"zero value":     append(make([]byte, 15), 0),
		"exceeds length": {1, 2, 3, 5},
		"exceeds block":  append(make([]byte, 31), 17),
		"inconsistent":   append(bytes.Repeat([]byte{4}, 13), 3, 4, 4),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := encryption.Unpad(data, 16)
			require.ErrorIs(t, err, encryption.ErrMalformedPadding)

			var malformed *encryption.MalformedPaddingError
			require.ErrorAs(t, err, &malformed)
		})
	}
}
