package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/secret"
)

const (
	// AesKeySize is the key size of the Extended scheme.
	AesKeySize = 32
	// AesSivKeySize is the key size of the Deterministic scheme.
	AesSivKeySize = 64
)

// deriveLocalKey fetches public material for path and turns it into a key of size bytes.
// The returned buffer must be released by the caller.
func deriveLocalKey(
	ctx context.Context,
	source device.KeyMaterialSource,
	path device.Path,
	kdf KDF,
	scheme Scheme,
	size int,
) (*secret.Buffer, error) {
	pub, err := source.PublicKeyMaterial(ctx, path)
	if err != nil {
		return nil, err
	}

	defer secret.Zero(pub)

	switch kdf {
	case KDFLegacy:
		text := []byte(hex.EncodeToString(pub))
		defer secret.Zero(text)

		if size > len(text) {
			return nil, fmt.Errorf("%w: legacy derivation yields %d bytes, need %d", ErrUnsupportedScheme, len(text), size)
		}

		return secret.From(append([]byte(nil), text[:size]...)), nil
	case KDFHKDF, "":
		reader := hkdf.New(sha256.New, pub, nil, []byte("vaultseal/"+string(scheme)+"/"+path.String()))

		key := secret.New(size)
		if _, err := io.ReadFull(reader, key.Bytes()); err != nil {
			key.Release()

			return nil, fmt.Errorf("deriving %s key: %w", scheme, err)
		}

		return key, nil
	default:
		return nil, fmt.Errorf("%w: key derivation %q", ErrUnsupportedScheme, kdf)
	}
}
