package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/idelchi/vaultseal/internal/device"
)

// gcmCodec is the Extended scheme: one AES-256-GCM message with a 16-byte nonce.
// The tag lives in the header, written back after sealing.
type gcmCodec struct {
	source device.KeyMaterialSource
	path   device.Path
}

func (c gcmCodec) aead(ctx context.Context, h *Header) (cipher.AEAD, error) {
	key, err := deriveLocalKey(ctx, c.source, c.path, h.KDF, SchemeExtended, AesKeySize)
	if err != nil {
		return nil, err
	}

	defer key.Release()

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return aead, nil
}

func (c gcmCodec) seal(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error) {
	plaintext, err := io.ReadAll(src)
	if err != nil {
		return 0, fmt.Errorf("reading input: %w", err)
	}

	if len(plaintext) == 0 {
		return 0, nil
	}

	aead, err := c.aead(ctx, h)
	if err != nil {
		return 0, err
	}

	sealed := aead.Seal(nil, h.IV, plaintext, h.associatedData())
	body, tag := sealed[:len(sealed)-aead.Overhead()], sealed[len(sealed)-aead.Overhead():]

	if _, err := dst.Write(body); err != nil {
		return 0, fmt.Errorf("writing ciphertext: %w", err)
	}

	h.Tag = tag

	return 1, nil
}

func (c gcmCodec) open(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error) {
	body, err := io.ReadAll(src)
	if err != nil {
		return 0, fmt.Errorf("reading input: %w", err)
	}

	if len(body) == 0 {
		return 0, nil
	}

	aead, err := c.aead(ctx, h)
	if err != nil {
		return 0, err
	}

	sealed := make([]byte, 0, len(body)+len(h.Tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, h.Tag...)

	plaintext, err := aead.Open(nil, h.IV, sealed, h.associatedData())
	if err != nil {
		return 0, &IntegrityMismatchError{Cause: fmt.Errorf("authenticating ciphertext: %w", err)}
	}

	if _, err := dst.Write(plaintext); err != nil {
		return 0, fmt.Errorf("writing plaintext: %w", err)
	}

	return 1, nil
}
