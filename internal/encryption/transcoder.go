package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/idelchi/vaultseal/internal/device"
)

// DefaultChunkSize is the plaintext chunk size.
const DefaultChunkSize = 1024

// ErrMisalignedSegment is the cause when a ciphertext segment is not block aligned.
var ErrMisalignedSegment = errors.New("ciphertext segment is not block aligned")

// Transcoder pads fixed-size chunks and runs each through the device transform.
// Every ciphertext segment except the last is exactly PaddedSize(ChunkSize) bytes,
// which is how segment boundaries are found again on decryption.
type Transcoder struct {
	Oracle    device.Transformer
	Path      device.Path
	KeyName   string
	IV        []byte
	ChunkSize int
}

// SegmentSize is the ciphertext size of a full chunk.
func (t *Transcoder) SegmentSize() int {
	return PaddedSize(t.ChunkSize, device.BlockSize)
}

// Encrypt reads r to EOF and writes ciphertext segments to w.
// It returns the number of chunks; zero chunks means r was empty and nothing was written.
func (t *Transcoder) Encrypt(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	chunk := make([]byte, t.ChunkSize, t.SegmentSize())

	var chunks int

	for {
		n, err := io.ReadFull(r, chunk[:t.ChunkSize])
		if n > 0 {
			padded := Pad(chunk[:n], device.BlockSize)

			out, err := t.Oracle.Transform(ctx, device.Encrypt, t.Path, t.KeyName, t.IV, padded)
			if err != nil {
				return chunks, fmt.Errorf("chunk %d: %w", chunks, err)
			}

			if _, err := w.Write(out); err != nil {
				return chunks, fmt.Errorf("writing chunk %d: %w", chunks, err)
			}

			chunks++
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}

		if err != nil {
			return chunks, fmt.Errorf("reading input: %w", err)
		}
	}
}

// Decrypt reads ciphertext segments from r and writes plaintext to w.
// Malformed segments and padding are reported as IntegrityMismatchError.
func (t *Transcoder) Decrypt(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	segment := make([]byte, t.SegmentSize())

	var chunks int

	for {
		n, err := io.ReadFull(r, segment)
		if n > 0 {
			if n%device.BlockSize != 0 {
				return chunks, &IntegrityMismatchError{
					Cause: fmt.Errorf("%w: segment %d has %d bytes", ErrMisalignedSegment, chunks, n),
				}
			}

			plain, err := t.Oracle.Transform(ctx, device.Decrypt, t.Path, t.KeyName, t.IV, segment[:n])
			if err != nil {
				return chunks, fmt.Errorf("segment %d: %w", chunks, err)
			}

			unpadded, err := Unpad(plain, device.BlockSize)
			if err != nil {
				return chunks, &IntegrityMismatchError{Cause: fmt.Errorf("segment %d: %w", chunks, err)}
			}

			if _, err := w.Write(unpadded); err != nil {
				return chunks, fmt.Errorf("writing segment %d: %w", chunks, err)
			}

			chunks++
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}

		if err != nil {
			return chunks, fmt.Errorf("reading input: %w", err)
		}
	}
}
