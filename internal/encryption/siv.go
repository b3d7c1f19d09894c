package encryption

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	aes_sivpb "github.com/tink-crypto/tink-go/v2/proto/aes_siv_go_proto"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"
	"github.com/tink-crypto/tink-go/v2/tink"

	"google.golang.org/protobuf/proto"

	"github.com/idelchi/vaultseal/internal/device"
)

// sivOverhead is the synthetic IV prepended by AES-SIV.
const sivOverhead = 16

// sivCodec is the Deterministic scheme: AES-SIV per chunk, each segment prefixed
// with its uint32 big-endian length and bound to the header and its index.
type sivCodec struct {
	source device.KeyMaterialSource
	path   device.Path
}

func (c sivCodec) primitive(ctx context.Context, h *Header) (tink.DeterministicAEAD, error) {
	key, err := deriveLocalKey(ctx, c.source, c.path, h.KDF, SchemeDeterministic, AesSivKeySize)
	if err != nil {
		return nil, err
	}

	defer key.Release()

	kh, err := newDeterministicAEADKeyHandle(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating keyset handle: %w", err)
	}

	primitive, err := daead.New(kh)
	if err != nil {
		return nil, fmt.Errorf("creating DeterministicAEAD: %w", err)
	}

	return primitive, nil
}

func (c sivCodec) seal(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error) {
	primitive, err := c.primitive(ctx, h)
	if err != nil {
		return 0, err
	}

	sw := newStreamingWriter(dst, primitive, h.associatedData(), h.ChunkSize)

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.CopyBuffer(sw, src, buf); err != nil {
		return int(sw.chunkIndex), fmt.Errorf("writing to stream: %w", err) //nolint:gosec
	}

	if err := sw.Close(); err != nil {
		return int(sw.chunkIndex), err //nolint:gosec
	}

	return int(sw.chunkIndex), nil //nolint:gosec
}

func (c sivCodec) open(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error) {
	primitive, err := c.primitive(ctx, h)
	if err != nil {
		return 0, err
	}

	bufReader := bufio.NewReader(src)
	limit := uint32(h.ChunkSize + sivOverhead) //nolint:gosec

	var index uint64

	for {
		// Read chunk size
		var size uint32
		if err := binary.Read(bufReader, binary.BigEndian, &size); err != nil {
			if errors.Is(err, io.EOF) {
				return int(index), nil //nolint:gosec
			}

			return int(index), &IntegrityMismatchError{Cause: fmt.Errorf("reading chunk %d size: %w", index, err)} //nolint:gosec
		}

		if size > limit {
			return int(index), &IntegrityMismatchError{Cause: fmt.Errorf("chunk %d declares %d bytes", index, size)} //nolint:gosec
		}

		encrypted := make([]byte, size)
		if _, err := io.ReadFull(bufReader, encrypted); err != nil {
			return int(index), &IntegrityMismatchError{Cause: fmt.Errorf("reading chunk %d: %w", index, err)} //nolint:gosec
		}

		decrypted, err := primitive.DecryptDeterministically(encrypted, buildChunkAssociatedData(h.associatedData(), index))
		if err != nil {
			return int(index), &IntegrityMismatchError{Cause: fmt.Errorf("decrypting chunk %d: %w", index, err)} //nolint:gosec
		}

		if _, err := dst.Write(decrypted); err != nil {
			return int(index), fmt.Errorf("writing decrypted chunk: %w", err) //nolint:gosec
		}

		index++
	}
}

// streamingWriter wraps an io.Writer with deterministic encryption capabilities.
type streamingWriter struct {
	w          io.Writer
	daead      tink.DeterministicAEAD
	buffer     []byte
	header     []byte
	chunkSize  int
	chunkIndex uint64
}

// newStreamingWriter creates a writer that encrypts data in chunks using the provided DAEAD.
func newStreamingWriter(w io.Writer, daead tink.DeterministicAEAD, header []byte, chunkSize int) *streamingWriter {
	hdrCopy := make([]byte, len(header))
	copy(hdrCopy, header)

	return &streamingWriter{
		w:         w,
		daead:     daead,
		buffer:    make([]byte, 0, chunkSize),
		header:    hdrCopy,
		chunkSize: chunkSize,
	}
}

// Write implements io.Writer, buffering data until a complete chunk can be encrypted.
func (sw *streamingWriter) Write(data []byte) (int, error) {
	sw.buffer = append(sw.buffer, data...)

	for len(sw.buffer) >= sw.chunkSize {
		if err := sw.flushChunk(sw.chunkSize); err != nil {
			return 0, err
		}
	}

	return len(data), nil
}

// Close implements io.Closer, encrypting any remaining buffered data.
func (sw *streamingWriter) Close() error {
	if len(sw.buffer) > 0 {
		return sw.flushChunk(len(sw.buffer))
	}

	return nil
}

// flushChunk encrypts and writes a chunk of the specified size.
func (sw *streamingWriter) flushChunk(size int) error {
	chunk := make([]byte, size)
	copy(chunk, sw.buffer[:size])

	ad := buildChunkAssociatedData(sw.header, sw.chunkIndex)

	encrypted, err := sw.daead.EncryptDeterministically(chunk, ad)
	if err != nil {
		return fmt.Errorf("encrypting chunk: %w", err)
	}

	// Write ciphertext length followed by ciphertext
	if err := binary.Write(sw.w, binary.BigEndian, uint32(len(encrypted))); err != nil { //nolint:gosec
		return fmt.Errorf("writing chunk size: %w", err)
	}

	if _, err := sw.w.Write(encrypted); err != nil {
		return fmt.Errorf("writing encrypted chunk: %w", err)
	}

	sw.buffer = sw.buffer[size:]
	sw.chunkIndex++

	return nil
}

func buildChunkAssociatedData(header []byte, index uint64) []byte {
	const chunkIndexSize = 8

	ad := make([]byte, len(header)+chunkIndexSize)
	copy(ad, header)
	binary.BigEndian.PutUint64(ad[len(header):], index)

	return ad
}

// newDeterministicAEADKeyHandle creates a Tink keyset handle for AES-SIV from raw key bytes.
func newDeterministicAEADKeyHandle(key []byte) (*keyset.Handle, error) {
	aesSivKey := &aes_sivpb.AesSivKey{
		Version:  0,
		KeyValue: key,
	}

	serializedKey, err := proto.Marshal(aesSivKey)
	if err != nil {
		return nil, fmt.Errorf("serializing AesSivKey: %w", err)
	}

	keyData := &tinkpb.KeyData{
		TypeUrl:         "type.googleapis.com/google.crypto.tink.AesSivKey",
		Value:           serializedKey,
		KeyMaterialType: tinkpb.KeyData_SYMMETRIC,
	}

	keySet := &tinkpb.Keyset{
		PrimaryKeyId: 1,
		Key: []*tinkpb.Keyset_Key{
			{
				KeyData:          keyData,
				Status:           tinkpb.KeyStatusType_ENABLED,
				KeyId:            1,
				OutputPrefixType: tinkpb.OutputPrefixType_RAW,
			},
		},
	}

	serializedKeyset, err := proto.Marshal(keySet)
	if err != nil {
		return nil, fmt.Errorf("serializing keyset: %w", err)
	}

	keySetHandle, err := insecurecleartextkeyset.Read(
		keyset.NewBinaryReader(bytes.NewReader(serializedKeyset)))
	if err != nil {
		return nil, fmt.Errorf("creating keyset handle: %w", err)
	}

	return keySetHandle, nil
}
