package encryption

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// VersionLine is the header version of the line variant.
	VersionLine = 1
	// VersionStructured is the header version of the structured variant.
	VersionStructured = 2

	// IVSize is the size of the IV field.
	IVSize = 16
	// TagSize is the size of the authentication tag field.
	TagSize = 16

	recordLengthSize = 4
	maxRecordSize    = 64 << 10
	maxLineSize      = 128
)

// Header is the metadata preceding ciphertext.
// The line variant only carries Digest; the structured variant carries everything.
type Header struct {
	Version   int
	KeyPath   string
	KeyName   string
	Digest    string
	Scheme    Scheme
	ChunkSize int
	KDF       KDF
	IV        []byte
	Tag       []byte

	// raw holds the encoded or decoded bytes, bound as associated data by some schemes.
	raw []byte
}

// Raw returns the header bytes as written or read.
func (h *Header) Raw() []byte { return h.raw }

// associatedData is the header without its tag field.
func (h *Header) associatedData() []byte {
	_, tagSize := fixedFields(h.Scheme)
	if h.Version != VersionStructured || tagSize == 0 {
		return h.raw
	}

	return h.raw[:len(h.raw)-tagSize]
}

// record is the JSON form of the structured header.
type record struct {
	Version    int    `json:"version"`
	Path       string `json:"path"`
	Key        string `json:"key"`
	Digest     string `json:"digest"`
	Encryption Scheme `json:"encryption"`
	ChunkSize  int    `json:"chunk_size"`
	KDF        KDF    `json:"kdf,omitempty"`
}

// fixedFields returns the IV and tag sizes a scheme stores after the record.
func fixedFields(scheme Scheme) (ivSize, tagSize int) {
	switch scheme {
	case SchemeOnboard:
		return IVSize, 0
	case SchemeExtended:
		return IVSize, TagSize
	default:
		return 0, 0
	}
}

// Framer encodes and decodes one header variant.
type Framer interface {
	Format() Format
	// Encode renders h. Tag bytes are zero-filled when h.Tag is unset.
	Encode(h *Header) ([]byte, error)
	// Decode reads a header from r, leaving r positioned at the ciphertext.
	Decode(r *bufio.Reader) (*Header, error)
	// TagOffset is the byte offset of the tag field, or -1.
	TagOffset(h *Header) int
}

// NewFramer returns the framer for format.
func NewFramer(format Format) (Framer, error) {
	switch format {
	case FormatLine:
		return lineFramer{}, nil
	case FormatStructured:
		return structuredFramer{}, nil
	default:
		return nil, fmt.Errorf("%w: header format %q", ErrMalformedHeader, format)
	}
}

type lineFramer struct{}

func (lineFramer) Format() Format { return FormatLine }

func (lineFramer) Encode(h *Header) ([]byte, error) {
	if h.Scheme != SchemeOnboard {
		return nil, fmt.Errorf("%w: %s cannot be stored with a line header", ErrUnsupportedScheme, h.Scheme)
	}

	if len(h.Digest) == 0 || len(h.Digest) > maxLineSize {
		return nil, fmt.Errorf("%w: digest of %d characters", ErrMalformedHeader, len(h.Digest))
	}

	h.Version = VersionLine
	h.raw = append([]byte(h.Digest), '\n')

	return h.raw, nil
}

func (lineFramer) Decode(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadSlice('\n')

	switch {
	case errors.Is(err, io.EOF):
		return nil, &TruncatedHeaderError{Want: len(line) + 1, Got: len(line)}
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, fmt.Errorf("%w: no line terminator", ErrMalformedHeader)
	case err != nil:
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if len(line)-1 > maxLineSize {
		return nil, fmt.Errorf("%w: digest line of %d bytes", ErrMalformedHeader, len(line)-1)
	}

	return &Header{
		Version: VersionLine,
		Digest:  string(line[:len(line)-1]),
		Scheme:  SchemeOnboard,
		raw:     append([]byte(nil), line...),
	}, nil
}

func (lineFramer) TagOffset(*Header) int { return -1 }

type structuredFramer struct{}

func (structuredFramer) Format() Format { return FormatStructured }

func (structuredFramer) Encode(h *Header) ([]byte, error) {
	ivSize, tagSize := fixedFields(h.Scheme)

	if h.Scheme != SchemeOnboard && h.Scheme != SchemeExtended && h.Scheme != SchemeDeterministic {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, h.Scheme)
	}

	if len(h.IV) != ivSize {
		return nil, fmt.Errorf("%w: %s needs a %d byte IV, have %d", ErrMalformedHeader, h.Scheme, ivSize, len(h.IV))
	}

	h.Version = VersionStructured

	rec, err := json.Marshal(record{
		Version:    h.Version,
		Path:       h.KeyPath,
		Key:        h.KeyName,
		Digest:     h.Digest,
		Encryption: h.Scheme,
		ChunkSize:  h.ChunkSize,
		KDF:        h.KDF,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding header record: %w", err)
	}

	if len(rec) > maxRecordSize {
		return nil, fmt.Errorf("%w: record of %d bytes", ErrMalformedHeader, len(rec))
	}

	var buf bytes.Buffer

	buf.Grow(recordLengthSize + len(rec) + ivSize + tagSize)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(rec))) //nolint:gosec // bounded by maxRecordSize
	buf.Write(rec)
	buf.Write(h.IV)

	tag := make([]byte, tagSize)
	copy(tag, h.Tag)
	buf.Write(tag)

	h.raw = buf.Bytes()

	return h.raw, nil
}

func (structuredFramer) Decode(r *bufio.Reader) (*Header, error) {
	prefix := make([]byte, recordLengthSize)
	if n, err := io.ReadFull(r, prefix); err != nil {
		return nil, truncated(err, recordLengthSize, n)
	}

	length := int(binary.BigEndian.Uint32(prefix))
	if length == 0 || length > maxRecordSize {
		return nil, fmt.Errorf("%w: declared record length %d", ErrMalformedHeader, length)
	}

	rec := make([]byte, length)
	if n, err := io.ReadFull(r, rec); err != nil {
		return nil, truncated(err, length, n)
	}

	var decoded record
	if err := json.Unmarshal(rec, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrMalformedHeader, errBadRecord, err)
	}

	if decoded.Version != VersionStructured {
		return nil, fmt.Errorf("%w: %w: unsupported version %d", ErrMalformedHeader, errBadRecord, decoded.Version)
	}

	scheme, err := ParseScheme(string(decoded.Encryption))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRecord, err)
	}

	if decoded.ChunkSize <= 0 && scheme != SchemeExtended {
		return nil, fmt.Errorf("%w: %w: chunk size %d", ErrMalformedHeader, errBadRecord, decoded.ChunkSize)
	}

	ivSize, tagSize := fixedFields(scheme)

	fixed := make([]byte, ivSize+tagSize)
	if n, err := io.ReadFull(r, fixed); err != nil {
		return nil, truncated(err, len(fixed), n)
	}

	raw := make([]byte, 0, recordLengthSize+length+len(fixed))
	raw = append(raw, prefix...)
	raw = append(raw, rec...)
	raw = append(raw, fixed...)

	return &Header{
		Version:   decoded.Version,
		KeyPath:   decoded.Path,
		KeyName:   decoded.Key,
		Digest:    decoded.Digest,
		Scheme:    scheme,
		ChunkSize: decoded.ChunkSize,
		KDF:       decoded.KDF,
		IV:        fixed[:ivSize],
		Tag:       fixed[ivSize:],
		raw:       raw,
	}, nil
}

func (structuredFramer) TagOffset(h *Header) int {
	_, tagSize := fixedFields(h.Scheme)
	if tagSize == 0 {
		return -1
	}

	return len(h.raw) - tagSize
}

func truncated(err error, want, got int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TruncatedHeaderError{Want: want, Got: got}
	}

	return fmt.Errorf("reading header: %w", err)
}
