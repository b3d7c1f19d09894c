package device

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Device message type numbers.
const (
	msgInitialize        uint16 = 0
	msgFailure           uint16 = 3
	msgGetPublicKey      uint16 = 11
	msgPublicKey         uint16 = 12
	msgFeatures          uint16 = 17
	msgPinMatrixRequest  uint16 = 18
	msgCipherKeyValue    uint16 = 23
	msgButtonRequest     uint16 = 26
	msgButtonAck         uint16 = 27
	msgPassphraseRequest uint16 = 41
	msgCipheredKeyValue  uint16 = 48
)

const frameHeaderSize = 6

// ErrMalformedMessage is returned for undecodable device messages.
var ErrMalformedMessage = errors.New("malformed device message")

// encodeFrame renders a message as the hex body expected by the bridge.
func encodeFrame(msgType uint16, payload []byte) string {
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame, msgType)
	binary.BigEndian.PutUint32(frame[2:], uint32(len(payload))) //nolint:gosec

	return hex.EncodeToString(append(frame, payload...))
}

// decodeFrame parses a hex bridge body into type and payload.
func decodeFrame(body string) (uint16, []byte, error) {
	raw, err := hex.DecodeString(body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if len(raw) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedMessage, len(raw))
	}

	msgType := binary.BigEndian.Uint16(raw)
	length := binary.BigEndian.Uint32(raw[2:])

	if uint64(length) != uint64(len(raw)-frameHeaderSize) {
		return 0, nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrMalformedMessage, length, len(raw)-frameHeaderSize)
	}

	return msgType, raw[frameHeaderSize:], nil
}

func appendAddress(b []byte, path Path) []byte {
	for _, index := range path {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(index))
	}

	return b
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)

	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// cipherKeyValueRequest is the CipherKeyValue message.
type cipherKeyValueRequest struct {
	Path    Path
	Key     string
	Value   []byte
	Encrypt bool
	IV      []byte
}

func (m *cipherKeyValueRequest) marshal() []byte {
	b := appendAddress(nil, m.Path)

	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Key)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Value)
	b = appendBool(b, 4, m.Encrypt)
	b = appendBool(b, 5, false)
	b = appendBool(b, 6, false)

	if len(m.IV) > 0 {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, m.IV)
	}

	return b
}

func (m *cipherKeyValueRequest) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Path = append(m.Path, uint32(v)) //nolint:gosec

			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Key = v

			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Value = append([]byte(nil), v...)

			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Encrypt = protowire.DecodeBool(v)

			return n, nil
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.IV = append([]byte(nil), v...)

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// getPublicKeyRequest is the GetPublicKey message.
type getPublicKeyRequest struct {
	Path Path
}

func (m *getPublicKeyRequest) marshal() []byte {
	b := appendAddress(nil, m.Path)

	return appendBool(b, 3, false)
}

func (m *getPublicKeyRequest) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.Path = append(m.Path, uint32(v)) //nolint:gosec

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// marshalPublicKey builds a PublicKey message carrying only node.public_key.
func marshalPublicKey(pub []byte) []byte {
	var node []byte

	node = protowire.AppendTag(node, 6, protowire.BytesType)
	node = protowire.AppendBytes(node, pub)

	b := protowire.AppendTag(nil, 1, protowire.BytesType)

	return protowire.AppendBytes(b, node)
}

// unmarshalPublicKey extracts node.public_key from a PublicKey message.
func unmarshalPublicKey(b []byte) ([]byte, error) {
	var pub []byte

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		node, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		return n, walkFields(node, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 6 && typ == protowire.BytesType {
				v, n := protowire.ConsumeBytes(b)
				pub = append([]byte(nil), v...)

				return n, nil
			}

			return protowire.ConsumeFieldValue(num, typ, b), nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(pub) == 0 {
		return nil, fmt.Errorf("%w: public key missing", ErrMalformedMessage)
	}

	return pub, nil
}

func marshalBytesField(num protowire.Number, v []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)

	return protowire.AppendBytes(b, v)
}

// unmarshalBytesField returns the first bytes field num in b.
func unmarshalBytesField(b []byte, want protowire.Number) ([]byte, error) {
	var out []byte

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == want && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			out = append([]byte(nil), v...)

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})

	return out, err
}

// unmarshalFailure decodes a Failure message.
func unmarshalFailure(b []byte) *FailureError {
	failure := &FailureError{}

	_ = walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			failure.Code = v

			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			failure.Message = v

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})

	return failure
}

func marshalFailure(code uint64, message string) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, code)
	b = protowire.AppendTag(b, 2, protowire.BytesType)

	return protowire.AppendString(b, message)
}

// walkFields calls fn for every field in b; fn consumes the value and returns its length.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, protowire.ParseError(n))
		}

		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}

		if m < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, protowire.ParseError(m))
		}

		b = b[m:]
	}

	return nil
}
