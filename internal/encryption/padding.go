package encryption

import (
	"bytes"
)

// Pad appends n bytes of value n so that the result is a multiple of blockSize.
// n is in [1, blockSize]: a full block is added to aligned input.
func Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize

	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// PaddedSize returns the length of Pad's output for n input bytes.
func PaddedSize(n, blockSize int) int {
	return n + blockSize - n%blockSize
}

// Unpad strips padding added by Pad.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, &MalformedPaddingError{Value: 0, Length: 0}
	}

	padding := int(data[length-1])
	if padding == 0 || padding > length || padding > blockSize {
		return nil, &MalformedPaddingError{Value: padding, Length: length}
	}

	// Verify padding
	for i := length - padding; i < length; i++ {
		if data[i] != byte(padding) {
			return nil, &MalformedPaddingError{Value: padding, Length: length}
		}
	}

	return data[:length-padding], nil
}
