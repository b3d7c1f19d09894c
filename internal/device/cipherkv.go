package device

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"

	"github.com/idelchi/vaultseal/internal/secret"
)

// BlockSize is the block granularity required by the keyed transform.
const BlockSize = aes.BlockSize

// Direction selects the transform direction.
type Direction int

const (
	// Encrypt transforms plaintext blocks into ciphertext blocks.
	Encrypt Direction = iota
	// Decrypt is the inverse of Encrypt.
	Decrypt
)

func (d Direction) String() string {
	if d == Decrypt {
		return "decrypt"
	}

	return "encrypt"
}

// cipherKeyValue reproduces the device's CipherKeyValue computation for a node private key.
// Confirmation flags are always false, which is part of the derived key.
func cipherKeyValue(nodeKey []byte, keyName string, dir Direction, iv, value []byte) ([]byte, error) {
	if len(value)%BlockSize != 0 {
		return nil, ErrInvalidBlock
	}

	mac := hmac.New(sha512.New, nodeKey)
	mac.Write([]byte(keyName))
	mac.Write([]byte("E0"))
	mac.Write([]byte("D0"))

	sum := mac.Sum(nil)
	defer secret.Zero(sum)

	block, err := aes.NewCipher(sum[:32])
	if err != nil {
		return nil, err
	}

	if len(iv) != BlockSize {
		iv = sum[32:48]
	}

	out := make([]byte, len(value))

	if dir == Encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, value)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, value)
	}

	return out, nil
}
