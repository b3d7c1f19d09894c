package device

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/idelchi/vaultseal/internal/secret"
)

const (
	minSeedSize = 16
	maxSeedSize = 64

	keySize = 32
)

var (
	// ErrInvalidSeed is returned for seeds outside 16..64 bytes.
	ErrInvalidSeed = errors.New("seed must be between 16 and 64 bytes")
	// ErrInvalidChild is returned in the (astronomically rare) case of an unusable child index.
	ErrInvalidChild = errors.New("derived child key is invalid")
)

var masterSecret = []byte("Bitcoin seed") //nolint:gochecknoglobals

// node is an extended private key.
type node struct {
	key       *secret.Buffer
	chainCode *secret.Buffer
}

func (n *node) release() {
	n.key.Release()
	n.chainCode.Release()
}

// newMasterNode derives the root node from a seed.
func newMasterNode(seed []byte) (*node, error) {
	if len(seed) < minSeedSize || len(seed) > maxSeedSize {
		return nil, ErrInvalidSeed
	}

	mac := hmac.New(sha512.New, masterSecret)
	mac.Write(seed)

	return splitNode(mac.Sum(nil))
}

func splitNode(sum []byte) (*node, error) {
	defer secret.Zero(sum)

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(sum[:keySize]); overflow || scalar.IsZero() {
		return nil, ErrInvalidChild
	}

	scalar.Zero()

	return &node{
		key:       secret.From(append([]byte(nil), sum[:keySize]...)),
		chainCode: secret.From(append([]byte(nil), sum[keySize:]...)),
	}, nil
}

// publicKey returns the compressed public key of n.
func (n *node) publicKey() []byte {
	priv := secp256k1.PrivKeyFromBytes(n.key.Bytes())
	defer priv.Zero()

	return priv.PubKey().SerializeCompressed()
}

// child derives the child at index.
func (n *node) child(index uint32) (*node, error) {
	data := make([]byte, 0, 1+keySize+4)

	if index >= HardenedOffset {
		data = append(data, 0x00)
		data = append(data, n.key.Bytes()...)
	} else {
		data = append(data, n.publicKey()...)
	}

	data = binary.BigEndian.AppendUint32(data, index)
	defer secret.Zero(data)

	mac := hmac.New(sha512.New, n.chainCode.Bytes())
	mac.Write(data)

	sum := mac.Sum(nil)
	defer secret.Zero(sum)

	var tweak, parent secp256k1.ModNScalar
	defer tweak.Zero()
	defer parent.Zero()

	if overflow := tweak.SetByteSlice(sum[:keySize]); overflow {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidChild, index)
	}

	parent.SetByteSlice(n.key.Bytes())

	tweak.Add(&parent)
	if tweak.IsZero() {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidChild, index)
	}

	childKey := tweak.Bytes()
	defer secret.Zero(childKey[:])

	return &node{
		key:       secret.From(append([]byte(nil), childKey[:]...)),
		chainCode: secret.From(append([]byte(nil), sum[keySize:]...)),
	}, nil
}

// derive walks path from n, releasing intermediate nodes.
func (n *node) derive(path Path) (*node, error) {
	current := n

	for _, index := range path {
		next, err := current.child(index)

		if current != n {
			current.release()
		}

		if err != nil {
			return nil, err
		}

		current = next
	}

	if current == n {
		// Copy so the caller can release independently of the root.
		return &node{
			key:       secret.From(append([]byte(nil), n.key.Bytes()...)),
			chainCode: secret.From(append([]byte(nil), n.chainCode.Bytes()...)),
		}, nil
	}

	return current, nil
}
