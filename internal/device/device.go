// Package device talks to the keyed oracle that holds the master secret.
//
// Two shapes are exposed. A Transformer performs a keyed block transform without
// ever releasing key material. A KeyMaterialSource returns public material from
// which the caller derives a local key. Both backends (software and bridge) implement
// both shapes behind Session.
package device

import (
	"context"
	"fmt"
	"io"
)

// Transformer is the keyed block transform (the device's CipherKeyValue).
type Transformer interface {
	// Transform encrypts or decrypts block under the key identified by path and keyName.
	// len(block) must be a multiple of BlockSize; the output has the same length.
	// iv may be nil to let the device derive one from the key.
	Transform(ctx context.Context, dir Direction, path Path, keyName string, iv, block []byte) ([]byte, error)
}

// KeyMaterialSource returns key material for local derivation.
type KeyMaterialSource interface {
	// PublicKeyMaterial returns the compressed public key at path.
	PublicKeyMaterial(ctx context.Context, path Path) ([]byte, error)
}

// Session is an open connection to an oracle.
type Session interface {
	Transformer
	KeyMaterialSource
	io.Closer
}

// BlockLimiter is implemented by sessions that cap the size of a single transform.
type BlockLimiter interface {
	MaxBlockSize() int
}

// Kind selects an oracle backend.
type Kind string

const (
	// KindSoft emulates the device in process from a seed.
	KindSoft Kind = "soft"
	// KindBridge talks to a hardware device through the bridge daemon.
	KindBridge Kind = "bridge"
)

// Options configure Open.
type Options struct {
	Kind      Kind
	Seed      []byte
	BridgeURL string
}

// Open establishes a session. Every failure is an OracleUnavailableError.
func Open(ctx context.Context, opts Options) (Session, error) {
	switch opts.Kind {
	case KindSoft:
		session, err := NewSoft(opts.Seed)
		if err != nil {
			return nil, unavailable("open soft device", err)
		}

		return session, nil
	case KindBridge:
		session, err := OpenBridge(ctx, opts.BridgeURL, nil)
		if err != nil {
			return nil, err
		}

		return session, nil
	default:
		return nil, unavailable("open", fmt.Errorf("unknown device kind %q", opts.Kind))
	}
}
