package device

import (
	"context"
	"sync"
)

// Soft is an in-process oracle derived from a seed.
// It computes the same transform as the hardware for the same seed.
type Soft struct {
	mu     sync.Mutex
	root   *node
	nodes  map[string]*node
	closed bool
}

// NewSoft builds an oracle from a 16..64 byte seed.
func NewSoft(seed []byte) (*Soft, error) {
	root, err := newMasterNode(seed)
	if err != nil {
		return nil, err
	}

	return &Soft{root: root, nodes: make(map[string]*node)}, nil
}

func (s *Soft) nodeAt(path Path) (*node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("derive", ErrClosed)
	}

	key := path.String()
	if n, ok := s.nodes[key]; ok {
		return n, nil
	}

	n, err := s.root.derive(path)
	if err != nil {
		return nil, err
	}

	s.nodes[key] = n

	return n, nil
}

// Transform implements Transformer.
func (s *Soft) Transform(ctx context.Context, dir Direction, path Path, keyName string, iv, block []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := s.nodeAt(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("transform", ErrClosed)
	}

	return cipherKeyValue(n.key.Bytes(), keyName, dir, iv, block)
}

// PublicKeyMaterial implements KeyMaterialSource.
func (s *Soft) PublicKeyMaterial(ctx context.Context, path Path) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := s.nodeAt(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("public key", ErrClosed)
	}

	return n.publicKey(), nil
}

// Close wipes all derived keys.
func (s *Soft) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	for _, n := range s.nodes {
		n.release()
	}

	s.root.release()
	s.nodes = nil
	s.closed = true

	return nil
}
