// Package secret provides a fixed-size buffer for key material that is zeroed when released.
package secret

import (
	"runtime"
	"sync"
)

// noCopy trips `go vet -copylocks` when a Buffer is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer owns a single allocation of secret bytes.
// Callers must not retain the slice returned by Bytes after Release.
type Buffer struct {
	_ noCopy

	mu   sync.Mutex
	data []byte
}

// New allocates a zeroed buffer of size bytes.
// A finalizer wipes the bytes if the owner forgets to call Release.
func New(size int) *Buffer {
	buf := &Buffer{data: make([]byte, size)}

	runtime.SetFinalizer(buf, (*Buffer).Release)

	return buf
}

// From copies src into a new buffer and wipes src.
func From(src []byte) *Buffer {
	buf := New(len(src))

	copy(buf.data, src)
	Zero(src)

	return buf
}

// Bytes returns the underlying secret. Nil after Release.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.data
}

// Release zeroes the buffer. Safe to call more than once.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}

	Zero(b.data)
	b.data = nil

	runtime.SetFinalizer(b, nil)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
