// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is locked, dump-excluded memory holding one secret. A Buffer
// must not be copied; pass the pointer.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// New maps size bytes of anonymous memory, locks it, and excludes it
// from core dumps. The caller must Close the buffer.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return &Buffer{data: data}, nil
}

// NewFromBytes copies source into a new Buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	buffer, err := newCopy(source)
	if err != nil {
		return nil, err
	}
	Zero(source)
	return buffer, nil
}

// NewFromString copies value into a new Buffer. The string itself
// cannot be zeroed; use only for test fixtures and config values that
// already live on the heap.
func NewFromString(value string) (*Buffer, error) {
	return newCopy([]byte(value))
}

// CopyOf copies source into a new Buffer and leaves source untouched.
// Use when the caller still needs its own bytes, e.g. a key that is
// about to be handed to the crypto layer.
func CopyOf(source []byte) (*Buffer, error) {
	return newCopy(source)
}

func newCopy(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	return buffer, nil
}

// Clone returns an independent Buffer holding the same bytes. Closing
// or mutating one does not affect the other.
func (b *Buffer) Clone() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: clone of closed buffer")
	}
	return newCopy(b.data)
}

// Bytes returns the secret, pointing directly into the locked region.
// Do not retain the slice past Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// HeapCopy returns the secret as a fresh heap slice. Callers that hand
// key bytes to code outside this package's control (crypto callbacks
// that may zero or retain their input) use this so the Buffer stays
// intact.
func (b *Buffer) HeapCopy() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return append([]byte(nil), b.data...)
}

// String returns a heap copy of the secret as a string, for API
// boundaries that only accept strings.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.data)
}

// Len returns the secret's length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Equal compares the secret with other in constant time.
func (b *Buffer) Equal(other []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return subtle.ConstantTimeCompare(b.data, other) == 1
}

// Close zeroes, unlocks, and unmaps the buffer. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)
	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	return firstError
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
