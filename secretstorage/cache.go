// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"log/slog"
	"sync"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/secret"
)

// KeyCache holds the secret storage keys obtained during the current
// access. Stores are silently dropped unless the gate is held.
type KeyCache struct {
	gate   *Gate
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]cachedKey
}

type cachedKey struct {
	info e2ee.KeyInfo
	key  *secret.Buffer
}

// NewKeyCache returns an empty cache scoped by gate.
func NewKeyCache(gate *Gate, logger *slog.Logger) *KeyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyCache{
		gate:    gate,
		logger:  logger,
		entries: make(map[string]cachedKey),
	}
}

// CachingAllowed reports whether Store currently keeps keys.
func (c *KeyCache) CachingAllowed() bool {
	return c.gate.InProgress()
}

// Store copies key into locked memory under keyID, replacing any
// previous entry. It is a no-op when caching is not allowed. If locked
// memory cannot be allocated the key is not cached and the next
// lookup misses.
func (c *KeyCache) Store(keyID string, info e2ee.KeyInfo, key []byte) {
	if !c.CachingAllowed() {
		return
	}
	buffer, err := secret.CopyOf(key)
	if err != nil {
		c.logger.Warn("not caching secret storage key", "key_id", keyID, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if previous, ok := c.entries[keyID]; ok {
		previous.key.Close()
	} else {
		c.order = append(c.order, keyID)
	}
	c.entries[keyID] = cachedKey{info: info.Clone(), key: buffer}
}

// Lookup returns a heap copy of the key cached under keyID.
func (c *KeyCache) Lookup(keyID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[keyID]
	if !ok {
		return nil, false
	}
	return entry.key.HeapCopy(), true
}

// Info returns the KeyInfo cached with keyID.
func (c *KeyCache) Info(keyID string) (e2ee.KeyInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[keyID]
	return entry.info.Clone(), ok
}

// FirstKeyID returns the earliest cached key ID still present.
func (c *KeyCache) FirstKeyID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return "", false
	}
	return c.order[0], true
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear zeroes and drops every cached key.
func (c *KeyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.key.Close()
	}
	c.entries = make(map[string]cachedKey)
	c.order = nil
}

// DehydrationCache holds at most one key captured by the dehydration
// dialog, together with its KeyInfo.
type DehydrationCache struct {
	mu   sync.Mutex
	key  *secret.Buffer
	info e2ee.KeyInfo
}

// Set stores an independent copy of key, replacing any previous entry.
// The caller keeps ownership of key and may zero it afterwards.
func (c *DehydrationCache) Set(key []byte, info e2ee.KeyInfo) error {
	buffer, err := secret.CopyOf(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		c.key.Close()
	}
	c.key = buffer
	c.info = info.Clone()
	return nil
}

// Get returns a heap copy of the cached key and its KeyInfo.
func (c *DehydrationCache) Get() ([]byte, e2ee.KeyInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return nil, e2ee.KeyInfo{}, false
	}
	return c.key.HeapCopy(), c.info.Clone(), true
}

// Present reports whether a key is cached.
func (c *DehydrationCache) Present() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil
}

// Clear zeroes and drops the cached key.
func (c *DehydrationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		c.key.Close()
	}
	c.key = nil
	c.info = e2ee.KeyInfo{}
}
