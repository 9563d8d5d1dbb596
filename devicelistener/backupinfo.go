// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/clock"
)

// DefaultKeyBackupTTL bounds how long a fetched key backup version is
// reused.
const DefaultKeyBackupTTL = 5 * time.Minute

// backupInfoCache remembers the last key backup version answer,
// including "no backup", for ttl.
type backupInfoCache struct {
	clock clock.Clock
	ttl   time.Duration

	mu        sync.Mutex
	info      *e2ee.BackupInfo
	fetchedAt time.Time
	valid     bool

	// generation counts invalidations. An answer fetched across one is
	// returned but not stored.
	generation uint64
}

func (c *backupInfoCache) get(ctx context.Context, fetch func(context.Context) (*e2ee.BackupInfo, error)) (*e2ee.BackupInfo, error) {
	now := c.clock.Now()
	c.mu.Lock()
	if c.valid && now.Sub(c.fetchedAt) <= c.ttl {
		info := c.info
		c.mu.Unlock()
		return info, nil
	}
	generation := c.generation
	c.mu.Unlock()

	info, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generation == generation {
		c.info = info
		c.fetchedAt = now
		c.valid = true
	}
	c.mu.Unlock()
	return info, nil
}

func (c *backupInfoCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = nil
	c.fetchedAt = time.Time{}
	c.valid = false
	c.generation++
}
