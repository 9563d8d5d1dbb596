// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import "sync/atomic"

// Gate marks whether a secret storage access is in progress, plus a
// separate flag that forbids prompting. Both are plain booleans: Begin
// twice then End once leaves the gate open. Callers pair Begin with a
// deferred End.
type Gate struct {
	inProgress     atomic.Bool
	nonInteractive atomic.Bool
}

// Begin marks an access as in progress.
func (g *Gate) Begin() { g.inProgress.Store(true) }

// End marks the access as finished.
func (g *Gate) End() { g.inProgress.Store(false) }

// InProgress reports whether an access is in progress.
func (g *Gate) InProgress() bool { return g.inProgress.Load() }

// SetNonInteractive sets whether prompts are forbidden.
func (g *Gate) SetNonInteractive(nonInteractive bool) { g.nonInteractive.Store(nonInteractive) }

// NonInteractive reports whether prompts are forbidden.
func (g *Gate) NonInteractive() bool { return g.nonInteractive.Load() }
