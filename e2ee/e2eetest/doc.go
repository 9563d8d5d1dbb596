// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package e2eetest provides an in-memory e2ee.Client for testing the
// trust orchestration without a homeserver or crypto store.
//
// [Client] answers every method from a mutable [State], records each
// call by method name, and exposes hooks for the operations whose side
// effects a test needs to script (bootstrap, restore, key download).
// Mutate State through [Client.Update]; the client is safe for
// concurrent use.
package e2eetest
