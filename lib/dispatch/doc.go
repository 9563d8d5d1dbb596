// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is a small process-wide action bus. Components
// register a callback, receive a [Token], and are handed every
// [Action] dispatched until they unregister.
//
// Dispatch is synchronous: callbacks run on the dispatching goroutine
// in registration order. A callback that needs to do slow work should
// hand it to its own goroutine.
package dispatch
