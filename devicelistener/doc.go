// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicelistener decides which encryption toasts the user
// sees. A [Listener] subscribes to client events and the app
// dispatcher, funnels every trigger into one coalescing worker, and
// on each pass recomputes the toast state from scratch:
//
//   - the "setupencryption" toast, in one of three variants, when
//     cross-signing or secret storage is not ready;
//   - the "reviewsessions" toast, listing unverified devices that
//     already existed when the listener first looked;
//   - one "unverified_session_<device>" toast per unverified device
//     that appeared afterwards.
//
// Recheck reads current client state every time and diffs only
// against the displayed per-device toasts, so running it twice in a
// row re-asserts the same state. Dismissals last for the lifetime of
// the listener.
package devicelistener
