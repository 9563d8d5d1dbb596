// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for the Matrix identifiers
// that flow through the trust core: [UserID], [DeviceID], [RoomID], and
// the untyped [EventType].
//
// Identifiers are parsed once at the boundary (HTTP responses, config,
// event payloads) and carried as immutable values afterward. Each type
// implements encoding.TextMarshaler and encoding.TextUnmarshaler so it
// can be used directly as a JSON field or map key. The zero value of
// every struct type means "unset"; use IsZero to check.
//
// This package has no Bureau-internal dependencies.
package ref
