// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "strings"

// EventType identifies a Matrix event type, either for room events
// (m.room.encryption) or account data (m.secret_storage.default_key).
// It is a named string rather than a struct: event types need no
// validation, only separation from other string-typed values.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }

// HasPrefix reports whether the event type starts with prefix. Used to
// match whole families of account data (m.secret_storage.*).
func (t EventType) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(t), prefix)
}
