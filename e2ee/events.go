// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"encoding/json"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Event is a client notification. The concrete type is one of the
// variants below; the unexported method closes the set.
type Event interface {
	event()
}

// WillUpdateDevices fires before the device lists of Users are
// refreshed. InitialFetch is true when nothing was known about these
// users before.
type WillUpdateDevices struct {
	Users        []ref.UserID
	InitialFetch bool
}

// DevicesUpdated fires after the device lists of Users changed.
type DevicesUpdated struct {
	Users        []ref.UserID
	InitialFetch bool
}

// DeviceVerificationChanged fires when one device's trust changed.
type DeviceVerificationChanged struct {
	UserID   ref.UserID
	DeviceID ref.DeviceID
}

// UserTrustStatusChanged fires when a user's cross-signing trust changed.
type UserTrustStatusChanged struct {
	UserID ref.UserID
}

// CrossSigningKeysChanged fires when our own cross-signing keys changed.
type CrossSigningKeysChanged struct{}

// AccountData carries a global account data event.
type AccountData struct {
	Type    ref.EventType
	Content json.RawMessage
}

// SyncState is the state of the client's sync loop.
type SyncState string

const (
	SyncNone     SyncState = ""
	SyncPrepared SyncState = "PREPARED"
	SyncSyncing  SyncState = "SYNCING"
	SyncError    SyncState = "ERROR"
	SyncStopped  SyncState = "STOPPED"
)

// SyncStateChanged fires on every sync loop state transition.
// Previous is SyncNone on the very first transition.
type SyncStateChanged struct {
	State    SyncState
	Previous SyncState
}

// RoomState carries a room state event.
type RoomState struct {
	RoomID   ref.RoomID
	Type     ref.EventType
	StateKey string
	Content  json.RawMessage
}

// KeyBackupStatus fires when key backup was enabled or disabled.
type KeyBackupStatus struct {
	Enabled bool
}

func (WillUpdateDevices) event()         {}
func (DevicesUpdated) event()            {}
func (DeviceVerificationChanged) event() {}
func (UserTrustStatusChanged) event()    {}
func (CrossSigningKeysChanged) event()   {}
func (AccountData) event()               {}
func (SyncStateChanged) event()          {}
func (RoomState) event()                 {}
func (KeyBackupStatus) event()           {}

// ContainsUser reports whether userID is in users.
func ContainsUser(users []ref.UserID, userID ref.UserID) bool {
	for _, user := range users {
		if user == userID {
			return true
		}
	}
	return false
}
