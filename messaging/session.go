// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Session is the authenticated read surface consumed by the e2ee
// package. *DirectSession is the production implementation.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// DeviceID returns this session's device, or the zero value.
	DeviceID() ref.DeviceID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns its user and device.
	WhoAmI(ctx context.Context) (*WhoAmIResponse, error)

	// GetStateEvent fetches a specific state event's content from a room.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// JoinedRooms returns the list of room IDs the user has joined.
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	// GetAccountData fetches global account data; nil when unset.
	GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error)

	// KeyBackupVersion returns the current key backup; nil when none exists.
	KeyBackupVersion(ctx context.Context) (*KeyBackupVersionResponse, error)

	// QueryKeys downloads device and cross-signing keys for users.
	QueryKeys(ctx context.Context, userIDs []ref.UserID) (*KeysQueryResponse, error)

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
