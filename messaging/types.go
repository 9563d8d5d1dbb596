// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Event represents a Matrix event from the server. Content is kept raw
// so each consumer decodes only the event types it understands.
type Event struct {
	EventID        string          `json:"event_id,omitempty"`
	Type           ref.EventType   `json:"type"`
	Sender         ref.UserID      `json:"sender,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch   string             `json:"next_batch"`
	AccountData AccountDataSection `json:"account_data"`
	Rooms       RoomsSection       `json:"rooms"`
	DeviceLists DeviceLists        `json:"device_lists"`
}

// AccountDataSection holds global account data changes since the last
// sync (m.secret_storage.*, m.cross_signing.*, m.megolm_backup.v1, and
// anything else the client stored).
type AccountDataSection struct {
	Events []Event `json:"events"`
}

// DeviceLists reports users whose device lists changed since the last
// sync. Only populated for users who share an encrypted room with us,
// and always for ourselves.
type DeviceLists struct {
	Changed []ref.UserID `json:"changed,omitempty"`
	Left    []ref.UserID `json:"left,omitempty"`
}

// RoomsSection contains per-room sync data for joined rooms. Map keys
// are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler for
// validation at deserialization.
type RoomsSection struct {
	Join map[ref.RoomID]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// WhoAmIResponse is returned by the /account/whoami endpoint.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// JoinedRoomsResponse is returned by the /joined_rooms endpoint.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// KeyBackupVersionResponse describes the active room key backup
// (GET /room_keys/version). AuthData is algorithm-specific and kept raw.
type KeyBackupVersionResponse struct {
	Algorithm string          `json:"algorithm"`
	AuthData  json.RawMessage `json:"auth_data"`
	Count     int             `json:"count"`
	ETag      string          `json:"etag"`
	Version   string          `json:"version"`
}

// KeysQueryRequest is the body of POST /keys/query. An empty device
// list requests every device of that user.
type KeysQueryRequest struct {
	DeviceKeys map[string][]string `json:"device_keys"`
	Timeout    int                 `json:"timeout,omitempty"`
}

// KeysQueryResponse is returned by POST /keys/query. Outer map keys are
// user IDs; the inner DeviceKeys map is keyed by device ID.
type KeysQueryResponse struct {
	DeviceKeys      map[string]map[string]DeviceKeys `json:"device_keys"`
	MasterKeys      map[string]CrossSigningKey       `json:"master_keys,omitempty"`
	SelfSigningKeys map[string]CrossSigningKey       `json:"self_signing_keys,omitempty"`
	UserSigningKeys map[string]CrossSigningKey       `json:"user_signing_keys,omitempty"`
	Failures        map[string]json.RawMessage       `json:"failures,omitempty"`
}

// DeviceKeys is one device's published identity keys.
type DeviceKeys struct {
	UserID     ref.UserID                   `json:"user_id"`
	DeviceID   string                       `json:"device_id"`
	Algorithms []string                     `json:"algorithms"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
	Unsigned   *DeviceKeysUnsigned          `json:"unsigned,omitempty"`
}

// DeviceKeysUnsigned carries server-added device metadata.
type DeviceKeysUnsigned struct {
	DeviceDisplayName string `json:"device_display_name,omitempty"`
}

// CrossSigningKey is a published master, self-signing, or user-signing
// public key.
type CrossSigningKey struct {
	UserID     ref.UserID                   `json:"user_id"`
	Usage      []string                     `json:"usage"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// SignedBy reports whether signer's key with the given key ID has
// signed this device. Signature validity is not checked here.
func (d DeviceKeys) SignedBy(signer ref.UserID, keyID string) bool {
	_, ok := d.Signatures[signer.String()][keyID]
	return ok
}

// PublicKey returns the first key value of a cross-signing key, which
// by convention has exactly one.
func (k CrossSigningKey) PublicKey() (keyID, key string, ok bool) {
	for keyID, key = range k.Keys {
		return keyID, key, true
	}
	return "", "", false
}
