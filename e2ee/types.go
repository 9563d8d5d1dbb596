// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"encoding/json"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Secret storage algorithm and account data identifiers.
const (
	SecretStorageAlgorithmV1  = "m.secret_storage.v1.aes-hmac-sha2"
	PassphraseAlgorithmPBKDF2 = "m.pbkdf2"

	DefaultKeyEventType   ref.EventType = "m.secret_storage.default_key"
	KeyEventTypePrefix                  = "m.secret_storage.key."
	SecretStoragePrefix                 = "m.secret_storage."
	CrossSigningPrefix                  = "m.cross_signing."
	MegolmBackupEventType ref.EventType = "m.megolm_backup.v1"
	RoomEncryptionType    ref.EventType = "m.room.encryption"

	// CrossSigningFeature is the unstable feature a homeserver advertises
	// when it supports cross-signing key upload.
	CrossSigningFeature = "org.matrix.e2e_cross_signing"
)

// Cross-signing secret names as stored in secret storage.
const (
	SecretCrossSigningMaster      = "m.cross_signing.master"
	SecretCrossSigningSelfSigning = "m.cross_signing.self_signing"
	SecretCrossSigningUserSigning = "m.cross_signing.user_signing"
	SecretMegolmBackup            = "m.megolm_backup.v1"
)

// KeyEventType returns the account data type holding a key's KeyInfo.
func KeyEventType(keyID string) ref.EventType {
	return ref.EventType(KeyEventTypePrefix + keyID)
}

// KeyInfo is the server-published description of one secret storage
// key (m.secret_storage.key.<id>). It is immutable once fetched.
type KeyInfo struct {
	Algorithm  string          `json:"algorithm"`
	Name       string          `json:"name,omitempty"`
	Passphrase *PassphraseInfo `json:"passphrase,omitempty"`
	IV         string          `json:"iv,omitempty"`
	MAC        string          `json:"mac,omitempty"`
}

// PassphraseInfo holds the key derivation parameters for a key that
// was generated from a passphrase.
type PassphraseInfo struct {
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Bits       int    `json:"bits,omitempty"`
}

// Clone returns a deep copy.
func (k KeyInfo) Clone() KeyInfo {
	if k.Passphrase != nil {
		passphrase := *k.Passphrase
		k.Passphrase = &passphrase
	}
	return k
}

// KeyDescriptor pairs a key ID with its KeyInfo.
type KeyDescriptor struct {
	KeyID string
	Info  KeyInfo
}

// Device is one of a user's devices as known to the client.
type Device struct {
	UserID      ref.UserID
	DeviceID    ref.DeviceID
	DisplayName string
}

// DeviceTrust is the client's trust verdict for one device.
type DeviceTrust struct {
	// CrossSigningVerified is true when the device is signed by its
	// owner's self-signing key and the owner is trusted.
	CrossSigningVerified bool

	// LocallyVerified is true when this client verified the device
	// directly (e.g. emoji comparison without cross-signing).
	LocallyVerified bool
}

// IsVerified reports whether the device is trusted by either route.
func (t DeviceTrust) IsVerified() bool {
	return t.CrossSigningVerified || t.LocallyVerified
}

// BackupInfo describes the server's current room key backup.
type BackupInfo struct {
	Version   string
	Algorithm string
	AuthData  json.RawMessage
	Count     int
}

// CrossSigningIdentity is a user's published cross-signing public keys.
// Empty strings mean the key is not published.
type CrossSigningIdentity struct {
	UserID         ref.UserID
	MasterKey      string
	SelfSigningKey string
	UserSigningKey string
}
