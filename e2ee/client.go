// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"context"
	"errors"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// ErrReadOnly is returned by clients without a local crypto store for
// operations that would create or use private key material.
var ErrReadOnly = errors.New("e2ee: client has no local crypto store")

// ErrInteractiveAuthRequired is returned by an AuthRequestFunc when the
// homeserver demands user-interactive authentication for the upload.
var ErrInteractiveAuthRequired = errors.New("e2ee: user-interactive authentication required")

// AuthRequestFunc performs an authenticated upload. auth is the
// user-interactive auth dict to attach, nil for the first attempt.
type AuthRequestFunc func(ctx context.Context, auth map[string]any) error

// BootstrapCrossSigningOptions configures Client.BootstrapCrossSigning.
type BootstrapCrossSigningOptions struct {
	// AuthUploadDeviceSigningKeys is called when new cross-signing keys
	// must be uploaded. It drives makeRequest to completion, prompting
	// the user if the server requires it.
	AuthUploadDeviceSigningKeys func(ctx context.Context, makeRequest AuthRequestFunc) error

	// SetupNewCrossSigning discards existing keys and creates new ones.
	SetupNewCrossSigning bool
}

// BootstrapSecretStorageOptions configures Client.BootstrapSecretStorage.
type BootstrapSecretStorageOptions struct {
	// GetKeyBackupPassphrase returns the key for an existing passphrase-
	// based key backup so it can be migrated into secret storage.
	GetKeyBackupPassphrase func(ctx context.Context) ([]byte, error)

	// SetupNewSecretStorage creates a new default key even when one
	// already exists.
	SetupNewSecretStorage bool
}

// Client is the end-to-end-encryption client surface consumed by the
// trust orchestration. Methods taking a context may perform network
// requests; the rest answer from local state.
type Client interface {
	// UserID and DeviceID identify the session.
	UserID() ref.UserID
	DeviceID() ref.DeviceID

	DoesServerSupportUnstableFeature(ctx context.Context, feature string) (bool, error)
	IsCryptoEnabled() bool
	IsInitialSyncComplete() bool

	IsCrossSigningReady(ctx context.Context) (bool, error)
	IsSecretStorageReady(ctx context.Context) (bool, error)
	HasSecretStorageKey(ctx context.Context) (bool, error)

	// GetKeyBackupVersion returns nil when the server has no backup.
	GetKeyBackupVersion(ctx context.Context) (*BackupInfo, error)

	Rooms() []ref.RoomID
	IsRoomEncrypted(roomID ref.RoomID) bool

	GetStoredDevicesForUser(userID ref.UserID) []Device
	CheckDeviceTrust(ctx context.Context, userID ref.UserID, deviceID ref.DeviceID) (DeviceTrust, error)
	DownloadKeys(ctx context.Context, userIDs []ref.UserID) error

	// GetCrossSigningID returns this device's trusted cross-signing
	// master public key, or "" when the device has none.
	GetCrossSigningID() string
	// GetStoredCrossSigningForUser returns nil when the user has no
	// known cross-signing identity.
	GetStoredCrossSigningForUser(userID ref.UserID) *CrossSigningIdentity
	CheckOwnCrossSigningTrust(ctx context.Context) error

	BootstrapCrossSigning(ctx context.Context, options BootstrapCrossSigningOptions) error
	BootstrapSecretStorage(ctx context.Context, options BootstrapSecretStorageOptions) error

	// CheckSecretStorageKey reports whether key matches info. A
	// mismatch is (false, nil).
	CheckSecretStorageKey(ctx context.Context, key []byte, info KeyInfo) (bool, error)
	// GetDefaultSecretStorageKeyID returns "" when no default is set.
	GetDefaultSecretStorageKeyID(ctx context.Context) (string, error)

	SetDehydrationKey(ctx context.Context, key []byte, info KeyInfo, deviceName string) error
	RestoreKeyBackupWithSecretStorage(ctx context.Context, backup *BackupInfo) error

	// CachedCrossSigningKey returns a cached cross-signing private key
	// by type ("self_signing", "user_signing"); nil when not cached.
	CachedCrossSigningKey(ctx context.Context, keyType string) ([]byte, error)
	// SessionBackupPrivateKey returns the cached backup decryption
	// key; nil when not cached.
	SessionBackupPrivateKey(ctx context.Context) ([]byte, error)
}
