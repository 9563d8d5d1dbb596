// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// RoomTracker reports what the sync loop has seen. *SyncSource
// implements it.
type RoomTracker interface {
	InitialSyncComplete() bool
	Rooms() []ref.RoomID
	IsRoomEncrypted(roomID ref.RoomID) bool
}

// KeyCheckFunc validates a secret storage key against its KeyInfo.
type KeyCheckFunc func(key []byte, info KeyInfo) (bool, error)

// ServerClientConfig configures a ServerClient.
type ServerClientConfig struct {
	State   *HomeserverState
	Rooms   RoomTracker
	Emitter *Emitter

	UserID   ref.UserID
	DeviceID ref.DeviceID

	// CheckKey backs CheckSecretStorageKey. Nil makes that method
	// return ErrReadOnly.
	CheckKey KeyCheckFunc

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// ServerClient is a Client whose state comes entirely from the
// homeserver. It has no Olm machine, so it never holds private keys:
// GetCrossSigningID is always "", and operations that would create or
// use private keys return ErrReadOnly.
type ServerClient struct {
	state    *HomeserverState
	rooms    RoomTracker
	emitter  *Emitter
	userID   ref.UserID
	deviceID ref.DeviceID
	checkKey KeyCheckFunc
	logger   *slog.Logger

	mu         sync.Mutex
	fetched    bool
	devices    map[ref.UserID][]DeviceStatus
	identities map[ref.UserID]*CrossSigningIdentity
}

var (
	_ Client            = (*ServerClient)(nil)
	_ DeviceListTracker = (*ServerClient)(nil)
)

// NewServerClient validates config and returns a ServerClient.
func NewServerClient(config ServerClientConfig) (*ServerClient, error) {
	if config.State == nil || config.Rooms == nil || config.Emitter == nil {
		return nil, fmt.Errorf("e2ee: ServerClient requires State, Rooms, and Emitter")
	}
	if config.UserID.IsZero() {
		return nil, fmt.Errorf("e2ee: ServerClient requires a UserID")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerClient{
		state:      config.State,
		rooms:      config.Rooms,
		emitter:    config.Emitter,
		userID:     config.UserID,
		deviceID:   config.DeviceID,
		checkKey:   config.CheckKey,
		logger:     logger,
		devices:    make(map[ref.UserID][]DeviceStatus),
		identities: make(map[ref.UserID]*CrossSigningIdentity),
	}, nil
}

func (c *ServerClient) UserID() ref.UserID     { return c.userID }
func (c *ServerClient) DeviceID() ref.DeviceID { return c.deviceID }
func (c *ServerClient) IsCryptoEnabled() bool  { return true }

// GetCrossSigningID always returns "": there are no local keys to trust.
func (c *ServerClient) GetCrossSigningID() string { return "" }

func (c *ServerClient) DoesServerSupportUnstableFeature(ctx context.Context, feature string) (bool, error) {
	return c.state.SupportsUnstableFeature(ctx, feature)
}

// IsInitialSyncComplete also waits for our own device list: a device
// snapshot taken before it is known would make every existing device
// look new.
func (c *ServerClient) IsInitialSyncComplete() bool {
	if !c.rooms.InitialSyncComplete() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, known := c.devices[c.userID]
	return known
}

func (c *ServerClient) Rooms() []ref.RoomID {
	return c.rooms.Rooms()
}

func (c *ServerClient) IsRoomEncrypted(roomID ref.RoomID) bool {
	return c.rooms.IsRoomEncrypted(roomID)
}

func (c *ServerClient) HasSecretStorageKey(ctx context.Context) (bool, error) {
	return c.state.HasSecretStorageKey(ctx)
}

func (c *ServerClient) GetDefaultSecretStorageKeyID(ctx context.Context) (string, error) {
	return c.state.DefaultSecretStorageKeyID(ctx)
}

func (c *ServerClient) GetKeyBackupVersion(ctx context.Context) (*BackupInfo, error) {
	return c.state.KeyBackupVersion(ctx)
}

// IsSecretStorageReady reports whether a default key exists and the
// cross-signing secrets (and the backup key, when a backup exists) are
// stored under it.
func (c *ServerClient) IsSecretStorageReady(ctx context.Context) (bool, error) {
	keyID, err := c.state.DefaultSecretStorageKeyID(ctx)
	if err != nil || keyID == "" {
		return false, err
	}
	names := []string{SecretCrossSigningMaster, SecretCrossSigningSelfSigning, SecretCrossSigningUserSigning}
	backup, err := c.state.KeyBackupVersion(ctx)
	if err != nil {
		return false, err
	}
	if backup != nil {
		names = append(names, SecretMegolmBackup)
	}
	for _, name := range names {
		stored, err := c.state.SecretEncryptedWith(ctx, name, keyID)
		if err != nil || !stored {
			return false, err
		}
	}
	return true, nil
}

// IsCrossSigningReady reports whether our cross-signing keys are
// published and their private halves are in secret storage.
func (c *ServerClient) IsCrossSigningReady(ctx context.Context) (bool, error) {
	identity := c.GetStoredCrossSigningForUser(c.userID)
	if identity == nil {
		published, err := c.state.QueryUser(ctx, c.userID)
		if err != nil {
			return false, err
		}
		identity = published.Identity
	}
	if identity == nil || identity.MasterKey == "" || identity.SelfSigningKey == "" || identity.UserSigningKey == "" {
		return false, nil
	}
	keyID, err := c.state.DefaultSecretStorageKeyID(ctx)
	if err != nil || keyID == "" {
		return false, err
	}
	for _, name := range []string{SecretCrossSigningMaster, SecretCrossSigningSelfSigning, SecretCrossSigningUserSigning} {
		stored, err := c.state.SecretEncryptedWith(ctx, name, keyID)
		if err != nil || !stored {
			return false, err
		}
	}
	return true, nil
}

func (c *ServerClient) GetStoredDevicesForUser(userID ref.UserID) []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := c.devices[userID]
	devices := make([]Device, len(statuses))
	for i, status := range statuses {
		devices[i] = status.Device
	}
	return devices
}

func (c *ServerClient) CheckDeviceTrust(ctx context.Context, userID ref.UserID, deviceID ref.DeviceID) (DeviceTrust, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, status := range c.devices[userID] {
		if status.DeviceID == deviceID {
			return status.Trust, nil
		}
	}
	return DeviceTrust{}, nil
}

func (c *ServerClient) GetStoredCrossSigningForUser(userID ref.UserID) *CrossSigningIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	identity, ok := c.identities[userID]
	if !ok || identity == nil {
		return nil
	}
	copied := *identity
	return &copied
}

// DownloadKeys refreshes the published keys of userIDs, emitting
// WillUpdateDevices before and, for the users whose device list
// changed, DevicesUpdated after. Trust changes on
// already-known devices emit DeviceVerificationChanged, and a changed
// master key for our own user emits CrossSigningKeysChanged.
func (c *ServerClient) DownloadKeys(ctx context.Context, userIDs []ref.UserID) error {
	if len(userIDs) == 0 {
		return nil
	}
	c.mu.Lock()
	initialFetch := !c.fetched
	c.mu.Unlock()

	c.emitter.Emit(WillUpdateDevices{Users: userIDs, InitialFetch: initialFetch})

	var (
		followUps []Event
		updated   []ref.UserID
	)
	for _, userID := range userIDs {
		published, err := c.state.QueryUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("e2ee: downloading keys for %s: %w", userID, err)
		}
		events, listChanged := c.store(userID, published)
		followUps = append(followUps, events...)
		if listChanged {
			updated = append(updated, userID)
		}
	}

	c.mu.Lock()
	c.fetched = true
	c.mu.Unlock()

	if len(updated) > 0 {
		c.emitter.Emit(DevicesUpdated{Users: updated, InitialFetch: initialFetch})
	}
	for _, event := range followUps {
		c.emitter.Emit(event)
	}
	return nil
}

// store replaces the cached keys of userID. It returns the change
// events to emit once the update is visible, and whether the set of
// devices differs from what was known.
func (c *ServerClient) store(userID ref.UserID, published *PublishedKeys) ([]Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []Event
	known, wasKnown := c.devices[userID]
	listChanged := !wasKnown || len(known) != len(published.Devices)
	previous := make(map[ref.DeviceID]DeviceTrust, len(known))
	for _, status := range known {
		previous[status.DeviceID] = status.Trust
	}
	for _, status := range published.Devices {
		trust, ok := previous[status.DeviceID]
		if !ok {
			listChanged = true
			continue
		}
		if trust != status.Trust {
			events = append(events, DeviceVerificationChanged{UserID: userID, DeviceID: status.DeviceID})
		}
	}

	oldIdentity, hadIdentity := c.identities[userID]
	if userID == c.userID && hadIdentity && !sameMasterKey(oldIdentity, published.Identity) {
		events = append(events, CrossSigningKeysChanged{})
	}

	c.devices[userID] = published.Devices
	c.identities[userID] = published.Identity
	return events, listChanged
}

func sameMasterKey(a, b *CrossSigningIdentity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MasterKey == b.MasterKey
}

// InvalidateDevices refreshes users whose device lists changed, limited
// to ourselves and users already downloaded.
func (c *ServerClient) InvalidateDevices(ctx context.Context, users []ref.UserID) error {
	c.mu.Lock()
	var tracked []ref.UserID
	for _, userID := range users {
		if _, known := c.devices[userID]; known || userID == c.userID {
			tracked = append(tracked, userID)
		}
	}
	c.mu.Unlock()
	return c.DownloadKeys(ctx, tracked)
}

func (c *ServerClient) CheckSecretStorageKey(ctx context.Context, key []byte, info KeyInfo) (bool, error) {
	if c.checkKey == nil {
		return false, ErrReadOnly
	}
	return c.checkKey(key, info)
}

func (c *ServerClient) CheckOwnCrossSigningTrust(ctx context.Context) error {
	return ErrReadOnly
}

func (c *ServerClient) BootstrapCrossSigning(ctx context.Context, options BootstrapCrossSigningOptions) error {
	return ErrReadOnly
}

func (c *ServerClient) BootstrapSecretStorage(ctx context.Context, options BootstrapSecretStorageOptions) error {
	return ErrReadOnly
}

func (c *ServerClient) SetDehydrationKey(ctx context.Context, key []byte, info KeyInfo, deviceName string) error {
	return ErrReadOnly
}

func (c *ServerClient) RestoreKeyBackupWithSecretStorage(ctx context.Context, backup *BackupInfo) error {
	return ErrReadOnly
}

// CachedCrossSigningKey always returns nil: there is no local cache.
func (c *ServerClient) CachedCrossSigningKey(ctx context.Context, keyType string) ([]byte, error) {
	return nil, nil
}

// SessionBackupPrivateKey always returns nil: there is no local cache.
func (c *ServerClient) SessionBackupPrivateKey(ctx context.Context) ([]byte, error) {
	return nil, nil
}
