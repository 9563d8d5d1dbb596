// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2eetest

import (
	"bytes"
	"context"
	"sync"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// State is the world a Client reports. Zero values mean "absent" or
// "false"; nil maps are treated as empty.
type State struct {
	UserID   ref.UserID
	DeviceID ref.DeviceID

	UnstableFeatures    map[string]bool
	CryptoEnabled       bool
	InitialSyncComplete bool

	CrossSigningReady   bool
	SecretStorageReady  bool
	HasSecretStorageKey bool
	DefaultKeyID        string

	Backup *e2ee.BackupInfo

	Rooms          []ref.RoomID
	EncryptedRooms map[ref.RoomID]bool

	Devices            map[ref.UserID][]e2ee.Device
	Trust              map[ref.DeviceID]e2ee.DeviceTrust
	CrossSigningID     string
	StoredCrossSigning map[ref.UserID]*e2ee.CrossSigningIdentity

	// SecretStorageKey is the only key CheckSecretStorageKey accepts.
	SecretStorageKey []byte

	CrossSigningKeys map[string][]byte
	BackupKey        []byte

	// Errors maps a method name to the error it returns.
	Errors map[string]error

	OnDownloadKeys           func(ctx context.Context, userIDs []ref.UserID) error
	OnBootstrapCrossSigning  func(ctx context.Context, options e2ee.BootstrapCrossSigningOptions) error
	OnBootstrapSecretStorage func(ctx context.Context, options e2ee.BootstrapSecretStorageOptions) error
	OnSetDehydrationKey      func(key []byte, info e2ee.KeyInfo, deviceName string) error
	OnRestoreKeyBackup       func(ctx context.Context, backup *e2ee.BackupInfo) error
}

// Client is an in-memory e2ee.Client.
type Client struct {
	mu    sync.Mutex
	state State
	calls []string
}

var _ e2ee.Client = (*Client)(nil)

// NewClient returns a Client reporting state.
func NewClient(state State) *Client {
	return &Client{state: state}
}

// Update mutates the state under the client's lock.
func (c *Client) Update(mutate func(state *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(&c.state)
}

// Calls returns the recorded method names in call order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallCount returns how many times method was called.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, call := range c.calls {
		if call == method {
			count++
		}
	}
	return count
}

// ResetCalls forgets the recorded calls.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// record logs the call and returns a snapshot of the state plus the
// scripted error for method.
func (c *Client) record(method string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	return c.state, c.state.Errors[method]
}

func (c *Client) UserID() ref.UserID {
	state, _ := c.record("UserID")
	return state.UserID
}

func (c *Client) DeviceID() ref.DeviceID {
	state, _ := c.record("DeviceID")
	return state.DeviceID
}

func (c *Client) DoesServerSupportUnstableFeature(ctx context.Context, feature string) (bool, error) {
	state, err := c.record("DoesServerSupportUnstableFeature")
	return state.UnstableFeatures[feature], err
}

func (c *Client) IsCryptoEnabled() bool {
	state, _ := c.record("IsCryptoEnabled")
	return state.CryptoEnabled
}

func (c *Client) IsInitialSyncComplete() bool {
	state, _ := c.record("IsInitialSyncComplete")
	return state.InitialSyncComplete
}

func (c *Client) IsCrossSigningReady(ctx context.Context) (bool, error) {
	state, err := c.record("IsCrossSigningReady")
	return state.CrossSigningReady, err
}

func (c *Client) IsSecretStorageReady(ctx context.Context) (bool, error) {
	state, err := c.record("IsSecretStorageReady")
	return state.SecretStorageReady, err
}

func (c *Client) HasSecretStorageKey(ctx context.Context) (bool, error) {
	state, err := c.record("HasSecretStorageKey")
	return state.HasSecretStorageKey, err
}

func (c *Client) GetKeyBackupVersion(ctx context.Context) (*e2ee.BackupInfo, error) {
	state, err := c.record("GetKeyBackupVersion")
	if err != nil || state.Backup == nil {
		return nil, err
	}
	backup := *state.Backup
	return &backup, nil
}

func (c *Client) Rooms() []ref.RoomID {
	state, _ := c.record("Rooms")
	return append([]ref.RoomID(nil), state.Rooms...)
}

func (c *Client) IsRoomEncrypted(roomID ref.RoomID) bool {
	state, _ := c.record("IsRoomEncrypted")
	return state.EncryptedRooms[roomID]
}

func (c *Client) GetStoredDevicesForUser(userID ref.UserID) []e2ee.Device {
	state, _ := c.record("GetStoredDevicesForUser")
	return append([]e2ee.Device(nil), state.Devices[userID]...)
}

func (c *Client) CheckDeviceTrust(ctx context.Context, userID ref.UserID, deviceID ref.DeviceID) (e2ee.DeviceTrust, error) {
	state, err := c.record("CheckDeviceTrust")
	return state.Trust[deviceID], err
}

func (c *Client) DownloadKeys(ctx context.Context, userIDs []ref.UserID) error {
	state, err := c.record("DownloadKeys")
	if err != nil {
		return err
	}
	if state.OnDownloadKeys != nil {
		return state.OnDownloadKeys(ctx, userIDs)
	}
	return nil
}

func (c *Client) GetCrossSigningID() string {
	state, _ := c.record("GetCrossSigningID")
	return state.CrossSigningID
}

func (c *Client) GetStoredCrossSigningForUser(userID ref.UserID) *e2ee.CrossSigningIdentity {
	state, _ := c.record("GetStoredCrossSigningForUser")
	return state.StoredCrossSigning[userID]
}

func (c *Client) CheckOwnCrossSigningTrust(ctx context.Context) error {
	_, err := c.record("CheckOwnCrossSigningTrust")
	return err
}

func (c *Client) BootstrapCrossSigning(ctx context.Context, options e2ee.BootstrapCrossSigningOptions) error {
	state, err := c.record("BootstrapCrossSigning")
	if err != nil {
		return err
	}
	if state.OnBootstrapCrossSigning != nil {
		return state.OnBootstrapCrossSigning(ctx, options)
	}
	return nil
}

func (c *Client) BootstrapSecretStorage(ctx context.Context, options e2ee.BootstrapSecretStorageOptions) error {
	state, err := c.record("BootstrapSecretStorage")
	if err != nil {
		return err
	}
	if state.OnBootstrapSecretStorage != nil {
		return state.OnBootstrapSecretStorage(ctx, options)
	}
	return nil
}

func (c *Client) CheckSecretStorageKey(ctx context.Context, key []byte, info e2ee.KeyInfo) (bool, error) {
	state, err := c.record("CheckSecretStorageKey")
	if err != nil {
		return false, err
	}
	return state.SecretStorageKey != nil && bytes.Equal(key, state.SecretStorageKey), nil
}

func (c *Client) GetDefaultSecretStorageKeyID(ctx context.Context) (string, error) {
	state, err := c.record("GetDefaultSecretStorageKeyID")
	return state.DefaultKeyID, err
}

func (c *Client) SetDehydrationKey(ctx context.Context, key []byte, info e2ee.KeyInfo, deviceName string) error {
	state, err := c.record("SetDehydrationKey")
	if err != nil {
		return err
	}
	if state.OnSetDehydrationKey != nil {
		return state.OnSetDehydrationKey(key, info, deviceName)
	}
	return nil
}

func (c *Client) RestoreKeyBackupWithSecretStorage(ctx context.Context, backup *e2ee.BackupInfo) error {
	state, err := c.record("RestoreKeyBackupWithSecretStorage")
	if err != nil {
		return err
	}
	if state.OnRestoreKeyBackup != nil {
		return state.OnRestoreKeyBackup(ctx, backup)
	}
	return nil
}

func (c *Client) CachedCrossSigningKey(ctx context.Context, keyType string) ([]byte, error) {
	state, err := c.record("CachedCrossSigningKey")
	return state.CrossSigningKeys[keyType], err
}

func (c *Client) SessionBackupPrivateKey(ctx context.Context) ([]byte, error) {
	state, err := c.record("SessionBackupPrivateKey")
	return state.BackupKey, err
}
