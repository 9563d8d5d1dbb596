// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/messaging"
)

// VersionsSource fetches the homeserver's /versions document.
// *messaging.Client implements it.
type VersionsSource interface {
	ServerVersions(ctx context.Context) (*messaging.ServerVersionsResponse, error)
}

// HomeserverState answers the server-side questions of the trust
// orchestration: what the homeserver supports, what is in account
// data, and which keys are published.
type HomeserverState struct {
	versions VersionsSource
	session  messaging.Session
	logger   *slog.Logger

	mu               sync.Mutex
	unstableFeatures map[string]bool
}

// NewHomeserverState returns a HomeserverState. logger may be nil.
func NewHomeserverState(versions VersionsSource, session messaging.Session, logger *slog.Logger) *HomeserverState {
	if logger == nil {
		logger = slog.Default()
	}
	return &HomeserverState{
		versions: versions,
		session:  session,
		logger:   logger,
	}
}

// EncryptedRooms returns the joined rooms with an m.room.encryption
// state event, and how many rooms are joined in total. It reads room
// state directly and is meant for one-shot reports; the sync loop
// tracks the same information incrementally.
func (h *HomeserverState) EncryptedRooms(ctx context.Context) ([]ref.RoomID, int, error) {
	joined, err := h.session.JoinedRooms(ctx)
	if err != nil {
		return nil, 0, err
	}
	var encrypted []ref.RoomID
	for _, roomID := range joined {
		_, err := h.session.GetStateEvent(ctx, roomID, RoomEncryptionType, "")
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("e2ee: reading encryption state of %s: %w", roomID, err)
		}
		encrypted = append(encrypted, roomID)
	}
	return encrypted, len(joined), nil
}

// SupportsUnstableFeature reports whether /versions advertises feature.
// The first successful response is cached for the lifetime of h.
func (h *HomeserverState) SupportsUnstableFeature(ctx context.Context, feature string) (bool, error) {
	h.mu.Lock()
	features := h.unstableFeatures
	h.mu.Unlock()
	if features != nil {
		return features[feature], nil
	}

	response, err := h.versions.ServerVersions(ctx)
	if err != nil {
		return false, err
	}
	features = response.UnstableFeatures
	if features == nil {
		features = map[string]bool{}
	}
	h.mu.Lock()
	h.unstableFeatures = features
	h.mu.Unlock()
	return features[feature], nil
}

// KeyBackupVersion returns the current backup, or nil when none exists.
func (h *HomeserverState) KeyBackupVersion(ctx context.Context) (*BackupInfo, error) {
	response, err := h.session.KeyBackupVersion(ctx)
	if err != nil || response == nil {
		return nil, err
	}
	return &BackupInfo{
		Version:   response.Version,
		Algorithm: response.Algorithm,
		AuthData:  response.AuthData,
		Count:     response.Count,
	}, nil
}

// DefaultSecretStorageKeyID returns the default key ID from account
// data, or "" when none is set.
func (h *HomeserverState) DefaultSecretStorageKeyID(ctx context.Context) (string, error) {
	content, err := h.session.GetAccountData(ctx, DefaultKeyEventType)
	if err != nil || content == nil {
		return "", err
	}
	var defaultKey struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(content, &defaultKey); err != nil {
		return "", fmt.Errorf("e2ee: parsing %s: %w", DefaultKeyEventType, err)
	}
	return defaultKey.Key, nil
}

// SecretStorageKeyInfo returns the published KeyInfo for keyID, or nil
// when the key does not exist.
func (h *HomeserverState) SecretStorageKeyInfo(ctx context.Context, keyID string) (*KeyInfo, error) {
	eventType := KeyEventType(keyID)
	content, err := h.session.GetAccountData(ctx, eventType)
	if err != nil || content == nil {
		return nil, err
	}
	var info KeyInfo
	if err := json.Unmarshal(content, &info); err != nil {
		return nil, fmt.Errorf("e2ee: parsing %s: %w", eventType, err)
	}
	return &info, nil
}

// DefaultSecretStorageKey returns the default key descriptor, or nil
// when no default key is set or its KeyInfo is missing.
func (h *HomeserverState) DefaultSecretStorageKey(ctx context.Context) (*KeyDescriptor, error) {
	keyID, err := h.DefaultSecretStorageKeyID(ctx)
	if err != nil || keyID == "" {
		return nil, err
	}
	info, err := h.SecretStorageKeyInfo(ctx, keyID)
	if err != nil || info == nil {
		return nil, err
	}
	return &KeyDescriptor{KeyID: keyID, Info: *info}, nil
}

// HasSecretStorageKey reports whether the account has a usable default
// secret storage key.
func (h *HomeserverState) HasSecretStorageKey(ctx context.Context) (bool, error) {
	descriptor, err := h.DefaultSecretStorageKey(ctx)
	return descriptor != nil, err
}

// SecretEncryptedWith reports whether the secret stored under name in
// account data has a ciphertext for keyID.
func (h *HomeserverState) SecretEncryptedWith(ctx context.Context, name, keyID string) (bool, error) {
	content, err := h.session.GetAccountData(ctx, ref.EventType(name))
	if err != nil || content == nil {
		return false, err
	}
	var stored struct {
		Encrypted map[string]json.RawMessage `json:"encrypted"`
	}
	if err := json.Unmarshal(content, &stored); err != nil {
		return false, fmt.Errorf("e2ee: parsing %s: %w", name, err)
	}
	_, ok := stored.Encrypted[keyID]
	return ok, nil
}

// PublishedKeys is the device and cross-signing key state of one user
// as returned by /keys/query.
type PublishedKeys struct {
	Devices  []DeviceStatus
	Identity *CrossSigningIdentity
}

// DeviceStatus is a device together with its derived trust.
type DeviceStatus struct {
	Device
	Trust DeviceTrust
}

// QueryUser downloads the published keys of userID. A device is
// reported cross-signing verified when it carries a signature from the
// user's self-signing key.
func (h *HomeserverState) QueryUser(ctx context.Context, userID ref.UserID) (*PublishedKeys, error) {
	response, err := h.session.QueryKeys(ctx, []ref.UserID{userID})
	if err != nil {
		return nil, err
	}
	if failure, ok := response.Failures[userID.Server()]; ok {
		h.logger.Warn("key query reported a federation failure",
			"user_id", userID,
			"failure", string(failure),
		)
	}

	published := &PublishedKeys{Identity: identityFromQuery(response, userID)}

	var selfSigningKeyID string
	if published.Identity != nil && published.Identity.SelfSigningKey != "" {
		selfSigningKeyID = "ed25519:" + published.Identity.SelfSigningKey
	}

	for rawDeviceID, keys := range response.DeviceKeys[userID.String()] {
		deviceID, err := ref.ParseDeviceID(rawDeviceID)
		if err != nil {
			h.logger.Warn("skipping device with invalid ID", "user_id", userID, "error", err)
			continue
		}
		status := DeviceStatus{Device: Device{UserID: userID, DeviceID: deviceID}}
		if keys.Unsigned != nil {
			status.DisplayName = keys.Unsigned.DeviceDisplayName
		}
		if selfSigningKeyID != "" && keys.SignedBy(userID, selfSigningKeyID) {
			status.Trust.CrossSigningVerified = true
		}
		published.Devices = append(published.Devices, status)
	}
	sort.Slice(published.Devices, func(i, j int) bool {
		return published.Devices[i].DeviceID.String() < published.Devices[j].DeviceID.String()
	})
	return published, nil
}

func identityFromQuery(response *messaging.KeysQueryResponse, userID ref.UserID) *CrossSigningIdentity {
	master, ok := response.MasterKeys[userID.String()]
	if !ok {
		return nil
	}
	identity := &CrossSigningIdentity{UserID: userID}
	_, identity.MasterKey, _ = master.PublicKey()
	if selfSigning, ok := response.SelfSigningKeys[userID.String()]; ok {
		_, identity.SelfSigningKey, _ = selfSigning.PublicKey()
	}
	if userSigning, ok := response.UserSigningKeys[userID.String()]; ok {
		_, identity.UserSigningKey, _ = userSigning.PublicKey()
	}
	return identity
}
