// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/bureau-trust/e2ee"
)

// DefaultDehydratedDeviceName is the display name given to dehydrated
// devices when Config.DehydratedDeviceName is empty.
const DefaultDehydratedDeviceName = "Backup device"

// Config holds the dependencies of a Manager.
type Config struct {
	Client     e2ee.Client
	Prompter   Prompter
	KeyDecoder KeyDecoder

	Customisations Customisations

	// DehydrationEnabled turns on dehydrated device setup after a
	// successful bootstrap.
	DehydrationEnabled bool

	// SecureBackupRequired is consulted on every access. Nil means the
	// policy is off.
	SecureBackupRequired func() bool

	DehydratedDeviceName string

	Logger *slog.Logger
}

// Manager owns the session-scoped secret storage state. Create one per
// logged-in session and drop it on logout.
type Manager struct {
	client   e2ee.Client
	prompter Prompter
	decoder  KeyDecoder
	custom   Customisations

	dehydrationEnabled   bool
	secureBackupRequired func() bool
	dehydratedDeviceName string

	gate        *Gate
	keys        *KeyCache
	dehydration *DehydrationCache

	logger *slog.Logger
}

// New validates config and returns a Manager with empty caches.
func New(config Config) (*Manager, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("secretstorage: Client is required")
	}
	if config.Prompter == nil {
		return nil, fmt.Errorf("secretstorage: Prompter is required")
	}
	if config.KeyDecoder == nil {
		return nil, fmt.Errorf("secretstorage: KeyDecoder is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deviceName := config.DehydratedDeviceName
	if deviceName == "" {
		deviceName = DefaultDehydratedDeviceName
	}
	secureBackupRequired := config.SecureBackupRequired
	if secureBackupRequired == nil {
		secureBackupRequired = func() bool { return false }
	}

	gate := &Gate{}
	return &Manager{
		client:               config.Client,
		prompter:             config.Prompter,
		decoder:              config.KeyDecoder,
		custom:               config.Customisations,
		dehydrationEnabled:   config.DehydrationEnabled,
		secureBackupRequired: secureBackupRequired,
		dehydratedDeviceName: deviceName,
		gate:                 gate,
		keys:                 NewKeyCache(gate, logger),
		dehydration:          &DehydrationCache{},
		logger:               logger,
	}, nil
}

// IsSecretStorageBeingAccessed reports whether an access is running.
func (m *Manager) IsSecretStorageBeingAccessed() bool {
	return m.gate.InProgress()
}

// Keys exposes the key cache.
func (m *Manager) Keys() *KeyCache { return m.keys }

// Dehydration exposes the dehydration key cache.
func (m *Manager) Dehydration() *DehydrationCache { return m.dehydration }

// Close zeroes every cached key.
func (m *Manager) Close() {
	m.keys.Clear()
	m.dehydration.Clear()
}

// release closes the gate opened for an access and drops the keys it
// cached unless another access reopened it.
func (m *Manager) release() {
	m.gate.End()
	if !m.keys.CachingAllowed() {
		m.keys.Clear()
	}
}

// inputToKey turns dialog input into key bytes. A passphrase is only
// usable when the key was derived from one.
func (m *Manager) inputToKey(info e2ee.KeyInfo, input KeyInput) ([]byte, error) {
	if input.Passphrase != "" && info.Passphrase != nil {
		return m.decoder.DeriveKey(input.Passphrase, *info.Passphrase)
	}
	if input.RecoveryKey == "" {
		return nil, fmt.Errorf("secretstorage: no recovery key entered")
	}
	return m.decoder.DecodeRecoveryKey(input.RecoveryKey)
}

// passphraseOnly returns a KeyInfo carrying only info's passphrase
// parameters, the shape the dehydration API expects.
func passphraseOnly(info e2ee.KeyInfo) e2ee.KeyInfo {
	var result e2ee.KeyInfo
	if info.Passphrase != nil {
		passphrase := *info.Passphrase
		result.Passphrase = &passphrase
	}
	return result
}
