// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/secret"
)

// AccessSecretStorage runs op with secret storage unlocked, setting it
// up first when needed. Keys obtained during the call stay cached
// until it returns. op may be nil to only ensure setup.
//
// When the account has no secret storage key, or forceReset is set,
// the creation dialog replaces the bootstrap and op runs once the user
// completes it.
func (m *Manager) AccessSecretStorage(ctx context.Context, op func(ctx context.Context) error, forceReset bool) error {
	m.gate.Begin()
	defer m.release()

	err := m.bootstrap(ctx, forceReset)
	if err == nil && op != nil {
		err = op(ctx)
	}
	if err != nil {
		if m.custom.CatchAccessError != nil {
			m.custom.CatchAccessError(err)
		}
		m.logger.Error("secret storage access failed", "error", err)
		return err
	}
	return nil
}

// Access is AccessSecretStorage for an operation that produces a value.
func Access[T any](ctx context.Context, m *Manager, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.AccessSecretStorage(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	}, false)
	return result, err
}

func (m *Manager) bootstrap(ctx context.Context, forceReset bool) error {
	hasKey, err := m.client.HasSecretStorageKey(ctx)
	if err != nil {
		return fmt.Errorf("checking for secret storage key: %w", err)
	}

	if !hasKey || forceReset {
		dismissal := DismissAllowed
		if m.secureBackupRequired() {
			dismissal = DismissForbidden
		}
		m.logger.Info("creating secret storage", "force_reset", forceReset)
		confirmed, err := m.prompter.CreateSecretStorage(ctx, CreateRequest{ForceReset: forceReset}, DialogOptions{BackgroundDismiss: dismissal})
		if err != nil {
			return fmt.Errorf("creating secret storage: %w", err)
		}
		if !confirmed {
			return ErrSetupCancelled
		}
		return nil
	}

	m.logger.Debug("bootstrapping cross-signing")
	if err := m.client.BootstrapCrossSigning(ctx, e2ee.BootstrapCrossSigningOptions{
		AuthUploadDeviceSigningKeys: m.authUploadDeviceSigningKeys,
	}); err != nil {
		return fmt.Errorf("bootstrapping cross-signing: %w", err)
	}

	m.logger.Debug("bootstrapping secret storage")
	if err := m.client.BootstrapSecretStorage(ctx, e2ee.BootstrapSecretStorageOptions{
		GetKeyBackupPassphrase: m.PromptForBackupPassphrase,
	}); err != nil {
		return fmt.Errorf("bootstrapping secret storage: %w", err)
	}

	return m.setUpDehydration(ctx)
}

// authUploadDeviceSigningKeys tries the upload without auth and falls
// back to the interactive auth dialog when the server asks for it.
func (m *Manager) authUploadDeviceSigningKeys(ctx context.Context, makeRequest e2ee.AuthRequestFunc) error {
	err := makeRequest(ctx, nil)
	if err == nil || !errors.Is(err, e2ee.ErrInteractiveAuthRequired) {
		return err
	}

	confirmed, err := m.prompter.InteractiveAuth(ctx, makeRequest)
	if err != nil {
		return fmt.Errorf("cross-signing key upload auth: %w", err)
	}
	if !confirmed {
		return ErrCrossSigningAuthCancelled
	}
	return nil
}

func (m *Manager) setUpDehydration(ctx context.Context) error {
	keyID, ok := m.keys.FirstKeyID()
	if !ok {
		m.logger.Warn("not setting dehydration key: no secret storage key")
		return nil
	}
	if !m.dehydrationEnabled {
		m.logger.Info("not setting dehydration key: dehydration disabled")
		return nil
	}

	key, ok := m.keys.Lookup(keyID)
	if !ok {
		return nil
	}
	defer secret.Zero(key)
	info, _ := m.keys.Info(keyID)

	m.logger.Info("setting dehydration key", "key_id", keyID)
	if err := m.client.SetDehydrationKey(ctx, key, passphraseOnly(info), m.dehydratedDeviceName); err != nil {
		return fmt.Errorf("setting dehydration key: %w", err)
	}
	return nil
}

// PromptForBackupPassphrase asks for the key of an existing key backup.
func (m *Manager) PromptForBackupPassphrase(ctx context.Context) ([]byte, error) {
	key, confirmed, err := m.prompter.RestoreKeyBackup(ctx)
	if err != nil {
		return nil, fmt.Errorf("prompting for key backup key: %w", err)
	}
	if !confirmed {
		return nil, ErrBackupPromptCancelled
	}
	return key, nil
}
