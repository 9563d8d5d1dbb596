// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/secret"
)

// GetSecretStorageKey chooses one of keyInfos and returns its ID and
// key bytes. The default key is preferred; without one exactly one key
// must be offered. The key comes from, in order: the access-scoped
// cache, a still-valid dehydration key, the SecretStorageKey
// customisation, and finally the access dialog.
func (m *Manager) GetSecretStorageKey(ctx context.Context, keyInfos map[string]e2ee.KeyInfo, itemName string) (string, []byte, error) {
	keyID, info, err := m.chooseKey(ctx, keyInfos)
	if err != nil {
		return "", nil, err
	}

	if m.keys.CachingAllowed() {
		if key, ok := m.keys.Lookup(keyID); ok {
			return keyID, key, nil
		}
	}

	if key, _, ok := m.dehydration.Get(); ok {
		valid, err := m.client.CheckSecretStorageKey(ctx, key, info)
		if err != nil {
			secret.Zero(key)
			return "", nil, fmt.Errorf("checking dehydration key against %s: %w", keyID, err)
		}
		if valid {
			m.logger.Debug("using cached dehydration key", "key_id", keyID)
			m.keys.Store(keyID, info, key)
			return keyID, key, nil
		}
		secret.Zero(key)
	}

	if m.custom.SecretStorageKey != nil {
		if key := m.custom.SecretStorageKey(); len(key) > 0 {
			m.logger.Info("using secret storage key from customisations", "key_id", keyID)
			key = append([]byte(nil), key...)
			m.keys.Store(keyID, info, key)
			return keyID, key, nil
		}
	}

	if m.gate.NonInteractive() {
		return "", nil, ErrNonInteractiveUnlock
	}

	request := AccessRequest{
		KeyID:    keyID,
		Info:     info.Clone(),
		ItemName: itemName,
		Check: func(ctx context.Context, input KeyInput) bool {
			key, err := m.inputToKey(info, input)
			if err != nil {
				m.logger.Debug("secret storage key input rejected", "key_id", keyID, "error", err)
				return false
			}
			defer secret.Zero(key)
			valid, err := m.client.CheckSecretStorageKey(ctx, key, info)
			if err != nil {
				m.logger.Debug("checking secret storage key failed", "key_id", keyID, "error", err)
				return false
			}
			return valid
		},
	}
	input, confirmed, err := m.prompter.AccessSecretStorage(ctx, request, DialogOptions{BackgroundDismiss: DismissWithConfirmation})
	if err != nil {
		return "", nil, fmt.Errorf("prompting for secret storage key: %w", err)
	}
	if !confirmed {
		return "", nil, ErrAccessCancelled
	}

	key, err := m.inputToKey(info, input)
	if err != nil {
		return "", nil, fmt.Errorf("decoding secret storage key %s: %w", keyID, err)
	}
	m.keys.Store(keyID, info, key)
	return keyID, key, nil
}

// chooseKey picks the key GetSecretStorageKey resolves. A default key
// ID that is not among keyInfos counts as no default.
func (m *Manager) chooseKey(ctx context.Context, keyInfos map[string]e2ee.KeyInfo) (string, e2ee.KeyInfo, error) {
	keyID, err := m.client.GetDefaultSecretStorageKeyID(ctx)
	if err != nil {
		return "", e2ee.KeyInfo{}, fmt.Errorf("reading default secret storage key: %w", err)
	}
	if keyID != "" {
		if info, ok := keyInfos[keyID]; ok {
			return keyID, info, nil
		}
	}

	switch len(keyInfos) {
	case 0:
		return "", e2ee.KeyInfo{}, ErrNoKey
	case 1:
		for keyID, info := range keyInfos {
			return keyID, info, nil
		}
	}
	return "", e2ee.KeyInfo{}, ErrAmbiguousKey
}

// CacheSecretStorageKey records a key obtained elsewhere, for example
// one the crypto layer just created. Ignored outside an access.
func (m *Manager) CacheSecretStorageKey(keyID string, info e2ee.KeyInfo, key []byte) {
	m.keys.Store(keyID, info, key)
}

// GetDehydrationKey obtains the key protecting a dehydrated device.
// check validates candidates inside the dialog; a non-nil error counts
// as a mismatch. A key from the dialog is also kept in the dehydration
// cache as an independent copy, so the caller may clobber the returned
// slice.
func (m *Manager) GetDehydrationKey(ctx context.Context, info e2ee.KeyInfo, check func(key []byte) error) ([]byte, error) {
	if m.custom.SecretStorageKey != nil {
		if key := m.custom.SecretStorageKey(); len(key) > 0 {
			m.logger.Info("using dehydration key from customisations")
			return append([]byte(nil), key...), nil
		}
	}

	request := AccessRequest{
		Info: info.Clone(),
		Check: func(ctx context.Context, input KeyInput) bool {
			key, err := m.inputToKey(info, input)
			if err != nil {
				return false
			}
			defer secret.Zero(key)
			if err := check(key); err != nil {
				m.logger.Debug("dehydration key check failed", "error", err)
				return false
			}
			return true
		},
	}
	input, confirmed, err := m.prompter.AccessSecretStorage(ctx, request, DialogOptions{BackgroundDismiss: DismissWithConfirmation})
	if err != nil {
		return nil, fmt.Errorf("prompting for dehydration key: %w", err)
	}
	if !confirmed {
		return nil, ErrAccessCancelled
	}

	key, err := m.inputToKey(info, input)
	if err != nil {
		return nil, fmt.Errorf("decoding dehydration key: %w", err)
	}
	if err := m.dehydration.Set(key, info); err != nil {
		m.logger.Warn("not caching dehydration key", "error", err)
	}
	return key, nil
}
