// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// CrossSigningCallbacks is the callback set the crypto layer calls
// when it needs secret storage keys or receives a secret request.
type CrossSigningCallbacks struct {
	GetSecretStorageKey   func(ctx context.Context, keyInfos map[string]e2ee.KeyInfo, itemName string) (string, []byte, error)
	CacheSecretStorageKey func(keyID string, info e2ee.KeyInfo, key []byte)
	OnSecretRequested     func(ctx context.Context, userID ref.UserID, deviceID ref.DeviceID, requestID, name string, trust e2ee.DeviceTrust) (string, bool, error)
	GetDehydrationKey     func(ctx context.Context, info e2ee.KeyInfo, check func(key []byte) error) ([]byte, error)
}

// Callbacks returns the manager's methods as a CrossSigningCallbacks.
func (m *Manager) Callbacks() CrossSigningCallbacks {
	return CrossSigningCallbacks{
		GetSecretStorageKey:   m.GetSecretStorageKey,
		CacheSecretStorageKey: m.CacheSecretStorageKey,
		OnSecretRequested:     m.OnSecretRequested,
		GetDehydrationKey:     m.GetDehydrationKey,
	}
}

// OnSecretRequested answers a secret request from one of our own
// verified devices with the padded base64 of the cached secret.
// Requests from other users, from unverified devices, for unknown
// secrets or for secrets not cached are declined with ok false.
func (m *Manager) OnSecretRequested(ctx context.Context, userID ref.UserID, deviceID ref.DeviceID, requestID, name string, trust e2ee.DeviceTrust) (string, bool, error) {
	logger := m.logger.With("user_id", userID, "device_id", deviceID, "request_id", requestID, "secret", name)
	logger.Info("secret requested")

	if userID != m.client.UserID() {
		return "", false, nil
	}
	if !trust.IsVerified() {
		logger.Info("ignoring secret request from untrusted device")
		return "", false, nil
	}

	var (
		key []byte
		err error
	)
	switch name {
	case e2ee.SecretCrossSigningSelfSigning, e2ee.SecretCrossSigningUserSigning:
		key, err = m.client.CachedCrossSigningKey(ctx, strings.TrimPrefix(name, e2ee.CrossSigningPrefix))
	case e2ee.SecretMegolmBackup:
		key, err = m.client.SessionBackupPrivateKey(ctx)
	default:
		logger.Warn("secret requested for unrecognised name")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(key) == 0 {
		logger.Info("requested secret is not cached")
		return "", false, nil
	}
	return base64.StdEncoding.EncodeToString(key), true, nil
}
