// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"

	"github.com/bureau-foundation/bureau-trust/lib/secret"
)

// TryUnlockWithDehydrationKey uses a key captured by the dehydration
// dialog to finish cross-signing setup without prompting. It does
// nothing unless such a key is cached and secret storage is ready.
//
// Failures are logged, not returned. When a key backup exists the
// restore continues in the background and the returned channel
// receives its result; otherwise the channel is nil. The cached key is
// zeroed once all work finishes. ctx bounds the background restore.
func (m *Manager) TryUnlockWithDehydrationKey(ctx context.Context) <-chan error {
	key, info, ok := m.dehydration.Get()
	if !ok {
		return nil
	}
	defer secret.Zero(key)

	ready, err := m.client.IsSecretStorageReady(ctx)
	if err != nil {
		m.logger.Warn("checking secret storage readiness for dehydration unlock", "error", err)
		return nil
	}
	if !ready {
		return nil
	}

	m.logger.Info("trying to set up cross-signing using dehydration key")
	m.gate.Begin()
	m.gate.SetNonInteractive(true)
	restoring := false
	defer func() {
		if !restoring {
			m.finishDehydrationUnlock()
		}
	}()

	if err := m.client.CheckOwnCrossSigningTrust(ctx); err != nil {
		m.logger.Warn("dehydration unlock: checking own cross-signing trust", "error", err)
		return nil
	}

	if err := m.client.SetDehydrationKey(ctx, key, passphraseOnly(info), m.dehydratedDeviceName); err != nil {
		m.logger.Warn("dehydration unlock: setting dehydration key", "error", err)
		return nil
	}

	backup, err := m.client.GetKeyBackupVersion(ctx)
	if err != nil {
		m.logger.Warn("dehydration unlock: fetching key backup version", "error", err)
		return nil
	}
	if backup == nil {
		return nil
	}

	restoring = true
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := m.client.RestoreKeyBackupWithSecretStorage(ctx, backup)
		if err != nil {
			m.logger.Warn("dehydration unlock: restoring key backup", "version", backup.Version, "error", err)
		} else {
			m.logger.Info("restored key backup using dehydration key", "version", backup.Version)
		}
		m.finishDehydrationUnlock()
		done <- err
	}()
	return done
}

func (m *Manager) finishDehydrationUnlock() {
	m.gate.SetNonInteractive(false)
	m.release()
	m.dehydration.Clear()
}
