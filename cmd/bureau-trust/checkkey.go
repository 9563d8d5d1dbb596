// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/secret"
	"github.com/bureau-foundation/bureau-trust/secretstorage"
)

func runCheckKey(ctx context.Context, env *environment, stdout io.Writer) error {
	manager, err := newManager(env, newTerminalPrompter())
	if err != nil {
		return err
	}
	defer manager.Close()
	return checkKey(ctx, env.state, manager, stdout)
}

func newManager(env *environment, prompter secretstorage.Prompter) (*secretstorage.Manager, error) {
	secureBackupRequired := env.config.SecretStorage.SecureBackupRequired
	return secretstorage.New(secretstorage.Config{
		Client:               env.client,
		Prompter:             prompter,
		KeyDecoder:           keyDecoder{},
		DehydrationEnabled:   env.config.SecretStorage.DehydrationEnabled,
		SecureBackupRequired: func() bool { return secureBackupRequired },
		DehydratedDeviceName: env.config.SecretStorage.DehydratedDeviceName,
		Logger:               env.logger,
	})
}

// checkKey resolves the default key through the manager, which prompts
// until the input matches or the user cancels.
func checkKey(ctx context.Context, state *e2ee.HomeserverState, manager *secretstorage.Manager, stdout io.Writer) error {
	descriptor, err := state.DefaultSecretStorageKey(ctx)
	if err != nil {
		return fmt.Errorf("reading default secret storage key: %w", err)
	}
	if descriptor == nil {
		return fmt.Errorf("this account has no default secret storage key")
	}

	keyID, key, err := manager.GetSecretStorageKey(ctx,
		map[string]e2ee.KeyInfo{descriptor.KeyID: descriptor.Info}, "")
	if errors.Is(err, secretstorage.ErrAccessCancelled) {
		return fmt.Errorf("cancelled")
	}
	if err != nil {
		return err
	}
	secret.Zero(key)

	fmt.Fprintf(stdout, "%s secret storage key %s\n", goodStyle.Render("verified"), keyID)
	return nil
}
