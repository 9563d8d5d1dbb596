// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import "errors"

var (
	// ErrAccessCancelled is returned when the user declines the
	// passphrase or recovery key dialog.
	ErrAccessCancelled = errors.New("secretstorage: secret storage access cancelled")

	// ErrSetupCancelled is returned when the user declines the secret
	// storage creation dialog.
	ErrSetupCancelled = errors.New("secretstorage: secret storage creation cancelled")

	// ErrAmbiguousKey is returned when several keys are offered, none
	// of them is the default, and so no key can be chosen.
	ErrAmbiguousKey = errors.New("secretstorage: multiple storage key requests not implemented")

	// ErrNoKey is returned when no key is offered at all.
	ErrNoKey = errors.New("secretstorage: no secret storage key offered")

	// ErrNonInteractiveUnlock is returned when a prompt would be needed
	// while the manager runs unattended.
	ErrNonInteractiveUnlock = errors.New("secretstorage: could not unlock non-interactively")

	// ErrBackupPromptCancelled is returned when the user declines the
	// key backup passphrase dialog.
	ErrBackupPromptCancelled = errors.New("secretstorage: key backup prompt cancelled")

	// ErrCrossSigningAuthCancelled is returned when the user declines
	// user-interactive auth for the cross-signing key upload.
	ErrCrossSigningAuthCancelled = errors.New("secretstorage: cross-signing key upload auth cancelled")
)
