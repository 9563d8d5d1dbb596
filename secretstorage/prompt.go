// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"

	"github.com/bureau-foundation/bureau-trust/e2ee"
)

// KeyInput is what the user typed into the access dialog: a
// passphrase, a recovery key, or both.
type KeyInput struct {
	Passphrase  string
	RecoveryKey string
}

// Dismissal controls whether a dialog may be closed by clicking
// outside it.
type Dismissal int

const (
	// DismissAllowed closes the dialog as a decline.
	DismissAllowed Dismissal = iota
	// DismissWithConfirmation asks the user before closing.
	DismissWithConfirmation
	// DismissForbidden ignores background clicks.
	DismissForbidden
)

func (d Dismissal) String() string {
	switch d {
	case DismissAllowed:
		return "allowed"
	case DismissWithConfirmation:
		return "confirm"
	case DismissForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// DialogOptions carries presentation policy to the Prompter.
type DialogOptions struct {
	BackgroundDismiss Dismissal
}

// AccessRequest describes the key the access dialog must collect.
type AccessRequest struct {
	KeyID    string
	Info     e2ee.KeyInfo
	ItemName string

	// Check validates candidate input. The dialog keeps prompting
	// while it returns false.
	Check func(ctx context.Context, input KeyInput) bool
}

// CreateRequest parameterises the secret storage creation dialog.
type CreateRequest struct {
	ForceReset bool
}

// Prompter is the dialog layer. Every method blocks until the user
// answers; a decline is (zero value, false, nil). Errors are reserved
// for failures of the dialog machinery itself.
type Prompter interface {
	// AccessSecretStorage asks for a passphrase or recovery key.
	AccessSecretStorage(ctx context.Context, request AccessRequest, options DialogOptions) (KeyInput, bool, error)

	// CreateSecretStorage walks the user through creating secret
	// storage, performing the bootstrap itself.
	CreateSecretStorage(ctx context.Context, request CreateRequest, options DialogOptions) (bool, error)

	// InteractiveAuth completes user-interactive auth for makeRequest.
	InteractiveAuth(ctx context.Context, makeRequest e2ee.AuthRequestFunc) (bool, error)

	// RestoreKeyBackup asks for the key of an existing key backup.
	RestoreKeyBackup(ctx context.Context) ([]byte, bool, error)
}

// KeyDecoder turns user input into secret storage key bytes.
type KeyDecoder interface {
	DecodeRecoveryKey(recoveryKey string) ([]byte, error)
	DeriveKey(passphrase string, info e2ee.PassphraseInfo) ([]byte, error)
}

// Customisations are host application hooks.
type Customisations struct {
	// SecretStorageKey, when set and returning a non-empty key, is
	// used instead of prompting.
	SecretStorageKey func() []byte

	// CatchAccessError observes every error AccessSecretStorage
	// returns, before it is returned.
	CatchAccessError func(err error)
}
