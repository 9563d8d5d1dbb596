// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretstorage orchestrates access to the account's secret
// storage: the server-side, client-encrypted vault holding the
// cross-signing private keys and the key backup decryption key.
//
// A [Manager] is created once per logged-in session and owns three
// pieces of session-scoped state:
//
//   - a [Gate], the "access in progress" flag. It is a boolean, not a
//     counter: concurrent top-level accesses do not serialize against
//     each other, they share the flag. The device listener reads it to
//     avoid offering encryption setup while an access is running.
//   - a [KeyCache] of secret storage keys obtained during the current
//     access. Stores are dropped unless the gate is held, and the cache
//     is cleared when the outermost access finishes.
//   - a [DehydrationCache] holding one key captured by the dehydration
//     dialog, consumed by [Manager.TryUnlockWithDehydrationKey].
//
// [Manager.AccessSecretStorage] is the entry point. On an account
// without a secret storage key (or with forceReset) it opens the
// creation dialog, which performs the bootstrap itself. Otherwise it
// bootstraps cross-signing, then secret storage, then optionally a
// dehydrated device, and finally runs the caller's operation. Errors
// are reported to [Customisations].CatchAccessError, logged, and
// returned unchanged.
//
// Key material is cached in secret.Buffer memory (locked, excluded
// from core dumps) and handed out as heap copies. Dialogs are reached
// through the [Prompter] contract; a declined dialog is a false
// result, never an error from the Prompter. Wrong passphrases are
// likewise a false check result that lets the dialog re-prompt.
package secretstorage
