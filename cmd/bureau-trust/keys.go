// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ssskey"
	"github.com/bureau-foundation/bureau-trust/secretstorage"
)

// keyDecoder is the secretstorage.KeyDecoder backed by lib/ssskey.
type keyDecoder struct{}

var _ secretstorage.KeyDecoder = keyDecoder{}

func (keyDecoder) DecodeRecoveryKey(recoveryKey string) ([]byte, error) {
	return ssskey.DecodeRecoveryKey(recoveryKey)
}

func (keyDecoder) DeriveKey(passphrase string, info e2ee.PassphraseInfo) ([]byte, error) {
	if info.Algorithm != e2ee.PassphraseAlgorithmPBKDF2 {
		return nil, fmt.Errorf("unsupported passphrase algorithm %q", info.Algorithm)
	}
	return ssskey.DeriveFromPassphrase(passphrase, info.Salt, info.Iterations, info.Bits)
}

// checkSecretStorageKey is the e2ee.KeyCheckFunc for keys using the
// v1 aes-hmac-sha2 algorithm. Keys published without iv and mac cannot
// be checked and are rejected.
func checkSecretStorageKey(key []byte, info e2ee.KeyInfo) (bool, error) {
	if info.Algorithm != e2ee.SecretStorageAlgorithmV1 {
		return false, fmt.Errorf("unsupported secret storage algorithm %q", info.Algorithm)
	}
	if info.IV == "" || info.MAC == "" {
		return false, fmt.Errorf("key description has no iv/mac to check against")
	}
	return ssskey.CheckKey(key, info.IV, info.MAC)
}
