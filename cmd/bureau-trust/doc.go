// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-trust inspects and maintains the end-to-end encryption trust
// state of one Matrix account.
//
// Commands:
//
//	status     report cross-signing support, secret storage, key backup
//	           and the account's devices with their trust
//	check-key  prompt for the secret storage passphrase or recovery key
//	           and verify it against the default key
//	watch      follow /sync and print the encryption setup and
//	           unverified session notices as they change
//
// Configuration comes from the YAML file named by --config or the
// BUREAU_TRUST_CONFIG environment variable. The access token is read
// from homeserver.access_token_file.
//
// The client holds no Olm machine, so it never creates or uploads
// private keys. Operations that would need them (bootstrapping
// cross-signing, dehydrating a device) are reported as unavailable.
package main
