// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ssskey implements the key handling of Matrix secret storage
// (algorithm m.secret_storage.v1.aes-hmac-sha2): turning a recovery key
// or passphrase into the 32-byte storage key, and checking that key
// against the iv/mac pair published in its key description.
//
// The package takes and returns plain values so it can sit under any
// client. Key material is returned as heap slices; callers that cache
// keys copy them into lib/secret buffers.
package ssskey
