// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package e2ee defines the end-to-end-encryption client surface that the
// trust orchestration packages (secretstorage, devicelistener) consume,
// the events that client emits, and a homeserver-backed implementation
// for processes that have no local crypto store.
//
// [Client] is the consumed contract. A full implementation owns an Olm
// machine and a crypto store; this package does not provide one. What it
// does provide:
//
//   - [Event] is a closed set of variants ([WillUpdateDevices],
//     [DevicesUpdated], [AccountData], [SyncStateChanged], ...), one per
//     notification the orchestration reacts to. [Emitter] fans them out
//     to subscribers synchronously.
//   - [HomeserverState] answers the server-side questions (unstable
//     feature support, default secret storage key, key backup version,
//     published device and cross-signing keys) over a messaging.Session.
//   - [SyncSource] long-polls /sync and turns account data, device list
//     changes, and m.room.encryption state into events, tracking joined
//     and encrypted rooms along the way.
//   - [ServerClient] combines the two into a [Client] whose reads come
//     from the homeserver and whose mutating operations fail with
//     [ErrReadOnly]. It is what the bureau-trust CLI runs the device
//     listener against.
//
// Device trust in [ServerClient] is derived from signature presence in
// /keys/query results. Signatures are not verified; that belongs to the
// crypto layer.
package e2ee
