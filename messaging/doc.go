// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API that
// bureau-trust reads: server capabilities, account data, the key backup
// version, device key queries, room state, and /sync.
//
// [Client] is unauthenticated and holds the homeserver URL and HTTP
// transport. [Client.SessionFromToken] returns a [*DirectSession] that
// carries the access token in mmap-backed secret.Buffer memory; callers
// must Close it. [Session] is the interface the e2ee package consumes so
// tests can substitute an httptest-backed or fake implementation.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code and HTTP status. [IsMatrixError] tests for a specific code.
// Endpoints where absence is a normal answer (no key backup, unset
// account data) translate M_NOT_FOUND into a nil result so callers do
// not branch on error codes.
//
// Response bodies are read through a bounded reader (see
// [MaxResponseSize]). Request URLs are built by string concatenation to
// avoid double-encoding escaped path segments.
package messaging
