// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds private key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). The garbage collector never
// sees it, so it is never copied or relocated, and Close zeroes it
// before unmapping. Secret-storage keys cached for the duration of an
// access operation and the one-shot dehydration key both live in
// Buffers.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer
//   - [NewFromBytes] copies into protected memory and zeroes the source
//   - [Buffer.Clone] makes an independent protected copy
//   - [ReadFromPath] loads a secret from a file or stdin
//
// After Close every accessor panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix. No Bureau-internal dependencies.
package secret
