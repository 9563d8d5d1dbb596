// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the "select with a
// wall-clock safety valve" pattern so tests that wait on goroutines
// never hang forever and never call time.After themselves. [UniqueID]
// hands out distinct identifiers (request IDs, device IDs) without
// reaching for time.Now.
//
// Helpers fail the test with Fatalf; there is nothing useful a test can
// do after its own setup has failed.
package testutil
