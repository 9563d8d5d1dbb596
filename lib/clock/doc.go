// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that read wall time or wait on it take a [Clock] instead of
// calling the time package. Production wiring passes [Real]; tests pass
// a [FakeClock] from [Fake] and move time forward explicitly with
// [FakeClock.Advance]. The key-backup TTL cache in devicelistener and
// the /sync retry backoff in e2ee are the two consumers.
//
// A goroutine that is about to wait on [FakeClock.After] registers a
// pending waiter first. Tests call [FakeClock.WaitForTimers] before
// advancing so the advance cannot race the registration.
package clock
