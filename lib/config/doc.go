// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for bureau-trust.
//
// The file is named by the BUREAU_TRUST_CONFIG environment variable
// ([Load]) or by an explicit path ([LoadFile], used for --config).
// There is no discovery and no per-field environment override; the
// file is the whole truth. Sections named after an environment
// (development, staging, production) override base values when
// [Config].Environment matches, and production turns secure-backup
// enforcement on unless the file says otherwise.
//
// ${VAR} and ${VAR:-default} are expanded in path-like fields after
// loading. Durations are parsed by [Config.Validate] so a bad value
// fails at startup rather than on first use.
//
// This package depends on no other Bureau packages.
package config
