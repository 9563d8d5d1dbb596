// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bureau-trust.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Environment != Development {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.KeyBackupTTLDuration() != 5*time.Minute {
		t.Errorf("KeyBackupTTL = %v, want 5m", cfg.KeyBackupTTLDuration())
	}
	if cfg.SecretStorage.DehydratedDeviceName != "Backup device" {
		t.Errorf("DehydratedDeviceName = %q", cfg.SecretStorage.DehydratedDeviceName)
	}
	if cfg.SecretStorage.SecureBackupRequired {
		t.Error("SecureBackupRequired should default to false")
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("BUREAU_TRUST_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BUREAU_TRUST_CONFIG is unset")
	}
	if !strings.HasPrefix(err.Error(), "BUREAU_TRUST_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TRUST_TEST_HOME", "/home/alice")
	path := writeConfig(t, `
environment: staging
homeserver:
  url: https://matrix.example.org
  user_id: "@alice:example.org"
  access_token_file: ${TRUST_TEST_HOME}/token
listener:
  key_backup_ttl: 1m
secret_storage:
  dehydration_enabled: true
staging:
  homeserver:
    url: https://staging.example.org
`)
	t.Setenv("BUREAU_TRUST_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Homeserver.URL != "https://staging.example.org" {
		t.Errorf("URL = %q, want staging override", cfg.Homeserver.URL)
	}
	if cfg.Homeserver.AccessTokenFile != "/home/alice/token" {
		t.Errorf("AccessTokenFile = %q", cfg.Homeserver.AccessTokenFile)
	}
	if cfg.KeyBackupTTLDuration() != time.Minute {
		t.Errorf("KeyBackupTTL = %v", cfg.KeyBackupTTLDuration())
	}
	if cfg.SyncRetryDelayDuration() != 5*time.Second {
		t.Errorf("SyncRetryDelay = %v, want default 5s", cfg.SyncRetryDelayDuration())
	}
	if !cfg.SecretStorage.DehydrationEnabled {
		t.Error("DehydrationEnabled not loaded")
	}
}

func TestProductionRequiresSecureBackup(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
environment: production
homeserver:
  url: https://matrix.example.org
  user_id: "@alice:example.org"
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.SecretStorage.SecureBackupRequired {
		t.Error("production should require secure backup by default")
	}

	cfg, err = LoadFile(writeConfig(t, `
environment: production
homeserver:
  url: https://matrix.example.org
  user_id: "@alice:example.org"
production:
  secret_storage:
    secure_backup_required: false
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SecretStorage.SecureBackupRequired {
		t.Error("explicit production override to false was ignored")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "qa"
	cfg.Listener.KeyBackupTTL = "soon"
	cfg.Listener.SyncRetryDelay = "-1s"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		`invalid environment: "qa"`,
		"homeserver.url is required",
		"homeserver.user_id is required",
		"listener.key_backup_ttl",
		"listener.sync_retry_delay must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
