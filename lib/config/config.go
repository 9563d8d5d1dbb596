// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the top-level bureau-trust configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Homeserver    HomeserverConfig    `yaml:"homeserver"`
	Listener      ListenerConfig      `yaml:"listener"`
	SecretStorage SecretStorageConfig `yaml:"secret_storage"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment replacements. Nil sections and
// empty strings leave the base value alone.
type Overrides struct {
	Homeserver    *HomeserverConfig            `yaml:"homeserver,omitempty"`
	Listener      *ListenerConfig              `yaml:"listener,omitempty"`
	SecretStorage *SecretStorageOverrideConfig `yaml:"secret_storage,omitempty"`
}

// HomeserverConfig locates the Matrix account whose trust state is
// managed.
type HomeserverConfig struct {
	// URL is the homeserver base URL (e.g., "https://matrix.example.org").
	URL string `yaml:"url"`

	// UserID is the fully-qualified Matrix user ID.
	UserID string `yaml:"user_id"`

	// DeviceID is this session's device. Its own device is never
	// reported as unverified.
	DeviceID string `yaml:"device_id"`

	// AccessTokenFile holds the access token; "-" reads stdin.
	AccessTokenFile string `yaml:"access_token_file"`
}

// ListenerConfig tunes the device trust recheck engine.
type ListenerConfig struct {
	// KeyBackupTTL bounds how long a fetched key-backup version is
	// reused between rechecks. Default: 5m.
	KeyBackupTTL string `yaml:"key_backup_ttl"`

	// SyncRetryDelay is the pause after a failed /sync before the
	// event source tries again. Default: 5s.
	SyncRetryDelay string `yaml:"sync_retry_delay"`
}

// SecretStorageConfig holds the organisation policy and feature flags
// consumed by the secret storage manager.
type SecretStorageConfig struct {
	// DehydrationEnabled turns on dehydrated device setup after
	// secret storage is bootstrapped. Default: false.
	DehydrationEnabled bool `yaml:"dehydration_enabled"`

	// SecureBackupRequired is the organisation policy that forbids
	// dismissing the creation dialog and skips the setup toast in
	// favour of opening the flow directly. Default: false
	// (development), true (production).
	SecureBackupRequired bool `yaml:"secure_backup_required"`

	// DehydratedDeviceName is the display name given to dehydrated
	// devices. Default: "Backup device".
	DehydratedDeviceName string `yaml:"dehydrated_device_name"`
}

// SecretStorageOverrideConfig mirrors SecretStorageConfig with
// pointers so an override can set a flag back to false.
type SecretStorageOverrideConfig struct {
	DehydrationEnabled   *bool  `yaml:"dehydration_enabled,omitempty"`
	SecureBackupRequired *bool  `yaml:"secure_backup_required,omitempty"`
	DehydratedDeviceName string `yaml:"dehydrated_device_name,omitempty"`
}

// Default returns the base configuration onto which the file is
// decoded.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listener: ListenerConfig{
			KeyBackupTTL:   "5m",
			SyncRetryDelay: "5s",
		},
		SecretStorage: SecretStorageConfig{
			DehydratedDeviceName: "Backup device",
		},
	}
}

// Load reads the file named by BUREAU_TRUST_CONFIG. It fails when the
// variable is unset; there is no default location.
func Load() (*Config, error) {
	path := os.Getenv("BUREAU_TRUST_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BUREAU_TRUST_CONFIG environment variable not set; " +
			"set it to the path of your bureau-trust.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads and post-processes the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		required := true
		if overrides == nil {
			overrides = &Overrides{}
		}
		if overrides.SecretStorage == nil {
			overrides.SecretStorage = &SecretStorageOverrideConfig{SecureBackupRequired: &required}
		}
	}
	if overrides == nil {
		return
	}

	if homeserver := overrides.Homeserver; homeserver != nil {
		setIfNonEmpty(&c.Homeserver.URL, homeserver.URL)
		setIfNonEmpty(&c.Homeserver.UserID, homeserver.UserID)
		setIfNonEmpty(&c.Homeserver.DeviceID, homeserver.DeviceID)
		setIfNonEmpty(&c.Homeserver.AccessTokenFile, homeserver.AccessTokenFile)
	}
	if listener := overrides.Listener; listener != nil {
		setIfNonEmpty(&c.Listener.KeyBackupTTL, listener.KeyBackupTTL)
		setIfNonEmpty(&c.Listener.SyncRetryDelay, listener.SyncRetryDelay)
	}
	if storage := overrides.SecretStorage; storage != nil {
		if storage.DehydrationEnabled != nil {
			c.SecretStorage.DehydrationEnabled = *storage.DehydrationEnabled
		}
		if storage.SecureBackupRequired != nil {
			c.SecretStorage.SecureBackupRequired = *storage.SecureBackupRequired
		}
		setIfNonEmpty(&c.SecretStorage.DehydratedDeviceName, storage.DehydratedDeviceName)
	}
}

func setIfNonEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	c.Homeserver.URL = expandVars(c.Homeserver.URL)
	c.Homeserver.AccessTokenFile = expandVars(c.Homeserver.AccessTokenFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with the environment
// value, falling back to the default (or empty).
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// KeyBackupTTLDuration returns the parsed listener.key_backup_ttl.
// Call Validate first; an unparsable value yields zero.
func (c *Config) KeyBackupTTLDuration() time.Duration {
	duration, _ := time.ParseDuration(c.Listener.KeyBackupTTL)
	return duration
}

// SyncRetryDelayDuration returns the parsed listener.sync_retry_delay.
func (c *Config) SyncRetryDelayDuration() time.Duration {
	duration, _ := time.ParseDuration(c.Listener.SyncRetryDelay)
	return duration
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	}
	if c.Homeserver.UserID == "" {
		errs = append(errs, fmt.Errorf("homeserver.user_id is required"))
	}
	for name, value := range map[string]string{
		"listener.key_backup_ttl":   c.Listener.KeyBackupTTL,
		"listener.sync_retry_delay": c.Listener.SyncRetryDelay,
	} {
		duration, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}
	return errors.Join(errs...)
}
