// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/config"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/lib/secret"
	"github.com/bureau-foundation/bureau-trust/messaging"
)

// environment is the wired object graph shared by every command.
type environment struct {
	config  *config.Config
	logger  *slog.Logger
	session *messaging.DirectSession
	state   *e2ee.HomeserverState
	emitter *e2ee.Emitter
	sync    *e2ee.SyncSource
	client  *e2ee.ServerClient
}

// connect authenticates against the homeserver and builds the e2ee
// client. The SyncSource is constructed but not started.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*environment, error) {
	userID, err := ref.ParseUserID(cfg.Homeserver.UserID)
	if err != nil {
		return nil, fmt.Errorf("homeserver.user_id: %w", err)
	}

	matrixClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	session, err := openSession(ctx, matrixClient, cfg, userID)
	if err != nil {
		return nil, err
	}

	env := &environment{
		config:  cfg,
		logger:  logger.With("user_id", userID.String(), "device_id", session.DeviceID().String()),
		session: session,
		emitter: e2ee.NewEmitter(),
	}
	env.state = e2ee.NewHomeserverState(matrixClient, session, env.logger)

	// The sync source and the client each need the other; tracker
	// breaks the cycle.
	tracker := &deviceTracker{}
	env.sync, err = e2ee.NewSyncSource(e2ee.SyncSourceConfig{
		Session:    session,
		Emitter:    env.emitter,
		Devices:    tracker,
		RetryDelay: cfg.SyncRetryDelayDuration(),
		Logger:     env.logger,
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	env.client, err = e2ee.NewServerClient(e2ee.ServerClientConfig{
		State:    env.state,
		Rooms:    env.sync,
		Emitter:  env.emitter,
		UserID:   userID,
		DeviceID: session.DeviceID(),
		CheckKey: checkSecretStorageKey,
		Logger:   env.logger,
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	tracker.client = env.client
	return env, nil
}

// openSession reads the access token and resolves the device ID, from
// config when set and from whoami otherwise.
func openSession(ctx context.Context, matrixClient *messaging.Client, cfg *config.Config, userID ref.UserID) (*messaging.DirectSession, error) {
	if cfg.Homeserver.AccessTokenFile == "" {
		return nil, fmt.Errorf("homeserver.access_token_file is required")
	}
	token, err := secret.ReadFromPath(cfg.Homeserver.AccessTokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}
	defer token.Close()

	var deviceID ref.DeviceID
	if cfg.Homeserver.DeviceID != "" {
		deviceID, err = ref.ParseDeviceID(cfg.Homeserver.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("homeserver.device_id: %w", err)
		}
	}

	session, err := matrixClient.SessionFromToken(userID, deviceID, token.String())
	if err != nil {
		return nil, err
	}
	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("validating access token: %w", err)
	}
	if whoami.UserID != userID {
		session.Close()
		return nil, fmt.Errorf("access token belongs to %s, not %s", whoami.UserID, userID)
	}
	if !deviceID.IsZero() || whoami.DeviceID == "" {
		return session, nil
	}

	// Reopen with the device the token is bound to.
	session.Close()
	deviceID, err = ref.ParseDeviceID(whoami.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("whoami device_id: %w", err)
	}
	return matrixClient.SessionFromToken(userID, deviceID, token.String())
}

func (e *environment) close() {
	if err := e.session.Close(); err != nil {
		e.logger.Warn("closing session", "error", err)
	}
}

type deviceTracker struct {
	client *e2ee.ServerClient
}

func (t *deviceTracker) InvalidateDevices(ctx context.Context, users []ref.UserID) error {
	return t.client.InvalidateDevices(ctx, users)
}
