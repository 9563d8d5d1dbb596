// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/clock"
	"github.com/bureau-foundation/bureau-trust/lib/dispatch"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// SecretStorage is the part of the secret storage manager the listener
// needs.
type SecretStorage interface {
	IsSecretStorageBeingAccessed() bool
	AccessSecretStorage(ctx context.Context, op func(ctx context.Context) error, forceReset bool) error
}

// Registrar is an action dispatcher.
type Registrar interface {
	Register(callback func(dispatch.Action)) dispatch.Token
	Unregister(token dispatch.Token)
}

// Config holds the dependencies of a Listener.
type Config struct {
	Client        e2ee.Client
	Events        e2ee.Subscriber
	Toasts        Toasts
	SecretStorage SecretStorage

	// Dispatcher, if set, delivers the logged-in action.
	Dispatcher Registrar

	// Clock drives the key backup cache. Defaults to clock.Real().
	Clock clock.Clock

	// KeyBackupTTL defaults to DefaultKeyBackupTTL.
	KeyBackupTTL time.Duration

	// SecureBackupRequired and IsLoggedIn gate opening secret storage
	// setup directly instead of showing the setup toast. Nil means
	// false.
	SecureBackupRequired func() bool
	IsLoggedIn           func() bool

	Logger *slog.Logger
}

// Listener maintains the encryption toasts for one session.
type Listener struct {
	client     e2ee.Client
	events     e2ee.Subscriber
	toasts     Toasts
	storage    SecretStorage
	dispatcher Registrar
	logger     *slog.Logger

	secureBackupRequired func() bool
	isLoggedIn           func() bool

	backup backupInfoCache

	// requests holds at most one pending recheck.
	requests chan struct{}

	// settingUp is set while a directly opened secret storage setup
	// runs, so later rechecks do not open a second one.
	settingUp atomic.Bool

	mu                       sync.Mutex
	dismissed                map[ref.DeviceID]struct{}
	dismissedThisDeviceSetup bool
	devicesAtStart           map[ref.DeviceID]struct{}
	displayed                map[ref.DeviceID]struct{}
	runCtx                   context.Context

	lifecycle   sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	token       dispatch.Token
}

// New validates config and returns a stopped Listener.
func New(config Config) (*Listener, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("devicelistener: Client is required")
	}
	if config.Events == nil {
		return nil, fmt.Errorf("devicelistener: Events is required")
	}
	if config.Toasts == nil {
		return nil, fmt.Errorf("devicelistener: Toasts is required")
	}
	if config.SecretStorage == nil {
		return nil, fmt.Errorf("devicelistener: SecretStorage is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ttl := config.KeyBackupTTL
	if ttl <= 0 {
		ttl = DefaultKeyBackupTTL
	}

	return &Listener{
		client:               config.Client,
		events:               config.Events,
		toasts:               config.Toasts,
		storage:              config.SecretStorage,
		dispatcher:           config.Dispatcher,
		logger:               logger,
		secureBackupRequired: orFalse(config.SecureBackupRequired),
		isLoggedIn:           orFalse(config.IsLoggedIn),
		backup:               backupInfoCache{clock: clk, ttl: ttl},
		requests:             make(chan struct{}, 1),
		dismissed:            make(map[ref.DeviceID]struct{}),
		displayed:            make(map[ref.DeviceID]struct{}),
	}, nil
}

func orFalse(predicate func() bool) func() bool {
	if predicate == nil {
		return func() bool { return false }
	}
	return predicate
}

// Start subscribes to events and starts the recheck worker, then
// requests an initial recheck. The worker runs until Stop or until ctx
// is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.cancel != nil {
		return fmt.Errorf("devicelistener: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Lock()
	l.runCtx = runCtx
	l.mu.Unlock()
	l.unsubscribe = l.events.Subscribe(l.handleEvent)
	if l.dispatcher != nil {
		l.token = l.dispatcher.Register(l.handleAction)
	}

	go func() {
		defer close(l.done)
		l.run(runCtx)
	}()

	l.requestRecheck()
	l.logger.Info("device listener started", "user_id", l.client.UserID())
	return nil
}

// Stop unsubscribes, waits for the worker to exit, and forgets all
// session state: dismissals, the device snapshot, the cached key
// backup version and the displayed toasts. Stopping a stopped
// listener is a no-op.
func (l *Listener) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.cancel == nil {
		return
	}

	l.unsubscribe()
	if l.dispatcher != nil {
		l.dispatcher.Unregister(l.token)
	}
	l.cancel()
	<-l.done
	l.cancel = nil

	select {
	case <-l.requests:
	default:
	}

	l.mu.Lock()
	l.dismissed = make(map[ref.DeviceID]struct{})
	l.dismissedThisDeviceSetup = false
	l.devicesAtStart = nil
	l.displayed = make(map[ref.DeviceID]struct{})
	l.runCtx = nil
	l.mu.Unlock()
	l.backup.invalidate()

	l.logger.Info("device listener stopped")
}

// DismissUnverifiedSessions stops toasts for deviceIDs for the rest of
// the listener's lifetime.
func (l *Listener) DismissUnverifiedSessions(deviceIDs []ref.DeviceID) {
	l.logger.Debug("dismissing unverified sessions", "device_ids", deviceIDs)
	l.mu.Lock()
	for _, deviceID := range deviceIDs {
		l.dismissed[deviceID] = struct{}{}
	}
	l.mu.Unlock()
	l.requestRecheck()
}

// DismissEncryptionSetup hides the setup-encryption toast for the rest
// of the listener's lifetime.
func (l *Listener) DismissEncryptionSetup() {
	l.mu.Lock()
	l.dismissedThisDeviceSetup = true
	l.mu.Unlock()
	l.requestRecheck()
}

// requestRecheck queues a recheck unless one is already pending.
func (l *Listener) requestRecheck() {
	select {
	case l.requests <- struct{}{}:
	default:
	}
}

func (l *Listener) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.requests:
			if err := l.Recheck(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("device trust recheck failed", "error", err)
			}
		}
	}
}

func (l *Listener) handleAction(action dispatch.Action) {
	if action.Type == dispatch.ActionLoggedIn {
		l.requestRecheck()
	}
}

func (l *Listener) handleEvent(event e2ee.Event) {
	me := l.client.UserID()
	switch event := event.(type) {
	case e2ee.WillUpdateDevices:
		// A first fetch reveals devices that all predate us; take the
		// snapshot after it instead.
		if event.InitialFetch {
			return
		}
		if e2ee.ContainsUser(event.Users, me) {
			l.ensureDevicesAtStart()
		}

	case e2ee.DevicesUpdated:
		if e2ee.ContainsUser(event.Users, me) {
			l.requestRecheck()
		}

	case e2ee.DeviceVerificationChanged:
		if event.UserID == me {
			l.requestRecheck()
		}

	case e2ee.UserTrustStatusChanged:
		if event.UserID == me {
			l.requestRecheck()
		}

	case e2ee.CrossSigningKeysChanged:
		l.requestRecheck()

	case e2ee.AccountData:
		if event.Type == e2ee.MegolmBackupEventType {
			l.backup.invalidate()
			l.requestRecheck()
			return
		}
		if event.Type.HasPrefix(e2ee.SecretStoragePrefix) || event.Type.HasPrefix(e2ee.CrossSigningPrefix) {
			l.requestRecheck()
		}

	case e2ee.SyncStateChanged:
		if event.State == e2ee.SyncPrepared && event.Previous == e2ee.SyncNone {
			l.requestRecheck()
		}

	case e2ee.RoomState:
		if event.Type == e2ee.RoomEncryptionType {
			l.requestRecheck()
		}

	case e2ee.KeyBackupStatus:
		l.backup.invalidate()
		l.requestRecheck()
	}
}

// ensureDevicesAtStart snapshots our device list the first time it is
// called.
func (l *Listener) ensureDevicesAtStart() {
	l.mu.Lock()
	populated := l.devicesAtStart != nil
	l.mu.Unlock()
	if populated {
		return
	}

	devices := l.client.GetStoredDevicesForUser(l.client.UserID())
	snapshot := make(map[ref.DeviceID]struct{}, len(devices))
	for _, device := range devices {
		snapshot[device.DeviceID] = struct{}{}
	}

	l.mu.Lock()
	if l.devicesAtStart == nil {
		l.devicesAtStart = snapshot
	}
	l.mu.Unlock()
}
