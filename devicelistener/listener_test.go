// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/e2ee/e2eetest"
	"github.com/bureau-foundation/bureau-trust/lib/clock"
	"github.com/bureau-foundation/bureau-trust/lib/dispatch"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/lib/testutil"
)

func TestEventFiltering(t *testing.T) {
	bob := ref.MustParseUserID("@bob:example.org")
	phone := ref.MustParseDeviceID("PHONE")
	tests := []struct {
		name  string
		event e2ee.Event
		want  bool
	}{
		{"our devices updated", e2ee.DevicesUpdated{Users: []ref.UserID{bob, alice}}, true},
		{"other devices updated", e2ee.DevicesUpdated{Users: []ref.UserID{bob}}, false},
		{"will update devices", e2ee.WillUpdateDevices{Users: []ref.UserID{alice}}, false},
		{"our device verified", e2ee.DeviceVerificationChanged{UserID: alice, DeviceID: phone}, true},
		{"other device verified", e2ee.DeviceVerificationChanged{UserID: bob, DeviceID: phone}, false},
		{"our trust changed", e2ee.UserTrustStatusChanged{UserID: alice}, true},
		{"other trust changed", e2ee.UserTrustStatusChanged{UserID: bob}, false},
		{"cross-signing keys changed", e2ee.CrossSigningKeysChanged{}, true},
		{"default key changed", e2ee.AccountData{Type: e2ee.DefaultKeyEventType}, true},
		{"key info changed", e2ee.AccountData{Type: e2ee.KeyEventType("abc")}, true},
		{"cross-signing secret changed", e2ee.AccountData{Type: "m.cross_signing.master"}, true},
		{"backup secret changed", e2ee.AccountData{Type: e2ee.MegolmBackupEventType}, true},
		{"unrelated account data", e2ee.AccountData{Type: "m.push_rules"}, false},
		{"first prepared", e2ee.SyncStateChanged{State: e2ee.SyncPrepared, Previous: e2ee.SyncNone}, true},
		{"prepared after error", e2ee.SyncStateChanged{State: e2ee.SyncPrepared, Previous: e2ee.SyncError}, false},
		{"syncing", e2ee.SyncStateChanged{State: e2ee.SyncSyncing, Previous: e2ee.SyncPrepared}, false},
		{"room encrypted", e2ee.RoomState{RoomID: secretRoom, Type: e2ee.RoomEncryptionType}, true},
		{"room renamed", e2ee.RoomState{RoomID: secretRoom, Type: "m.room.name"}, false},
		{"key backup status", e2ee.KeyBackupStatus{Enabled: true}, true},
	}
	f := newFixture(t, encryptedWorld(), nil)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f.listener.handleEvent(test.event)
			if got := f.pendingRecheck(); got != test.want {
				t.Errorf("recheck requested = %v, want %v", got, test.want)
			}
		})
	}
}

func TestRecheckRequestsCoalesce(t *testing.T) {
	f := newFixture(t, encryptedWorld(), nil)
	for range 10 {
		f.listener.handleEvent(e2ee.CrossSigningKeysChanged{})
	}
	if len(f.listener.requests) != 1 {
		t.Errorf("pending requests = %d, want 1", len(f.listener.requests))
	}
}

func TestWillUpdateDevicesTakesSnapshot(t *testing.T) {
	state := crossSignedWorld()
	f := newFixture(t, state, nil)

	f.listener.handleEvent(e2ee.WillUpdateDevices{Users: []ref.UserID{alice}, InitialFetch: true})
	f.listener.mu.Lock()
	taken := f.listener.devicesAtStart != nil
	f.listener.mu.Unlock()
	if taken {
		t.Fatal("snapshot taken on the initial fetch")
	}

	f.listener.handleEvent(e2ee.WillUpdateDevices{Users: []ref.UserID{alice}})
	addDevice(f, "D3")
	f.recheck(t)

	if got := f.toasts.UnverifiedSessions(); len(got) != 1 || got[0].String() != "D3" {
		t.Errorf("per-device toasts = %v, want [D3]", got)
	}
}

// backupWorld reaches the key backup lookup on every recheck.
func backupWorld(backup *e2ee.BackupInfo) e2eetest.State {
	state := encryptedWorld()
	state.Backup = backup
	return state
}

func TestKeyBackupInfoCachedWithTTL(t *testing.T) {
	f := newFixture(t, backupWorld(&e2ee.BackupInfo{Version: "1"}), func(config *Config) {
		config.KeyBackupTTL = time.Minute
	})

	f.recheck(t)
	f.recheck(t)
	if count := f.client.CallCount("GetKeyBackupVersion"); count != 1 {
		t.Errorf("GetKeyBackupVersion called %d times within the TTL, want 1", count)
	}

	f.clock.Advance(time.Minute + time.Second)
	f.recheck(t)
	if count := f.client.CallCount("GetKeyBackupVersion"); count != 2 {
		t.Errorf("GetKeyBackupVersion called %d times after expiry, want 2", count)
	}
}

func TestKeyBackupAbsenceIsCached(t *testing.T) {
	f := newFixture(t, backupWorld(nil), nil)

	f.recheck(t)
	f.client.Update(func(state *e2eetest.State) { state.Backup = &e2ee.BackupInfo{Version: "2"} })
	f.recheck(t)

	if count := f.client.CallCount("GetKeyBackupVersion"); count != 1 {
		t.Errorf("GetKeyBackupVersion called %d times, want 1", count)
	}
	if setup, _ := f.toasts.shownSetup(t); setup != SetupSetUpEncryption {
		t.Errorf("setup variant = %q, want the cached answer", setup)
	}
}

func TestKeyBackupEventsDropCache(t *testing.T) {
	for _, event := range []e2ee.Event{
		e2ee.AccountData{Type: e2ee.MegolmBackupEventType},
		e2ee.KeyBackupStatus{Enabled: true},
	} {
		f := newFixture(t, backupWorld(nil), nil)
		f.recheck(t)

		f.client.Update(func(state *e2eetest.State) { state.Backup = &e2ee.BackupInfo{Version: "2"} })
		f.listener.handleEvent(event)
		f.recheck(t)

		if setup, _ := f.toasts.shownSetup(t); setup != SetupUpgradeEncryption {
			t.Errorf("%T: setup variant = %q, want upgrade after the cache was dropped", event, setup)
		}
	}
}

func TestKeyBackupInvalidationDuringFetchIsKept(t *testing.T) {
	cache := backupInfoCache{clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), ttl: time.Hour}
	ctx := context.Background()

	stale, err := cache.get(ctx, func(context.Context) (*e2ee.BackupInfo, error) {
		// The backup changes while the old answer is in flight.
		cache.invalidate()
		return nil, nil
	})
	if err != nil || stale != nil {
		t.Fatalf("first get = %+v, %v", stale, err)
	}

	fetches := 0
	fresh, err := cache.get(ctx, func(context.Context) (*e2ee.BackupInfo, error) {
		fetches++
		return &e2ee.BackupInfo{Version: "2"}, nil
	})
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fetches != 1 || fresh == nil || fresh.Version != "2" {
		t.Errorf("second get = %+v after %d fetches; the stale answer was cached", fresh, fetches)
	}

	again, err := cache.get(ctx, func(context.Context) (*e2ee.BackupInfo, error) {
		t.Error("fetched again within the TTL")
		return nil, nil
	})
	if err != nil || again == nil || again.Version != "2" {
		t.Errorf("cached get = %+v, %v", again, err)
	}
}

// watchToasts forwards every toast change.
func watchToasts(f *fixture) <-chan Toast {
	changes := make(chan Toast, 32)
	f.toasts.ToastSet.OnChange = func(toast Toast, shown bool) {
		if !shown {
			toast = Toast{Key: toast.Key}
		}
		changes <- toast
	}
	return changes
}

func TestStartStop(t *testing.T) {
	dispatcher := dispatch.New()
	f := newFixture(t, encryptedWorld(), func(config *Config) {
		config.Dispatcher = dispatcher
	})
	changes := watchToasts(f)

	if err := f.listener.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.listener.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}

	toast := testutil.RequireReceive(t, changes, 5*time.Second, "initial recheck")
	if toast.Key != SetupEncryptionKey || toast.Setup != SetupSetUpEncryption {
		t.Fatalf("initial toast = %+v", toast)
	}

	f.client.Update(func(state *e2eetest.State) {
		state.CrossSigningReady = true
		state.SecretStorageReady = true
	})
	dispatcher.Dispatch(dispatch.Action{Type: dispatch.ActionLoggedIn})
	toast = testutil.RequireReceive(t, changes, 5*time.Second, "recheck after login")
	if toast.Key != SetupEncryptionKey || toast.Kind != "" {
		t.Fatalf("toast change = %+v, want setup toast hidden", toast)
	}

	f.client.Update(func(state *e2eetest.State) { state.SecretStorageReady = false })
	f.emitter.Emit(e2ee.AccountData{Type: e2ee.DefaultKeyEventType})
	toast = testutil.RequireReceive(t, changes, 5*time.Second, "recheck after account data")
	if toast.Key != SetupEncryptionKey || toast.Kind != KindSetupEncryption {
		t.Fatalf("toast change = %+v, want setup toast shown", toast)
	}

	f.listener.DismissUnverifiedSessions(deviceIDs("D1"))
	f.listener.Stop()
	f.listener.Stop()

	if f.emitter.Len() != 0 {
		t.Errorf("emitter still has %d subscribers", f.emitter.Len())
	}
	f.listener.mu.Lock()
	if len(f.listener.dismissed) != 0 || f.listener.devicesAtStart != nil || len(f.listener.displayed) != 0 {
		t.Error("session state survived Stop")
	}
	f.listener.mu.Unlock()

	calls := f.client.CallCount("DoesServerSupportUnstableFeature")
	dispatcher.Dispatch(dispatch.Action{Type: dispatch.ActionLoggedIn})
	if len(f.listener.requests) != 0 {
		t.Error("dispatcher still delivers to a stopped listener")
	}
	if got := f.client.CallCount("DoesServerSupportUnstableFeature"); got != calls {
		t.Errorf("recheck ran after Stop")
	}
}

func TestIgnoresOtherActions(t *testing.T) {
	f := newFixture(t, encryptedWorld(), nil)
	f.listener.handleAction(dispatch.Action{Type: "view_room"})
	if f.pendingRecheck() {
		t.Error("unrelated action requested a recheck")
	}
	f.listener.handleAction(dispatch.Action{Type: dispatch.ActionLoggedIn})
	if !f.pendingRecheck() {
		t.Error("logged-in action did not request a recheck")
	}
}
