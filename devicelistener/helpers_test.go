// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/e2ee/e2eetest"
	"github.com/bureau-foundation/bureau-trust/lib/clock"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

var (
	alice      = ref.MustParseUserID("@alice:example.org")
	laptop     = ref.MustParseDeviceID("LAPTOP")
	secretRoom = ref.MustParseRoomID("!secret:example.org")
)

func device(id string) e2ee.Device {
	return e2ee.Device{UserID: alice, DeviceID: ref.MustParseDeviceID(id)}
}

// encryptedWorld is an account in an encrypted room whose server
// supports cross-signing, with nothing set up yet.
func encryptedWorld() e2eetest.State {
	return e2eetest.State{
		UserID:              alice,
		DeviceID:            laptop,
		UnstableFeatures:    map[string]bool{e2ee.CrossSigningFeature: true},
		CryptoEnabled:       true,
		InitialSyncComplete: true,
		Rooms:               []ref.RoomID{secretRoom},
		EncryptedRooms:      map[ref.RoomID]bool{secretRoom: true},
		Devices:             map[ref.UserID][]e2ee.Device{alice: {device("LAPTOP")}},
	}
}

// recordingToasts logs every call and keeps the resulting state in a
// ToastSet.
type recordingToasts struct {
	*ToastSet

	mu  sync.Mutex
	ops []string
}

func newRecordingToasts() *recordingToasts {
	return &recordingToasts{ToastSet: NewToastSet()}
}

func (r *recordingToasts) Show(toast Toast) {
	r.mu.Lock()
	r.ops = append(r.ops, fmt.Sprintf("show %s %s %v", toast.Key, toast.Setup, toast.DeviceIDs))
	r.mu.Unlock()
	r.ToastSet.Show(toast)
}

func (r *recordingToasts) Hide(key string) {
	r.mu.Lock()
	r.ops = append(r.ops, "hide "+key)
	r.mu.Unlock()
	r.ToastSet.Hide(key)
}

// takeOps returns and forgets the recorded calls.
func (r *recordingToasts) takeOps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.ops
	r.ops = nil
	return ops
}

func (r *recordingToasts) shownSetup(t *testing.T) (SetupKind, bool) {
	t.Helper()
	toast, ok := r.Get(SetupEncryptionKey)
	return toast.Setup, ok
}

type fakeStorage struct {
	accessing atomic.Bool
	accesses  chan struct{}
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{accesses: make(chan struct{}, 8)}
}

func (s *fakeStorage) IsSecretStorageBeingAccessed() bool {
	return s.accessing.Load()
}

func (s *fakeStorage) AccessSecretStorage(ctx context.Context, op func(ctx context.Context) error, forceReset bool) error {
	s.accesses <- struct{}{}
	return nil
}

type fixture struct {
	listener *Listener
	client   *e2eetest.Client
	toasts   *recordingToasts
	storage  *fakeStorage
	emitter  *e2ee.Emitter
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, state e2eetest.State, configure func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		client:  e2eetest.NewClient(state),
		toasts:  newRecordingToasts(),
		storage: newFakeStorage(),
		emitter: e2ee.NewEmitter(),
		clock:   clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	config := Config{
		Client:        f.client,
		Events:        f.emitter,
		Toasts:        f.toasts,
		SecretStorage: f.storage,
		Clock:         f.clock,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&config)
	}
	listener, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(listener.Stop)
	f.listener = listener
	return f
}

func (f *fixture) recheck(t *testing.T) {
	t.Helper()
	if err := f.listener.Recheck(context.Background()); err != nil {
		t.Fatalf("Recheck: %v", err)
	}
}

// pendingRecheck reports and clears a queued recheck request.
func (f *fixture) pendingRecheck() bool {
	select {
	case <-f.listener.requests:
		return true
	default:
		return false
	}
}
