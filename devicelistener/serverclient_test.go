// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/lib/testutil"
	"github.com/bureau-foundation/bureau-trust/messaging"
)

// readyHomeserver serves an account whose cross-signing and secret
// storage are fully set up. Its device list can be changed between
// requests.
type readyHomeserver struct {
	mu      sync.Mutex
	devices map[string]messaging.DeviceKeys
}

func (h *readyHomeserver) addDevice(deviceID string, signed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := messaging.DeviceKeys{UserID: alice, DeviceID: deviceID, Keys: map[string]string{}}
	if signed {
		keys.Signatures = map[string]map[string]string{alice.String(): {"ed25519:SSK": "sig"}}
	}
	h.devices[deviceID] = keys
}

func (h *readyHomeserver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	const accountData = "/_matrix/client/v3/user/@alice:example.org/account_data/"
	stored := map[string]any{"encrypted": map[string]any{"KEY1": map[string]string{"iv": "a", "ciphertext": "b", "mac": "c"}}}
	routes := map[string]any{
		"/_matrix/client/versions": map[string]any{
			"versions":          []string{"v1.11"},
			"unstable_features": map[string]bool{e2ee.CrossSigningFeature: true},
		},
		accountData + "m.secret_storage.default_key": map[string]string{"key": "KEY1"},
		accountData + "m.secret_storage.key.KEY1": map[string]string{
			"algorithm": e2ee.SecretStorageAlgorithmV1, "iv": "aXY", "mac": "bWFj",
		},
		accountData + e2ee.SecretCrossSigningMaster:      stored,
		accountData + e2ee.SecretCrossSigningSelfSigning: stored,
		accountData + e2ee.SecretCrossSigningUserSigning: stored,
	}

	writer.Header().Set("Content-Type", "application/json")
	switch request.URL.Path {
	case "/_matrix/client/v3/sync":
		if request.URL.Query().Get("since") != "" {
			<-request.Context().Done()
			return
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"next_batch": "s1",
			"rooms": map[string]any{"join": map[string]any{
				secretRoom.String(): map[string]any{"state": map[string]any{"events": []map[string]any{{
					"type":      e2ee.RoomEncryptionType,
					"state_key": "",
					"content":   map[string]string{"algorithm": "m.megolm.v1.aes-sha2"},
				}}}},
			}},
		})
		return
	case "/_matrix/client/v3/keys/query":
		h.mu.Lock()
		devices := make(map[string]messaging.DeviceKeys, len(h.devices))
		for deviceID, keys := range h.devices {
			devices[deviceID] = keys
		}
		h.mu.Unlock()
		crossSigning := func(usage, keyID string) map[string]any {
			return map[string]any{alice.String(): map[string]any{
				"user_id": alice.String(),
				"usage":   []string{usage},
				"keys":    map[string]string{"ed25519:" + keyID: keyID},
			}}
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"device_keys":       map[string]any{alice.String(): devices},
			"master_keys":       crossSigning("master", "MSK"),
			"self_signing_keys": crossSigning("self_signing", "SSK"),
			"user_signing_keys": crossSigning("user_signing", "USK"),
		})
		return
	}

	body, ok := routes[request.URL.Path]
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		json.NewEncoder(writer).Encode(map[string]string{"errcode": messaging.ErrCodeNotFound, "error": "not found"})
		return
	}
	json.NewEncoder(writer).Encode(body)
}

// deviceListTracker forwards to a ServerClient built after the sync
// source that needs it.
type deviceListTracker struct {
	client *e2ee.ServerClient
}

func (t *deviceListTracker) InvalidateDevices(ctx context.Context, users []ref.UserID) error {
	return t.client.InvalidateDevices(ctx, users)
}

// Devices that already exist when the listener starts over a
// homeserver-backed client are reviewed together; only devices that
// appear later get their own toast.
func TestListenerOverServerClientSnapshotsExistingDevices(t *testing.T) {
	homeserver := &readyHomeserver{devices: make(map[string]messaging.DeviceKeys)}
	homeserver.addDevice("LAPTOP", true)
	homeserver.addDevice("PHONE", false)
	server := httptest.NewServer(homeserver)
	t.Cleanup(server.Close)

	matrixClient, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	session, err := matrixClient.SessionFromToken(alice, laptop, "token")
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := e2ee.NewEmitter()
	tracker := &deviceListTracker{}
	source, err := e2ee.NewSyncSource(e2ee.SyncSourceConfig{
		Session: session,
		Emitter: emitter,
		Devices: tracker,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewSyncSource: %v", err)
	}
	client, err := e2ee.NewServerClient(e2ee.ServerClientConfig{
		State:    e2ee.NewHomeserverState(matrixClient, session, logger),
		Rooms:    source,
		Emitter:  emitter,
		UserID:   alice,
		DeviceID: laptop,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewServerClient: %v", err)
	}
	tracker.client = client

	changes := make(chan Toast, 32)
	toasts := NewToastSet()
	toasts.OnChange = func(toast Toast, shown bool) {
		if shown {
			changes <- toast
		}
	}
	listener, err := New(Config{
		Client:        client,
		Events:        emitter,
		Toasts:        toasts,
		SecretStorage: newFakeStorage(),
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(listener.Stop)
	go source.Run(ctx)

	waitForToast := func(key string) Toast {
		t.Helper()
		for {
			toast := testutil.RequireReceive(t, changes, 5*time.Second, "waiting for toast "+key)
			if toast.Key == key {
				return toast
			}
		}
	}

	phone := ref.MustParseDeviceID("PHONE")
	review := waitForToast(ReviewSessionsKey)
	if !slices.Equal(review.DeviceIDs, []ref.DeviceID{phone}) {
		t.Errorf("review sessions devices = %v, want [PHONE]", review.DeviceIDs)
	}

	homeserver.addDevice("TABLET", false)
	if err := client.InvalidateDevices(ctx, []ref.UserID{alice}); err != nil {
		t.Fatalf("InvalidateDevices: %v", err)
	}
	waitForToast(UnverifiedSessionKey(ref.MustParseDeviceID("TABLET")))

	if _, ok := toasts.Get(UnverifiedSessionKey(phone)); ok {
		t.Error("device present at launch got a new-device toast")
	}
	if review, ok := toasts.Get(ReviewSessionsKey); !ok || !slices.Equal(review.DeviceIDs, []ref.DeviceID{phone}) {
		t.Errorf("review sessions = %+v, %v; want [PHONE]", review, ok)
	}
}
