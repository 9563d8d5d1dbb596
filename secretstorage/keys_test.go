// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/e2ee/e2eetest"
)

func TestNewRequiresDependencies(t *testing.T) {
	client := e2eetest.NewClient(e2eetest.State{})
	tests := []struct {
		name   string
		config Config
	}{
		{name: "no client", config: Config{Prompter: &fakePrompter{}, KeyDecoder: testDecoder{}}},
		{name: "no prompter", config: Config{Client: client, KeyDecoder: testDecoder{}}},
		{name: "no decoder", config: Config{Client: client, Prompter: &fakePrompter{}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestGetSecretStorageKeyPromptsOncePerAccess(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	prompter.inputs = []KeyInput{{RecoveryKey: "wrong key"}, {RecoveryKey: validRecoveryKey}}
	ctx := context.Background()

	err := manager.AccessSecretStorage(ctx, func(ctx context.Context) error {
		for range 2 {
			keyID, key, err := manager.GetSecretStorageKey(ctx, keyInfos("key1", "key2"), "m.cross_signing.master")
			if err != nil {
				return err
			}
			if keyID != "key1" || !bytes.Equal(key, validKey) {
				t.Errorf("GetSecretStorageKey = %q, %q", keyID, key)
			}
		}
		return nil
	}, false)
	if err != nil {
		t.Fatalf("AccessSecretStorage: %v", err)
	}

	if count := prompter.accessCount(); count != 1 {
		t.Errorf("access dialog opened %d times, want 1", count)
	}
	request := prompter.accessRequests[0]
	if request.KeyID != "key1" || request.ItemName != "m.cross_signing.master" {
		t.Errorf("request = %+v", request)
	}
	if prompter.accessOptions[0].BackgroundDismiss != DismissWithConfirmation {
		t.Errorf("BackgroundDismiss = %v, want confirm", prompter.accessOptions[0].BackgroundDismiss)
	}
	if manager.Keys().Len() != 0 {
		t.Errorf("key cache holds %d keys after access, want 0", manager.Keys().Len())
	}
}

func TestGetSecretStorageKeyOutsideAccessDoesNotCache(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	ctx := context.Background()

	for range 2 {
		if _, _, err := manager.GetSecretStorageKey(ctx, keyInfos("key1"), "item"); err != nil {
			t.Fatalf("GetSecretStorageKey: %v", err)
		}
	}
	if count := prompter.accessCount(); count != 2 {
		t.Errorf("access dialog opened %d times, want 2", count)
	}
	manager.CacheSecretStorageKey("key1", e2ee.KeyInfo{}, validKey)
	if manager.Keys().Len() != 0 {
		t.Error("CacheSecretStorageKey stored a key outside an access")
	}
}

func TestGetSecretStorageKeyChoosesKey(t *testing.T) {
	tests := []struct {
		name      string
		defaultID string
		offered   []string
		wantKeyID string
		wantErr   error
	}{
		{name: "default offered", defaultID: "key2", offered: []string{"key1", "key2"}, wantKeyID: "key2"},
		{name: "single key without default", offered: []string{"only"}, wantKeyID: "only"},
		{name: "default not offered", defaultID: "gone", offered: []string{"only"}, wantKeyID: "only"},
		{name: "ambiguous", offered: []string{"key1", "key2"}, wantErr: ErrAmbiguousKey},
		{name: "default not offered and ambiguous", defaultID: "gone", offered: []string{"key1", "key2"}, wantErr: ErrAmbiguousKey},
		{name: "nothing offered", offered: nil, wantErr: ErrNoKey},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			manager, client, prompter := newTestManager(t, nil)
			client.Update(func(state *e2eetest.State) { state.DefaultKeyID = test.defaultID })

			keyID, _, err := manager.GetSecretStorageKey(context.Background(), keyInfos(test.offered...), "item")
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("error = %v, want %v", err, test.wantErr)
				}
				if count := prompter.accessCount(); count != 0 {
					t.Errorf("access dialog opened %d times, want 0", count)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetSecretStorageKey: %v", err)
			}
			if keyID != test.wantKeyID {
				t.Errorf("keyID = %q, want %q", keyID, test.wantKeyID)
			}
		})
	}
}

func TestGetSecretStorageKeyCancelled(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	prompter.declineAccess = true

	_, _, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if !errors.Is(err, ErrAccessCancelled) {
		t.Errorf("error = %v, want ErrAccessCancelled", err)
	}
}

func TestGetSecretStorageKeyRejectsEveryWrongInput(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	prompter.inputs = []KeyInput{{RecoveryKey: "malformed"}, {RecoveryKey: "wrong"}, {}}

	_, _, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if !errors.Is(err, ErrAccessCancelled) {
		t.Errorf("error = %v, want ErrAccessCancelled", err)
	}
}

func TestGetSecretStorageKeyPassphrase(t *testing.T) {
	manager, client, prompter := newTestManager(t, nil)
	client.Update(func(state *e2eetest.State) { state.SecretStorageKey = []byte("derived:hunter2") })
	prompter.inputs = []KeyInput{{Passphrase: "hunter2"}}

	infos := map[string]e2ee.KeyInfo{"key1": {
		Algorithm:  e2ee.SecretStorageAlgorithmV1,
		Passphrase: &e2ee.PassphraseInfo{Algorithm: e2ee.PassphraseAlgorithmPBKDF2, Salt: "salt", Iterations: 500000},
	}}
	_, key, err := manager.GetSecretStorageKey(context.Background(), infos, "item")
	if err != nil {
		t.Fatalf("GetSecretStorageKey: %v", err)
	}
	if string(key) != "derived:hunter2" {
		t.Errorf("key = %q", key)
	}
}

func TestGetSecretStorageKeyPassphraseIgnoredWithoutPassphraseInfo(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	prompter.inputs = []KeyInput{{Passphrase: "hunter2", RecoveryKey: validRecoveryKey}}

	_, key, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if err != nil {
		t.Fatalf("GetSecretStorageKey: %v", err)
	}
	if !bytes.Equal(key, validKey) {
		t.Errorf("key = %q, want the recovery key", key)
	}
}

func TestGetSecretStorageKeyNonInteractive(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	manager.gate.SetNonInteractive(true)

	_, _, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if !errors.Is(err, ErrNonInteractiveUnlock) {
		t.Errorf("error = %v, want ErrNonInteractiveUnlock", err)
	}
	if count := prompter.accessCount(); count != 0 {
		t.Errorf("access dialog opened %d times in non-interactive mode", count)
	}
}

func TestGetSecretStorageKeyCustomisation(t *testing.T) {
	manager, _, prompter := newTestManager(t, func(config *Config) {
		config.Customisations.SecretStorageKey = func() []byte { return []byte("from host") }
	})
	manager.gate.SetNonInteractive(true)

	_, key, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if err != nil {
		t.Fatalf("GetSecretStorageKey: %v", err)
	}
	if string(key) != "from host" {
		t.Errorf("key = %q", key)
	}
	if prompter.accessCount() != 0 {
		t.Error("access dialog opened despite customisation key")
	}
}

func TestGetSecretStorageKeyUsesDehydrationKey(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	if err := manager.Dehydration().Set(validKey, e2ee.KeyInfo{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, key, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item")
	if err != nil {
		t.Fatalf("GetSecretStorageKey: %v", err)
	}
	if !bytes.Equal(key, validKey) {
		t.Errorf("key = %q", key)
	}
	if prompter.accessCount() != 0 {
		t.Error("access dialog opened despite a valid dehydration key")
	}
}

func TestGetSecretStorageKeyIgnoresStaleDehydrationKey(t *testing.T) {
	manager, _, prompter := newTestManager(t, nil)
	if err := manager.Dehydration().Set([]byte("stale"), e2ee.KeyInfo{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, _, err := manager.GetSecretStorageKey(context.Background(), keyInfos("key1"), "item"); err != nil {
		t.Fatalf("GetSecretStorageKey: %v", err)
	}
	if prompter.accessCount() != 1 {
		t.Errorf("access dialog opened %d times, want 1", prompter.accessCount())
	}
}

func TestGetDehydrationKeyCachesIndependentCopy(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	info := e2ee.KeyInfo{Passphrase: &e2ee.PassphraseInfo{Algorithm: e2ee.PassphraseAlgorithmPBKDF2, Salt: "s", Iterations: 1}}

	var checked int
	key, err := manager.GetDehydrationKey(context.Background(), info, func(candidate []byte) error {
		checked++
		if !bytes.Equal(candidate, validKey) {
			return errors.New("wrong key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GetDehydrationKey: %v", err)
	}
	if checked == 0 {
		t.Error("check function never called")
	}

	for index := range key {
		key[index] = 0
	}

	cached, cachedInfo, ok := manager.Dehydration().Get()
	if !ok {
		t.Fatal("dehydration cache is empty")
	}
	if !bytes.Equal(cached, validKey) {
		t.Errorf("cached key = %q, want %q", cached, validKey)
	}
	if cachedInfo.Passphrase == nil || cachedInfo.Passphrase.Salt != "s" {
		t.Errorf("cached info = %+v", cachedInfo)
	}
}

func TestGetDehydrationKeyCheckErrorRejects(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)

	_, err := manager.GetDehydrationKey(context.Background(), e2ee.KeyInfo{}, func([]byte) error {
		return errors.New("does not decrypt")
	})
	if !errors.Is(err, ErrAccessCancelled) {
		t.Errorf("error = %v, want ErrAccessCancelled", err)
	}
	if manager.Dehydration().Present() {
		t.Error("dehydration cache populated after rejected input")
	}
}

func TestGetDehydrationKeyCustomisationNotCached(t *testing.T) {
	manager, _, prompter := newTestManager(t, func(config *Config) {
		config.Customisations.SecretStorageKey = func() []byte { return []byte("from host") }
	})

	key, err := manager.GetDehydrationKey(context.Background(), e2ee.KeyInfo{}, func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("GetDehydrationKey: %v", err)
	}
	if string(key) != "from host" {
		t.Errorf("key = %q", key)
	}
	if manager.Dehydration().Present() {
		t.Error("customisation key stored in dehydration cache")
	}
	if prompter.accessCount() != 0 {
		t.Error("access dialog opened despite customisation key")
	}
}
