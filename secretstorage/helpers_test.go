// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstorage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/e2ee/e2eetest"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

var (
	alice       = ref.MustParseUserID("@alice:example.org")
	aliceLaptop = ref.MustParseDeviceID("LAPTOP")
)

// validRecoveryKey decodes (via testDecoder) to validKey, the key the
// fake client accepts.
const validRecoveryKey = "EsT0 good key"

var validKey = []byte("EsT0 good key")

// testDecoder treats a recovery key as its own bytes and derives
// "derived:<passphrase>" from a passphrase.
type testDecoder struct{}

func (testDecoder) DecodeRecoveryKey(recoveryKey string) ([]byte, error) {
	if strings.HasPrefix(recoveryKey, "malformed") {
		return nil, fmt.Errorf("malformed recovery key")
	}
	return []byte(recoveryKey), nil
}

func (testDecoder) DeriveKey(passphrase string, info e2ee.PassphraseInfo) ([]byte, error) {
	return []byte("derived:" + passphrase), nil
}

// fakePrompter answers the access dialog by trying inputs in order
// until Check accepts one, declining when none does.
type fakePrompter struct {
	mu sync.Mutex

	inputs         []KeyInput
	declineAccess  bool
	accessRequests []AccessRequest
	accessOptions  []DialogOptions

	confirmCreate  bool
	createRequests []CreateRequest
	createOptions  []DialogOptions

	confirmAuth bool
	authCalls   int

	backupKey     []byte
	confirmBackup bool
	backupCalls   int
}

func (p *fakePrompter) AccessSecretStorage(ctx context.Context, request AccessRequest, options DialogOptions) (KeyInput, bool, error) {
	p.mu.Lock()
	p.accessRequests = append(p.accessRequests, request)
	p.accessOptions = append(p.accessOptions, options)
	inputs := append([]KeyInput(nil), p.inputs...)
	decline := p.declineAccess
	p.mu.Unlock()

	if decline {
		return KeyInput{}, false, nil
	}
	for _, input := range inputs {
		if request.Check(ctx, input) {
			return input, true, nil
		}
	}
	return KeyInput{}, false, nil
}

func (p *fakePrompter) CreateSecretStorage(ctx context.Context, request CreateRequest, options DialogOptions) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createRequests = append(p.createRequests, request)
	p.createOptions = append(p.createOptions, options)
	return p.confirmCreate, nil
}

func (p *fakePrompter) InteractiveAuth(ctx context.Context, makeRequest e2ee.AuthRequestFunc) (bool, error) {
	p.mu.Lock()
	p.authCalls++
	confirm := p.confirmAuth
	p.mu.Unlock()

	if !confirm {
		return false, nil
	}
	return true, makeRequest(ctx, map[string]any{"type": "m.login.password"})
}

func (p *fakePrompter) RestoreKeyBackup(ctx context.Context) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backupCalls++
	return p.backupKey, p.confirmBackup, nil
}

func (p *fakePrompter) accessCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accessRequests)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager returns a manager over a client with an existing,
// default secret storage key "key1" whose valid key is validKey.
func newTestManager(t *testing.T, configure func(*Config)) (*Manager, *e2eetest.Client, *fakePrompter) {
	t.Helper()
	client := e2eetest.NewClient(e2eetest.State{
		UserID:              alice,
		DeviceID:            aliceLaptop,
		CryptoEnabled:       true,
		HasSecretStorageKey: true,
		SecretStorageReady:  true,
		DefaultKeyID:        "key1",
		SecretStorageKey:    validKey,
	})
	prompter := &fakePrompter{
		inputs:        []KeyInput{{RecoveryKey: validRecoveryKey}},
		confirmCreate: true,
		confirmAuth:   true,
		confirmBackup: true,
	}
	config := Config{
		Client:     client,
		Prompter:   prompter,
		KeyDecoder: testDecoder{},
		Logger:     discardLogger(),
	}
	if configure != nil {
		configure(&config)
	}
	manager, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager, client, prompter
}

func keyInfos(keyIDs ...string) map[string]e2ee.KeyInfo {
	infos := make(map[string]e2ee.KeyInfo, len(keyIDs))
	for _, keyID := range keyIDs {
		infos[keyID] = e2ee.KeyInfo{Algorithm: e2ee.SecretStorageAlgorithmV1, Name: keyID}
	}
	return infos
}
