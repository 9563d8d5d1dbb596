// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/messaging"
)

// syncResult is one scripted /sync outcome.
type syncResult struct {
	response *messaging.SyncResponse
	err      error
}

// fakeSession is an in-memory messaging.Session. Sync blocks until a
// scripted result arrives on syncs or ctx is cancelled.
type fakeSession struct {
	userID ref.UserID

	mu          sync.Mutex
	accountData map[ref.EventType]json.RawMessage
	backup      *messaging.KeyBackupVersionResponse
	keys        *messaging.KeysQueryResponse
	queries     int
	sinces      []string

	syncs chan syncResult
}

var _ messaging.Session = (*fakeSession)(nil)

func newFakeSession(userID ref.UserID) *fakeSession {
	return &fakeSession{
		userID:      userID,
		accountData: make(map[ref.EventType]json.RawMessage),
		keys:        &messaging.KeysQueryResponse{},
		syncs:       make(chan syncResult),
	}
}

func (s *fakeSession) setAccountData(eventType ref.EventType, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountData[eventType] = json.RawMessage(content)
}

func (s *fakeSession) setKeys(keys *messaging.KeysQueryResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *fakeSession) UserID() ref.UserID     { return s.userID }
func (s *fakeSession) DeviceID() ref.DeviceID { return ref.DeviceID{} }
func (s *fakeSession) Close() error           { return nil }

func (s *fakeSession) WhoAmI(ctx context.Context) (*messaging.WhoAmIResponse, error) {
	return &messaging.WhoAmIResponse{UserID: s.userID}, nil
}

func (s *fakeSession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, StatusCode: 404}
}

func (s *fakeSession) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	return nil, nil
}

func (s *fakeSession) GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountData[eventType], nil
}

func (s *fakeSession) KeyBackupVersion(ctx context.Context) (*messaging.KeyBackupVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backup, nil
}

func (s *fakeSession) QueryKeys(ctx context.Context, userIDs []ref.UserID) (*messaging.KeysQueryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	return s.keys, nil
}

func (s *fakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	s.mu.Lock()
	s.sinces = append(s.sinces, options.Since)
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-s.syncs:
		return result.response, result.err
	}
}
