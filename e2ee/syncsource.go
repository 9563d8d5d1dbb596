// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/bureau-trust/lib/clock"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
	"github.com/bureau-foundation/bureau-trust/messaging"
)

const (
	defaultPollTimeout = 30 * time.Second
	defaultRetryDelay  = 5 * time.Second
)

// DeviceListTracker is told when /sync reports changed device lists.
// It is expected to refresh those users and emit the device events
// itself.
type DeviceListTracker interface {
	InvalidateDevices(ctx context.Context, users []ref.UserID) error
}

// SyncSourceConfig configures a SyncSource.
type SyncSourceConfig struct {
	// Session performs the /sync requests.
	Session messaging.Session

	// Emitter receives the events derived from each response.
	Emitter *Emitter

	// Devices, when set, is handed device_lists.changed instead of
	// emitting DevicesUpdated directly. It is also asked to load our
	// own device list before the initial sync.
	Devices DeviceListTracker

	// Clock drives the retry delay. Nil means the real clock.
	Clock clock.Clock

	// PollTimeout is the /sync long-poll duration. Default: 30s.
	PollTimeout time.Duration

	// RetryDelay is the pause after a failed /sync. Default: 5s.
	RetryDelay time.Duration

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// SyncSource long-polls /sync and emits the events the trust
// orchestration listens for. It also tracks joined rooms and which of
// them have encryption enabled.
type SyncSource struct {
	session     messaging.Session
	emitter     *Emitter
	devices     DeviceListTracker
	clock       clock.Clock
	pollTimeout time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	ownTracked bool
	nextBatch  string
	state      SyncState
	encrypted  map[ref.RoomID]bool
}

// NewSyncSource validates config and returns a SyncSource.
func NewSyncSource(config SyncSourceConfig) (*SyncSource, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("e2ee: SyncSource requires a Session")
	}
	if config.Emitter == nil {
		return nil, fmt.Errorf("e2ee: SyncSource requires an Emitter")
	}
	source := &SyncSource{
		session:     config.Session,
		emitter:     config.Emitter,
		devices:     config.Devices,
		clock:       config.Clock,
		pollTimeout: config.PollTimeout,
		retryDelay:  config.RetryDelay,
		logger:      config.Logger,
		encrypted:   make(map[ref.RoomID]bool),
	}
	if source.clock == nil {
		source.clock = clock.Real()
	}
	if source.pollTimeout <= 0 {
		source.pollTimeout = defaultPollTimeout
	}
	if source.retryDelay <= 0 {
		source.retryDelay = defaultRetryDelay
	}
	if source.logger == nil {
		source.logger = slog.Default()
	}
	return source, nil
}

// Run syncs until ctx is cancelled. Failed requests are retried after
// RetryDelay; Run only returns on cancellation, with ctx.Err().
func (s *SyncSource) Run(ctx context.Context) error {
	for {
		if err := s.syncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.transition(SyncStopped)
				return ctx.Err()
			}
			s.logger.Log(ctx, syncFailureLevel(err), "sync failed, retrying",
				"error", err,
				"retry_in", s.retryDelay,
			)
			s.transition(SyncError)
			if closer, ok := s.session.(interface{ CloseIdleConnections() }); ok {
				closer.CloseIdleConnections()
			}
			select {
			case <-ctx.Done():
				s.transition(SyncStopped)
				return ctx.Err()
			case <-s.clock.After(s.retryDelay):
			}
		}
	}
}

// syncFailureLevel logs homeserver rejections that waiting will not
// fix (bad token, forbidden) at Error; transport failures, rate limits
// and 5xx are expected and logged at Warn.
func syncFailureLevel(err error) slog.Level {
	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) && !messaging.IsRetryable(err) {
		return slog.LevelError
	}
	return slog.LevelWarn
}

func (s *SyncSource) syncOnce(ctx context.Context) error {
	s.mu.Lock()
	since := s.nextBatch
	ownTracked := s.ownTracked
	s.mu.Unlock()

	if s.devices != nil && !ownTracked {
		if err := s.devices.InvalidateDevices(ctx, []ref.UserID{s.session.UserID()}); err != nil {
			return fmt.Errorf("loading own device list: %w", err)
		}
		s.mu.Lock()
		s.ownTracked = true
		s.mu.Unlock()
	}

	// The initial sync returns immediately; later ones long-poll.
	timeout := 0
	if since != "" {
		timeout = int(s.pollTimeout / time.Millisecond)
	}
	response, err := s.session.Sync(ctx, messaging.SyncOptions{
		Since:      since,
		SetTimeout: true,
		Timeout:    timeout,
	})
	if err != nil {
		return err
	}

	s.process(ctx, response)

	s.mu.Lock()
	s.nextBatch = response.NextBatch
	s.mu.Unlock()

	if since == "" {
		s.transition(SyncPrepared)
	} else {
		s.transition(SyncSyncing)
	}
	return nil
}

func (s *SyncSource) process(ctx context.Context, response *messaging.SyncResponse) {
	for _, event := range response.AccountData.Events {
		s.emitter.Emit(AccountData{Type: event.Type, Content: event.Content})
	}

	roomIDs := make([]ref.RoomID, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool { return roomIDs[i].String() < roomIDs[j].String() })

	for _, roomID := range roomIDs {
		joined := response.Rooms.Join[roomID]
		s.mu.Lock()
		if _, known := s.encrypted[roomID]; !known {
			s.encrypted[roomID] = false
		}
		s.mu.Unlock()

		events := append(append([]messaging.Event{}, joined.State.Events...), joined.Timeline.Events...)
		for _, event := range events {
			if event.StateKey == nil {
				continue
			}
			if event.Type == RoomEncryptionType {
				s.mu.Lock()
				s.encrypted[roomID] = true
				s.mu.Unlock()
			}
			s.emitter.Emit(RoomState{
				RoomID:   roomID,
				Type:     event.Type,
				StateKey: *event.StateKey,
				Content:  event.Content,
			})
		}
	}

	if changed := response.DeviceLists.Changed; len(changed) > 0 {
		if s.devices == nil {
			s.emitter.Emit(DevicesUpdated{Users: changed})
		} else if err := s.devices.InvalidateDevices(ctx, changed); err != nil {
			s.logger.Warn("refreshing changed device lists failed",
				"users", len(changed),
				"error", err,
			)
		}
	}
}

func (s *SyncSource) transition(state SyncState) {
	s.mu.Lock()
	previous := s.state
	if previous == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.emitter.Emit(SyncStateChanged{State: state, Previous: previous})
}

// State returns the current sync state.
func (s *SyncSource) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InitialSyncComplete reports whether the first /sync has been
// processed.
func (s *SyncSource) InitialSyncComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBatch != ""
}

// Rooms returns the joined rooms seen so far, sorted.
func (s *SyncSource) Rooms() []ref.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]ref.RoomID, 0, len(s.encrypted))
	for roomID := range s.encrypted {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
	return rooms
}

// IsRoomEncrypted reports whether m.room.encryption was seen in roomID.
func (s *SyncSource) IsRoomEncrypted(roomID ref.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted[roomID]
}
