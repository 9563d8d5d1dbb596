// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Toast keys.
const (
	SetupEncryptionKey = "setupencryption"
	ReviewSessionsKey  = "reviewsessions"

	unverifiedSessionPrefix = "unverified_session_"
)

// UnverifiedSessionKey returns the key of a device's toast.
func UnverifiedSessionKey(deviceID ref.DeviceID) string {
	return unverifiedSessionPrefix + deviceID.String()
}

// Kind is the toast kind.
type Kind string

const (
	KindSetupEncryption   Kind = "setup_encryption"
	KindReviewSessions    Kind = "bulk_unverified_sessions"
	KindUnverifiedSession Kind = "unverified_session"
)

// SetupKind is the variant of the setup-encryption toast.
type SetupKind string

const (
	// SetupVerifyThisSession asks the user to verify this device
	// against an existing cross-signing identity.
	SetupVerifyThisSession SetupKind = "verify_this_session"
	// SetupUpgradeEncryption offers to move an existing key backup
	// into secret storage.
	SetupUpgradeEncryption SetupKind = "upgrade_encryption"
	// SetupSetUpEncryption starts from nothing.
	SetupSetUpEncryption SetupKind = "set_up_encryption"
)

// Toast is one notification.
type Toast struct {
	Key  string
	Kind Kind

	// Setup is set for KindSetupEncryption.
	Setup SetupKind

	// DeviceIDs lists the devices the toast is about: every device for
	// KindReviewSessions, the one device for KindUnverifiedSession.
	DeviceIDs []ref.DeviceID
}

func (t Toast) equal(other Toast) bool {
	return t.Key == other.Key && t.Kind == other.Kind && t.Setup == other.Setup &&
		slices.Equal(t.DeviceIDs, other.DeviceIDs)
}

// Toasts is the presentation layer. Show replaces a toast with the
// same key in place; Hide of an absent key is a no-op.
type Toasts interface {
	Show(toast Toast)
	Hide(key string)
}

// ToastSet is an in-memory Toasts holding the currently shown toasts.
type ToastSet struct {
	// OnChange, if set, is called after every change that altered the
	// set. shown is false for a hide. Called without the lock held.
	OnChange func(toast Toast, shown bool)

	mu    sync.Mutex
	toast map[string]Toast
}

var _ Toasts = (*ToastSet)(nil)

// NewToastSet returns an empty ToastSet.
func NewToastSet() *ToastSet {
	return &ToastSet{toast: make(map[string]Toast)}
}

// Show adds or updates toast.
func (s *ToastSet) Show(toast Toast) {
	toast.DeviceIDs = slices.Clone(toast.DeviceIDs)
	s.mu.Lock()
	previous, ok := s.toast[toast.Key]
	changed := !ok || !previous.equal(toast)
	s.toast[toast.Key] = toast
	onChange := s.OnChange
	s.mu.Unlock()

	if changed && onChange != nil {
		onChange(toast, true)
	}
}

// Hide removes the toast with key.
func (s *ToastSet) Hide(key string) {
	s.mu.Lock()
	previous, ok := s.toast[key]
	delete(s.toast, key)
	onChange := s.OnChange
	s.mu.Unlock()

	if ok && onChange != nil {
		onChange(previous, false)
	}
}

// Get returns the toast shown under key.
func (s *ToastSet) Get(key string) (Toast, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	toast, ok := s.toast[key]
	return toast, ok
}

// Shown returns the shown toasts ordered by key.
func (s *ToastSet) Shown() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	shown := make([]Toast, 0, len(s.toast))
	for _, toast := range s.toast {
		shown = append(shown, toast)
	}
	sort.Slice(shown, func(i, j int) bool { return shown[i].Key < shown[j].Key })
	return shown
}

// UnverifiedSessions returns the devices with a per-device toast.
func (s *ToastSet) UnverifiedSessions() []ref.DeviceID {
	var devices []ref.DeviceID
	for _, toast := range s.Shown() {
		if strings.HasPrefix(toast.Key, unverifiedSessionPrefix) && len(toast.DeviceIDs) == 1 {
			devices = append(devices, toast.DeviceIDs[0])
		}
	}
	return devices
}
