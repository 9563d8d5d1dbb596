// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelistener

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ref"
)

// Recheck recomputes every toast from current client state. It is
// safe to call concurrently with itself and with the worker; passes
// may interleave, and the last one to finish wins. Network errors are
// returned without retry since the next event triggers another pass.
func (l *Listener) Recheck(ctx context.Context) error {
	supported, err := l.client.DoesServerSupportUnstableFeature(ctx, e2ee.CrossSigningFeature)
	if err != nil {
		return fmt.Errorf("checking for %s: %w", e2ee.CrossSigningFeature, err)
	}
	if !supported || !l.client.IsCryptoEnabled() || !l.client.IsInitialSyncComplete() {
		return nil
	}

	crossSigningReady, err := l.client.IsCrossSigningReady(ctx)
	if err != nil {
		return fmt.Errorf("checking cross-signing readiness: %w", err)
	}
	secretStorageReady, err := l.client.IsSecretStorageReady(ctx)
	if err != nil {
		return fmt.Errorf("checking secret storage readiness: %w", err)
	}

	if err := l.updateSetupToast(ctx, crossSigningReady && secretStorageReady); err != nil {
		return err
	}

	// After the key download above, so the snapshot sees the fetched
	// device list.
	l.ensureDevicesAtStart()

	var oldDevices, newDevices []ref.DeviceID
	if crossSigningReady {
		oldDevices, newDevices, err = l.unverifiedDevices(ctx)
		if err != nil {
			return err
		}
	}

	if len(oldDevices) > 0 {
		l.toasts.Show(Toast{Key: ReviewSessionsKey, Kind: KindReviewSessions, DeviceIDs: oldDevices})
	} else {
		l.toasts.Hide(ReviewSessionsKey)
	}

	current := make(map[ref.DeviceID]struct{}, len(newDevices))
	for _, deviceID := range newDevices {
		current[deviceID] = struct{}{}
	}
	l.mu.Lock()
	previous := l.displayed
	l.displayed = current
	l.mu.Unlock()

	for _, deviceID := range newDevices {
		l.toasts.Show(Toast{
			Key:       UnverifiedSessionKey(deviceID),
			Kind:      KindUnverifiedSession,
			DeviceIDs: []ref.DeviceID{deviceID},
		})
	}
	for _, deviceID := range sortedDevices(previous) {
		if _, ok := current[deviceID]; !ok {
			l.toasts.Hide(UnverifiedSessionKey(deviceID))
		}
	}
	return nil
}

func (l *Listener) updateSetupToast(ctx context.Context, allReady bool) error {
	l.mu.Lock()
	dismissed := l.dismissedThisDeviceSetup
	l.mu.Unlock()

	if dismissed || allReady {
		l.toasts.Hide(SetupEncryptionKey)
		return nil
	}
	if !l.anyRoomEncrypted() || l.storage.IsSecretStorageBeingAccessed() {
		return nil
	}

	me := l.client.UserID()
	if err := l.client.DownloadKeys(ctx, []ref.UserID{me}); err != nil {
		return fmt.Errorf("downloading own device keys: %w", err)
	}

	if l.client.GetCrossSigningID() == "" && l.client.GetStoredCrossSigningForUser(me) != nil {
		l.showSetup(SetupVerifyThisSession)
		return nil
	}

	backup, err := l.backup.get(ctx, l.client.GetKeyBackupVersion)
	if err != nil {
		return fmt.Errorf("fetching key backup version: %w", err)
	}
	if backup != nil {
		l.showSetup(SetupUpgradeEncryption)
		return nil
	}

	if l.secureBackupRequired() && l.isLoggedIn() {
		l.toasts.Hide(SetupEncryptionKey)
		l.openSecretStorageSetup(ctx)
		return nil
	}
	l.showSetup(SetupSetUpEncryption)
	return nil
}

func (l *Listener) showSetup(kind SetupKind) {
	l.toasts.Show(Toast{Key: SetupEncryptionKey, Kind: KindSetupEncryption, Setup: kind})
}

// openSecretStorageSetup starts secret storage setup without waiting
// for it. The access outlives the recheck that started it but not the
// listener.
func (l *Listener) openSecretStorageSetup(ctx context.Context) {
	if !l.settingUp.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	accessCtx := l.runCtx
	l.mu.Unlock()
	if accessCtx == nil {
		accessCtx = context.WithoutCancel(ctx)
	}

	l.logger.Info("secure backup required, opening secret storage setup")
	go func() {
		defer l.settingUp.Store(false)
		if err := l.storage.AccessSecretStorage(accessCtx, nil, false); err != nil {
			l.logger.Error("required secret storage setup failed", "error", err)
		}
	}()
}

func (l *Listener) anyRoomEncrypted() bool {
	for _, roomID := range l.client.Rooms() {
		if l.client.IsRoomEncrypted(roomID) {
			return true
		}
	}
	return false
}

// unverifiedDevices splits our devices that are not cross-signing
// verified, and not dismissed, by whether they were in the snapshot.
func (l *Listener) unverifiedDevices(ctx context.Context) (oldDevices, newDevices []ref.DeviceID, err error) {
	me := l.client.UserID()
	ownDevice := l.client.DeviceID()

	for _, device := range l.client.GetStoredDevicesForUser(me) {
		if device.DeviceID == ownDevice {
			continue
		}
		trust, err := l.client.CheckDeviceTrust(ctx, me, device.DeviceID)
		if err != nil {
			return nil, nil, fmt.Errorf("checking trust of device %s: %w", device.DeviceID, err)
		}
		if trust.CrossSigningVerified {
			continue
		}

		l.mu.Lock()
		_, dismissed := l.dismissed[device.DeviceID]
		_, atStart := l.devicesAtStart[device.DeviceID]
		l.mu.Unlock()
		switch {
		case dismissed:
		case atStart:
			oldDevices = append(oldDevices, device.DeviceID)
		default:
			newDevices = append(newDevices, device.DeviceID)
		}
	}
	slices.SortFunc(oldDevices, compareDevices)
	slices.SortFunc(newDevices, compareDevices)
	return oldDevices, newDevices, nil
}

func compareDevices(a, b ref.DeviceID) int {
	return strings.Compare(a.String(), b.String())
}

func sortedDevices(set map[ref.DeviceID]struct{}) []ref.DeviceID {
	devices := make([]ref.DeviceID, 0, len(set))
	for deviceID := range set {
		devices = append(devices, deviceID)
	}
	slices.SortFunc(devices, compareDevices)
	return devices
}
