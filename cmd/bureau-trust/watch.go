// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/bureau-trust/devicelistener"
	"github.com/bureau-foundation/bureau-trust/lib/dispatch"
)

func runWatch(ctx context.Context, env *environment, stdout io.Writer) error {
	manager, err := newManager(env, newTerminalPrompter())
	if err != nil {
		return err
	}
	defer manager.Close()

	var writeMu sync.Mutex
	toasts := devicelistener.NewToastSet()
	toasts.OnChange = func(toast devicelistener.Toast, shown bool) {
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprintln(stdout, renderToast(toast, shown))
	}

	dispatcher := dispatch.New()
	secureBackupRequired := env.config.SecretStorage.SecureBackupRequired
	listener, err := devicelistener.New(devicelistener.Config{
		Client:               env.client,
		Events:               env.emitter,
		Toasts:               toasts,
		SecretStorage:        manager,
		Dispatcher:           dispatcher,
		KeyBackupTTL:         env.config.KeyBackupTTLDuration(),
		SecureBackupRequired: func() bool { return secureBackupRequired },
		IsLoggedIn:           func() bool { return true },
		Logger:               env.logger,
	})
	if err != nil {
		return err
	}
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Stop()
	dispatcher.Dispatch(dispatch.Action{Type: dispatch.ActionLoggedIn})

	env.logger.Info("watching encryption state")
	err = env.sync.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var (
	toastShownStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	toastHiddenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderToast formats one toast change as a single line.
func renderToast(toast devicelistener.Toast, shown bool) string {
	if !shown {
		return toastHiddenStyle.Render("- " + toast.Key)
	}

	var message string
	switch toast.Kind {
	case devicelistener.KindSetupEncryption:
		switch toast.Setup {
		case devicelistener.SetupVerifyThisSession:
			message = "Verify this session to access your encrypted messages"
		case devicelistener.SetupUpgradeEncryption:
			message = "Upgrade encryption: store your cross-signing keys in secret storage"
		default:
			message = "Set up secure backup so you don't lose encrypted messages"
		}
	case devicelistener.KindReviewSessions:
		message = fmt.Sprintf("Review %d sessions that were already unverified", len(toast.DeviceIDs))
	case devicelistener.KindUnverifiedSession:
		message = "New unverified session"
	default:
		message = string(toast.Kind)
	}

	if len(toast.DeviceIDs) > 0 {
		ids := make([]string, len(toast.DeviceIDs))
		for i, deviceID := range toast.DeviceIDs {
			ids[i] = deviceID.String()
		}
		message += ": " + strings.Join(ids, ", ")
	}
	return toastShownStyle.Render("+ "+toast.Key) + " " + message
}
