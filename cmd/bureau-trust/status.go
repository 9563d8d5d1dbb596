// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/bureau-trust/e2ee"
)

// statusReport is everything the status command prints.
type statusReport struct {
	UserID   string
	DeviceID string

	CrossSigningSupported bool
	CrossSigningReady     bool
	SecretStorageReady    bool

	JoinedRooms    int
	EncryptedRooms int

	DefaultKey *e2ee.KeyDescriptor
	Backup     *e2ee.BackupInfo
	Identity   *e2ee.CrossSigningIdentity
	Devices    []e2ee.DeviceStatus
}

func runStatus(ctx context.Context, env *environment, stdout io.Writer) error {
	report, err := collectStatus(ctx, env.client, env.state)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, renderStatus(report))
	return nil
}

func collectStatus(ctx context.Context, client *e2ee.ServerClient, state *e2ee.HomeserverState) (*statusReport, error) {
	report := &statusReport{
		UserID:   client.UserID().String(),
		DeviceID: client.DeviceID().String(),
	}
	var err error
	if report.CrossSigningSupported, err = client.DoesServerSupportUnstableFeature(ctx, e2ee.CrossSigningFeature); err != nil {
		return nil, fmt.Errorf("querying server versions: %w", err)
	}
	if report.DefaultKey, err = state.DefaultSecretStorageKey(ctx); err != nil {
		return nil, fmt.Errorf("reading default secret storage key: %w", err)
	}
	if report.Backup, err = client.GetKeyBackupVersion(ctx); err != nil {
		return nil, fmt.Errorf("reading key backup version: %w", err)
	}

	encrypted, joined, err := state.EncryptedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	report.EncryptedRooms, report.JoinedRooms = len(encrypted), joined

	published, err := state.QueryUser(ctx, client.UserID())
	if err != nil {
		return nil, fmt.Errorf("querying own keys: %w", err)
	}
	report.Identity = published.Identity
	report.Devices = append([]e2ee.DeviceStatus(nil), published.Devices...)
	sort.Slice(report.Devices, func(i, j int) bool {
		return report.Devices[i].DeviceID.String() < report.Devices[j].DeviceID.String()
	})

	if report.SecretStorageReady, err = client.IsSecretStorageReady(ctx); err != nil {
		return nil, fmt.Errorf("checking secret storage: %w", err)
	}
	if report.CrossSigningReady, err = client.IsCrossSigningReady(ctx); err != nil {
		return nil, fmt.Errorf("checking cross-signing: %w", err)
	}
	return report, nil
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Width(24).Foreground(lipgloss.Color("8"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderStatus(report *statusReport) string {
	var builder strings.Builder
	row := func(label, value string) {
		builder.WriteString(labelStyle.Render(label))
		builder.WriteString(value)
		builder.WriteByte('\n')
	}

	builder.WriteString(headingStyle.Render(report.UserID))
	builder.WriteString(mutedStyle.Render(" on device " + report.DeviceID))
	builder.WriteString("\n\n")

	row("cross-signing support", yesNo(report.CrossSigningSupported))
	row("cross-signing ready", yesNo(report.CrossSigningReady))
	row("secret storage ready", yesNo(report.SecretStorageReady))
	row("encrypted rooms", fmt.Sprintf("%d of %d joined", report.EncryptedRooms, report.JoinedRooms))

	if report.DefaultKey != nil {
		key := report.DefaultKey.KeyID
		if report.DefaultKey.Info.Name != "" {
			key += " (" + report.DefaultKey.Info.Name + ")"
		}
		if report.DefaultKey.Info.Passphrase != nil {
			key += mutedStyle.Render(" passphrase")
		}
		row("default key", key)
	} else {
		row("default key", badStyle.Render("none"))
	}

	if report.Backup != nil {
		row("key backup", fmt.Sprintf("version %s, %d keys", report.Backup.Version, report.Backup.Count))
	} else {
		row("key backup", badStyle.Render("none"))
	}

	if report.Identity != nil && report.Identity.MasterKey != "" {
		row("master key", report.Identity.MasterKey)
	} else {
		row("master key", badStyle.Render("not published"))
	}

	builder.WriteString("\n")
	builder.WriteString(headingStyle.Render(fmt.Sprintf("Devices (%d)", len(report.Devices))))
	builder.WriteByte('\n')
	for _, device := range report.Devices {
		name := device.DeviceID.String()
		if device.DeviceID.String() == report.DeviceID {
			name += mutedStyle.Render(" (this device)")
		}
		trust := badStyle.Render("unverified")
		if device.Trust.IsVerified() {
			trust = goodStyle.Render("verified")
		}
		line := labelStyle.Render(name) + trust
		if device.DisplayName != "" {
			line += mutedStyle.Render("  " + device.DisplayName)
		}
		builder.WriteString(line)
		builder.WriteByte('\n')
	}
	return builder.String()
}

func yesNo(value bool) string {
	if value {
		return goodStyle.Render("yes")
	}
	return badStyle.Render("no")
}
