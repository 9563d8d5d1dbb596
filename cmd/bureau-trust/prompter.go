// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/bureau-foundation/bureau-trust/e2ee"
	"github.com/bureau-foundation/bureau-trust/lib/ssskey"
	"github.com/bureau-foundation/bureau-trust/secretstorage"
)

// lineReader reads one line of input after printing prompt. hidden
// lines are not echoed.
type lineReader func(prompt string, hidden bool) (string, error)

// terminalPrompter implements secretstorage.Prompter on a terminal.
// Only one dialog runs at a time.
type terminalPrompter struct {
	mu       sync.Mutex
	readLine lineReader
	out      io.Writer
}

var _ secretstorage.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{readLine: stdinReader(), out: os.Stderr}
}

// stdinReader disables echo for hidden input when stdin is a terminal
// and falls back to plain line reads otherwise.
func stdinReader() lineReader {
	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)
	scanner := bufio.NewScanner(os.Stdin)
	return func(prompt string, hidden bool) (string, error) {
		fmt.Fprint(os.Stderr, prompt)
		if hidden && interactive {
			line, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			return string(line), err
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}

func (p *terminalPrompter) AccessSecretStorage(ctx context.Context, request secretstorage.AccessRequest, options secretstorage.DialogOptions) (secretstorage.KeyInput, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := request.KeyID
	if request.Info.Name != "" {
		label = fmt.Sprintf("%s (%s)", request.Info.Name, request.KeyID)
	}
	fmt.Fprintf(p.out, "Unlock secret storage key %s", label)
	if request.ItemName != "" {
		fmt.Fprintf(p.out, " to read %s", request.ItemName)
	}
	fmt.Fprintln(p.out, ".")

	prompt := "Recovery key (empty line to cancel): "
	if request.Info.Passphrase != nil {
		prompt = "Passphrase or recovery key (empty line to cancel): "
	}
	for {
		if err := ctx.Err(); err != nil {
			return secretstorage.KeyInput{}, false, err
		}
		line, err := p.readLine(prompt, true)
		if err == io.EOF {
			return secretstorage.KeyInput{}, false, nil
		}
		if err != nil {
			return secretstorage.KeyInput{}, false, fmt.Errorf("reading key: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if p.confirmDismiss(options.BackgroundDismiss) {
				return secretstorage.KeyInput{}, false, nil
			}
			continue
		}

		input := classifyKeyInput(line, request.Info)
		if request.Check == nil || request.Check(ctx, input) {
			return input, true, nil
		}
		fmt.Fprintln(p.out, "That key does not unlock secret storage. Try again.")
	}
}

// classifyKeyInput treats text as a recovery key when it decodes as
// one, and as a passphrase otherwise when the key has a passphrase.
func classifyKeyInput(text string, info e2ee.KeyInfo) secretstorage.KeyInput {
	if info.Passphrase == nil {
		return secretstorage.KeyInput{RecoveryKey: text}
	}
	if key, err := ssskey.DecodeRecoveryKey(text); err == nil {
		clear(key)
		return secretstorage.KeyInput{RecoveryKey: text}
	}
	return secretstorage.KeyInput{Passphrase: text}
}

func (p *terminalPrompter) confirmDismiss(dismissal secretstorage.Dismissal) bool {
	switch dismissal {
	case secretstorage.DismissForbidden:
		fmt.Fprintln(p.out, "This step cannot be skipped.")
		return false
	case secretstorage.DismissWithConfirmation:
		answer, err := p.readLine("Cancel unlocking secret storage? [y/N]: ", false)
		if err != nil {
			return true
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	default:
		return true
	}
}

// CreateSecretStorage cannot succeed here: creating secret storage
// needs private cross-signing keys this client does not hold.
func (p *terminalPrompter) CreateSecretStorage(ctx context.Context, request secretstorage.CreateRequest, options secretstorage.DialogOptions) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "Secret storage is not set up for this account.")
	fmt.Fprintln(p.out, "Set up secure backup from a client that holds your encryption keys.")
	if options.BackgroundDismiss == secretstorage.DismissForbidden {
		fmt.Fprintln(p.out, "Your organisation requires secure backup.")
	}
	return false, nil
}

func (p *terminalPrompter) InteractiveAuth(ctx context.Context, makeRequest e2ee.AuthRequestFunc) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "The homeserver requires interactive authentication, which bureau-trust does not support.")
	return false, nil
}

func (p *terminalPrompter) RestoreKeyBackup(ctx context.Context) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		line, err := p.readLine("Key backup recovery key (empty line to cancel): ", true)
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("reading backup key: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, false, nil
		}
		key, err := ssskey.DecodeRecoveryKey(line)
		if err == nil {
			return key, true, nil
		}
		fmt.Fprintf(p.out, "Not a valid recovery key: %v\n", err)
	}
}
