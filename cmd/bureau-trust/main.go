// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/bureau-trust/lib/config"
	"github.com/bureau-foundation/bureau-trust/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// usageError is a command-line mistake; it exits with status 2.
type usageError struct{ message string }

func (e *usageError) Error() string { return e.message }
func (e *usageError) ExitCode() int { return 2 }

func run(args []string, stdout io.Writer) error {
	var (
		configPath  string
		showVersion bool
		verbose     bool
	)
	flagSet := pflag.NewFlagSet("bureau-trust", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to bureau-trust.yaml (default: $BUREAU_TRUST_CONFIG)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &usageError{message: err.Error()}
	}
	if showVersion {
		fmt.Fprintf(stdout, "bureau-trust %s\n", version.Info())
		return nil
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		printUsage(flagSet)
		return &usageError{message: "a command is required"}
	}
	command, commandArgs := remaining[0], remaining[1:]
	if len(commandArgs) > 0 {
		return &usageError{message: fmt.Sprintf("%s takes no arguments, got %q", command, commandArgs[0])}
	}

	var handler func(ctx context.Context, env *environment, stdout io.Writer) error
	switch command {
	case "status":
		handler = runStatus
	case "check-key":
		handler = runCheckKey
	case "watch":
		handler = runWatch
	default:
		return &usageError{message: fmt.Sprintf("unknown command %q", command)}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(verbose).With("command", command)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	return handler(ctx, env, stdout)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes text to a terminal and JSON everywhere else.
func newLogger(verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bureau-trust: end-to-end encryption trust for one Matrix account.

Usage:
  bureau-trust [flags] <command>

Commands:
  status      show cross-signing, secret storage, key backup and devices
  check-key   verify a secret storage passphrase or recovery key
  watch       follow sync and print encryption notices as they change

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
