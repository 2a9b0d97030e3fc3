// Package main is the slotboard command-line tool. It prints the effective configuration
// and runs one-shot syncs against the configured backend.
//
//	slotboard [-config path] version|config|sync|status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kimhsiao/slotboard/internal/app"
	"github.com/kimhsiao/slotboard/internal/config"
	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "slotboard: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("slotboard", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to slotboard.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := "version"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	if command == "version" {
		fmt.Fprintf(stdout, "Slotboard v%s\n", Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	switch command {
	case "config":
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	case "sync", "status":
		return withApp(ctx, cfg, func(a *app.App) error {
			if command == "status" {
				return printJSON(stdout, a.Engine.Status())
			}
			result, err := a.Engine.SyncNow(ctx)
			if err != nil && !apperrors.Is(err, apperrors.ErrSyncSkipped) {
				return err
			}
			return printJSON(stdout, result)
		})
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// withApp runs fn against a started engine without the scheduler or network monitor.
func withApp(ctx context.Context, cfg *config.Config, fn func(*app.App) error) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logging.Init(logger)
	defer logging.Sync()

	a, err := app.New(ctx, cfg, Version)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
