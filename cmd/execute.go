// Package cmd contains the CLI entry points for the market intelligence
// persistence service.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ScottHMcKean/market-intelligence-app/internal/app"
	"github.com/ScottHMcKean/market-intelligence-app/internal/config"
	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
)

// Execute is the main entry point for the CLI.
//
// Following the pattern used by kubectl, hugo, and other standard Go
// CLI tools, all application logic lives in the cmd package, leaving
// main.go as a minimal entry point.
func Execute() error {
	// version and help work even when the configuration is invalid.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo(os.Stdout)
		case "help", "--help", "-h":
			printHelp(os.Stdout)
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: cfg.Level(),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	ctx := context.Background()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(os.Args) < 2 {
		printHelp(os.Stdout)
		return nil
	}

	switch verb := os.Args[1]; verb {
	case "check":
		return runCheck(ctx, a, os.Stdout)
	case "init-schema":
		// Setup already applied the schema when persistence came up;
		// here the outcome must be visible and failure must be loud.
		if !a.Available() {
			return fmt.Errorf("database not available, schema not applied")
		}
		fmt.Fprintln(os.Stdout, "schema up to date")
		return nil
	case "conversations":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s conversations <user-id>", progName())
		}
		return runConversations(ctx, a, os.Args[2], os.Stdout)
	case "messages":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s messages <conversation-id>", progName())
		}
		return runMessages(ctx, a, os.Args[2], os.Stdout)
	default:
		printHelp(os.Stderr)
		return fmt.Errorf("unknown command %q", verb)
	}
}

func progName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return os.Args[0]
	}
	return "marketintel"
}
