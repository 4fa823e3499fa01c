package cmd

import (
	"fmt"
	"io"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func printVersionInfo(w io.Writer) error {
	fmt.Fprintf(w, "marketintel %s\n", AppVersion)
	fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `marketintel - conversation persistence for the market intelligence app

Usage:
  marketintel <command> [arguments]

Commands:
  check                        Probe workspace, credential, and database health
  init-schema                  Apply database migrations and report the result
  conversations <user-id>      List a user's conversations, newest first
  messages <conversation-id>   Print a conversation's messages in order
  version                      Show version information
  help                         Show this help

Configuration is read from config.yaml and environment variables
(DATABRICKS_HOST, DATABRICKS_TOKEN, LAKEBASE_INSTANCE_NAME, ...).
`)
}
