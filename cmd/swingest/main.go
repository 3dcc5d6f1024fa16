package main

import (
	"os"

	"github.com/securewatch/ingest/cmd/swingest/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
