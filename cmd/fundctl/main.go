// Command fundctl is the operator CLI for the fund ledger. It reads the same
// environment (or .env file) as the server.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/atmx/fund-engine/internal/config"
	"github.com/atmx/fund-engine/internal/logger"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&checkCmd{}, "reports")
	commander.Register(&holdingsCmd{}, "reports")
	commander.Register(&importCmd{}, "ledger")
	commander.Register(&migrateCmd{}, "ledger")

	flag.Parse()

	cfg := config.Load()
	// Logs go to stdout in JSON; keep them out of report output unless asked.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	logger.Setup(cfg.LogLevel)

	os.Exit(int(commander.Execute(context.Background(), cfg)))
}
