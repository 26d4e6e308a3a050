// Command dittosync replicates asset files between a provider and requesters
// over the Asset Replication Protocol.
//
// Usage:
//
//	dittosync serve [--config path] [--log-level level]
//	dittosync fetch [addr] [--interval d]
//	dittosync push <addr> <path>...
//	dittosync init [--force]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/config"
	"github.com/spf13/pflag"
)

const usage = `DittoSync - asset replication daemon

Usage:
  dittosync <command> [flags] [args]

Commands:
  serve                 Serve the content store to requesters
  fetch [addr]          Download everything the provider at addr offers
  push <addr> <path>... Offer local files to the provider at addr
  init                  Write a default configuration file

Run 'dittosync <command> --help' for command flags.
`

// errUsage marks a command line mistake; the command already printed help.
var errUsage = errors.New("invalid usage")

type command struct {
	run   func(ctx context.Context, fs *pflag.FlagSet, common *commonFlags) error
	flags func(fs *pflag.FlagSet)
}

var commands = map[string]command{
	"serve": {run: runServe},
	"fetch": {run: runFetch, flags: fetchFlags},
	"push":  {run: runPush},
	"init":  {run: runInit, flags: initFlags},
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Print(usage)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("dittosync "+name, pflag.ContinueOnError)
	common := &commonFlags{}
	fs.StringVarP(&common.configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/dittosync/config.yaml)")
	fs.StringVar(&common.logLevel, "log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	if cmd.flags != nil {
		cmd.flags(fs)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, fs, common); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies it to the logger.
func loadConfig(common *commonFlags) (*config.Config, error) {
	cfg, err := config.Load(common.configPath)
	if err != nil {
		return nil, err
	}

	if common.logLevel != "" {
		cfg.Logging.Level = common.logLevel
		config.ApplyDefaults(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}

	return cfg, nil
}

func usageError(fs *pflag.FlagSet, format string, args ...any) error {
	fmt.Fprintf(os.Stderr, format+"\n\n", args...)
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", fs.Name())
	fs.PrintDefaults()
	return errUsage
}
