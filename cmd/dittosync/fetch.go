package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/client"
	"github.com/marmos91/dittosync/pkg/config"
	"github.com/marmos91/dittosync/pkg/session"
	"github.com/spf13/pflag"
)

var fetchInterval time.Duration

func fetchFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&fetchInterval, "interval", 0, "Fetch again after this long until interrupted (0 = fetch once)")
}

// newClient builds a requester on the configured local store. The returned
// function releases the store.
func newClient(ctx context.Context, common *commonFlags) (*client.Client, *config.Config, func(), error) {
	cfg, err := loadConfig(common)
	if err != nil {
		return nil, nil, nil, err
	}

	storage, err := config.InitializeStorage(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	metricsResult := config.InitializeMetrics(cfg)
	stopMetrics := startMetricsServer(ctx, metricsResult.Server)

	c := client.New(cfg.Requester, storage.Store, storage.Resolver, metricsResult.Replication)

	cleanup := func() {
		if err := storage.Close(); err != nil {
			logger.Warn("Storage close error: %v", err)
		}
		stopMetrics()
	}
	return c, cfg, cleanup, nil
}

func runFetch(ctx context.Context, fs *pflag.FlagSet, common *commonFlags) error {
	if fs.NArg() > 1 {
		return usageError(fs, "fetch takes at most one address")
	}

	c, cfg, cleanup, err := newClient(ctx, common)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := fs.Arg(0)
	if addr == "" {
		addr = cfg.Requester.Address
	}
	if addr == "" {
		return usageError(fs, "no provider address: pass one or set requester.address")
	}

	for {
		result, err := c.ConnectAndDownload(ctx, addr)
		if err != nil {
			var rejected *session.RejectionError
			if errors.As(err, &rejected) || fetchInterval == 0 || ctx.Err() != nil {
				return err
			}
			logger.Warn("Fetch from %s failed: %v", addr, err)
		} else {
			printResult("fetched", result.Fetched)
			printResult("not found", result.NotFound)
		}

		if fetchInterval == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(fetchInterval):
		}
	}
}

func runPush(ctx context.Context, fs *pflag.FlagSet, common *commonFlags) error {
	if fs.NArg() < 2 {
		return usageError(fs, "push needs an address and at least one path")
	}

	c, _, cleanup, err := newClient(ctx, common)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := c.Upload(ctx, fs.Arg(0), fs.Args()[1:]...)
	if err != nil {
		return err
	}

	printResult("uploaded", result.Accepted)
	printResult("declined", result.Denied)
	printResult("failed", result.Failed)
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d upload(s) could not be read locally", len(result.Failed))
	}
	return nil
}

func printResult(label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Printf("%s (%d): %s\n", label, len(paths), strings.Join(paths, ", "))
}
