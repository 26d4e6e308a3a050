package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
)

// Storage bundles the content store with its checksum cache and resolver.
// Provider and requester commands share the same construction.
type Storage struct {
	Store    content.Store
	Cache    checksum.Cache
	Resolver *checksum.Resolver
}

// InitializeStorage creates the content store and checksum cache described
// by cfg and wires them into a resolver.
//
// The caller owns the result and must Close it.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	storage, err := config.InitializeStorage(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to initialize storage: %v", err)
//	}
//	defer storage.Close()
func InitializeStorage(ctx context.Context, cfg *Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	logger.Debug("Creating content store (type: %s)", cfg.Content.Type)
	store, err := CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	logger.Debug("Creating checksum cache (type: %s)", cfg.Checksum.Type)
	cache, err := CreateChecksumCache(ctx, &cfg.Checksum)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("failed to create checksum cache: %w", err)
	}

	return &Storage{
		Store:    store,
		Cache:    cache,
		Resolver: checksum.NewResolver(store, cache),
	}, nil
}

// Close releases the checksum cache and, if it holds resources, the store.
func (s *Storage) Close() error {
	var errs []error
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close checksum cache: %w", err))
		}
	}
	if closer, ok := s.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close content store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func closeStore(store content.Store) {
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close content store: %v", err)
		}
	}
}
