package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/adapter"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/marmos91/dittosync/pkg/session"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("Serve() has already been called on this server instance")

// DittoServer manages the lifecycle of the provider: the registry of
// distributable files and the protocol adapters that serve it.
//
// Lifecycle:
//  1. Creation: New() with the content store and its checksum resolver
//  2. Registration: AddAdapter() for each listener
//  3. Startup: Serve() scans the store into the registry, then starts all adapters
//  4. Shutdown: Context cancellation stops all adapters; the registry is cleared
//
// Thread safety:
// DittoServer is safe for concurrent use. Serve() should only be called once.
//
// Example usage:
//
//	srv := server.New(store, resolver)
//	srv.AddAdapter(arp.New(arpConfig, metrics))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type DittoServer struct {
	backend adapter.Backend

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and serving flag
	mu     sync.RWMutex
	served bool

	// StopTimeout bounds each adapter's Stop() during shutdown
	StopTimeout time.Duration
}

// New creates a DittoServer distributing the content of store.
//
// Panics if store is nil (indicates programmer error).
func New(store content.Store, resolver *checksum.Resolver) *DittoServer {
	if store == nil {
		panic("content store cannot be nil")
	}
	if resolver == nil {
		resolver = checksum.NewResolver(store, nil)
	}

	return &DittoServer{
		backend: adapter.Backend{
			Store:     store,
			Resolver:  resolver,
			Registry:  registry.New(),
			Admission: session.NewAdmission(),
		},
		adapters:    make([]adapter.Adapter, 0, 2),
		StopTimeout: 30 * time.Second,
	}
}

// Registry returns the registry announced to requesters.
func (s *DittoServer) Registry() *registry.Registry {
	return s.backend.Registry
}

// AddAdapter registers a protocol adapter and injects the shared backend.
//
// Returns an error if another adapter serves the same protocol or port.
//
// Panics if the adapter is nil or Serve() has already been called.
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Ephemeral ports (<= 0) never collide.
		if port > 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter",
				port, existing.Protocol())
		}
	}

	a.SetBackend(s.backend)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve fills the registry from the content store, starts all registered
// adapters and blocks until the context is cancelled or an adapter fails.
// The registry is cleared once every adapter has stopped.
//
// Returns:
//   - context.Canceled (or the context's error) after a requested shutdown
//   - an error if the scan, or any adapter, failed
//   - ErrAlreadyServed on a second call
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	defer func() {
		s.backend.Registry.Clear()
		logger.Debug("Registry cleared")
	}()

	scanStart := time.Now()
	added, err := registry.Scan(ctx, s.backend.Store, s.backend.Resolver, s.backend.Registry)
	if err != nil {
		return fmt.Errorf("scan content: %w", err)
	}
	logger.Info("Registry ready: %d file(s) in %v", added, time.Since(scanStart))

	return s.serve(ctx, adapters)
}

// serve runs every adapter in its own goroutine. The first adapter failure,
// or ctx ending, stops them all; serve returns after every Serve call has.
func (s *DittoServer) serve(ctx context.Context, adapters []adapter.Adapter) error {
	logger.Info("Serving %d adapter(s)", len(adapters))

	failures := make(chan adapterError, len(adapters))
	var running sync.WaitGroup
	running.Add(len(adapters))
	for _, a := range adapters {
		go func(a adapter.Adapter) {
			defer running.Done()
			s.runAdapter(ctx, a, failures)
		}(a)
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down: %v", ctx.Err())
		result = ctx.Err()
	case f := <-failures:
		logger.Error("%s adapter failed, stopping the rest: %v", f.protocol, f.err)
		result = fmt.Errorf("%s adapter error: %w", f.protocol, f.err)
	}

	s.stopAllAdapters(adapters)
	running.Wait()

	logger.Info("DittoServer stopped")
	return result
}

func (s *DittoServer) runAdapter(ctx context.Context, a adapter.Adapter, failures chan<- adapterError) {
	protocol := a.Protocol()
	logger.Info("Starting %s adapter on port %d", protocol, a.Port())

	err := a.Serve(ctx)
	switch {
	case err == nil:
		logger.Info("%s adapter stopped", protocol)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		logger.Debug("%s adapter stopped on shutdown", protocol)
	default:
		failures <- adapterError{protocol: protocol, err: err}
	}
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, newest first, sharing one
// StopTimeout budget. It does not wait for Serve to return.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.StopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
