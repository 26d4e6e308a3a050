package adapter

import (
	"context"

	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/marmos91/dittosync/pkg/session"
)

// Backend is the provider state shared by every adapter: the content being
// distributed, its checksums, the registry announced to requesters and the
// admission set guarding concurrent uploads.
type Backend struct {
	Store     content.Store
	Resolver  *checksum.Resolver
	Registry  *registry.Registry
	Admission *session.Admission
}

// Adapter represents a protocol-specific server adapter that can be managed
// by the server.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Backend injection: SetBackend() provides shared provider state
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetBackend() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active sessions to wind down (with timeout)
	//   - Clean up resources
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetBackend injects the shared provider state. Called exactly once
	// before Serve().
	SetBackend(b Backend)

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Must be idempotent and safe to call concurrently with Serve(). The
	// context bounds how long Stop waits for active connections.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or the
	// configured port before Serve() has bound the listener.
	Port() int
}
