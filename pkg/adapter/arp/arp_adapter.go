package arp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/adapter"
	"github.com/marmos91/dittosync/pkg/directory"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/session"
)

// DefaultPort is the TCP port providers listen on when none is configured.
const DefaultPort = 7400

// ARPAdapter implements the adapter.Adapter interface for the asset
// replication protocol. It is the provider side: every accepted connection
// gets a provider session that lists the registry, serves get requests and
// admits uploads.
//
// Architecture:
// ARPAdapter manages the TCP listener and connection lifecycle. Each accepted
// connection is bound to a directory handle through a transport.Conn, and
// its session is inserted in the adapter's directory. Inbound chunks are
// routed back to the session by handle.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (sessions stop enumerating, connections drain)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// to ensure idempotent behavior even if Stop() is called multiple times.
type ARPAdapter struct {
	config ARPConfig

	// listener is closed during shutdown to stop accepting new connections
	listener   net.Listener
	listenerMu sync.Mutex

	// boundPort is the port the listener actually bound (0 before Serve)
	boundPort atomic.Int32

	// ready is closed once the listener is bound
	ready chan struct{}

	backend  adapter.Backend
	metrics  metrics.ReplicationMetrics
	observer session.Observer

	// sessions routes transport events to provider sessions by handle
	sessions *directory.Directory

	// activeConns tracks all currently active connections for graceful shutdown
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	connCount atomic.Int32

	// connSemaphore limits concurrent connections if MaxConnections > 0
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown; every session derives from it
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps directory handles to live connections for
	// forced closure
	activeConnections sync.Map
}

// ARPConfig holds configuration parameters for the provider listener.
//
// Default values (applied by New if zero):
//   - Port: 7400 (-1 binds an ephemeral port)
//   - MaxConnections: 0 (unlimited)
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - StallTimeout: 1m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m (0 disables)
type ARPConfig struct {
	// Enabled controls whether the provider listener is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on. -1 asks the OS for a free port.
	Port int `mapstructure:"port" validate:"min=-1,max=65535"`

	// MaxConnections limits the number of concurrent requester connections.
	// When reached, new connections wait until existing ones close.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// WriteTimeout bounds each socket write. A requester that stops reading
	// for longer is disconnected.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout is how long a connection may go without sending anything
	// outside a payload before it is closed.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// StallTimeout is how long an upload payload may make no progress before
	// the session is aborted. The partial file is left in place.
	StallTimeout time.Duration `mapstructure:"stall_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for active connections
	// during graceful shutdown. Remaining connections are then force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// EnumerateInterval paces registry announcements on list. 0 sends them
	// back to back.
	EnumerateInterval time.Duration `mapstructure:"enumerate_interval" validate:"min=0"`

	// NotFoundReply answers a get for a missing file with notFound instead
	// of staying silent. Requesters must have the extension enabled too.
	NotFoundReply bool `mapstructure:"not_found_reply"`

	// MaxLineLength bounds a single command line in bytes. 0 uses the
	// protocol default.
	MaxLineLength int `mapstructure:"max_line_length" validate:"min=0"`

	// MetricsLogInterval is the interval at which to log connection and
	// session counts. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *ARPConfig) applyDefaults() {
	// Enabled defaults are handled in pkg/config/defaults.go
	// to allow explicit false values from configuration files.

	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks that the configuration is usable.
func (c *ARPConfig) validate() error {
	if c.Port < -1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be -1 to 65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("invalid StallTimeout %v: must be >= 0", c.StallTimeout)
	}
	if c.EnumerateInterval < 0 {
		return fmt.Errorf("invalid EnumerateInterval %v: must be >= 0", c.EnumerateInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a new ARPAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetBackend() to inject
// the shared provider state, then call Serve() to start accepting
// connections.
//
// Panics if config validation fails.
func New(config ARPConfig, replicationMetrics metrics.ReplicationMetrics) *ARPAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid ARP config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("ARP connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("ARP connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if replicationMetrics == nil {
		replicationMetrics = metrics.NewNoopReplicationMetrics()
	}

	return &ARPAdapter{
		config:         config,
		ready:          make(chan struct{}),
		metrics:        replicationMetrics,
		observer:       logObserver{},
		sessions:       directory.New(),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetBackend injects the shared provider state.
//
// Thread safety:
// Called exactly once before Serve(), no synchronization needed.
func (s *ARPAdapter) SetBackend(b adapter.Backend) {
	s.backend = b
	logger.Debug("ARP backend configured")
}

// SetObserver replaces the observer attached to every new session.
// Called before Serve().
func (s *ARPAdapter) SetObserver(o session.Observer) {
	if o == nil {
		o = logObserver{}
	}
	s.observer = o
}

// Serve starts the provider listener and blocks until the context is
// cancelled or an unrecoverable error occurs.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or shutdown is not graceful
//
// Thread safety:
// Serve() should only be called once per ARPAdapter instance.
func (s *ARPAdapter) Serve(ctx context.Context) error {
	if s.backend.Store == nil || s.backend.Registry == nil || s.backend.Admission == nil {
		return errors.New("ARP adapter: backend not configured")
	}

	port := s.config.Port
	if port < 0 {
		port = 0
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to create ARP listener on port %d: %w", port, err)
	}

	s.listenerMu.Lock()
	select {
	case <-s.shutdown:
		// Stopped before the listener was bound.
		s.listenerMu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.listenerMu.Unlock()

	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.boundPort.Store(int32(addr.Port))
	}
	close(s.ready)

	logger.Info("ARP provider listening on port %d", s.Port())
	logger.Debug("ARP config: max_connections=%d write_timeout=%v idle_timeout=%v stall_timeout=%v enumerate_interval=%v not_found_reply=%t",
		s.config.MaxConnections, s.config.WriteTimeout, s.config.IdleTimeout,
		s.config.StallTimeout, s.config.EnumerateInterval, s.config.NotFoundReply)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("ARP shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				// Expected error during shutdown (listener was closed)
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting ARP connection: %v", err)
				continue
			}
		}

		conn, err := s.newConn(tcpConn)
		if err != nil {
			logger.Warn("Cannot start session for %s: %v", tcpConn.RemoteAddr(), err)
			_ = tcpConn.Close()
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			continue
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)
		s.activeConnections.Store(conn.handle, conn.transport)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveSessions(int32(s.sessions.Len()))

		logger.Debug("ARP connection accepted from %s (active: %d)",
			tcpConn.RemoteAddr(), currentConns)

		go func(c *ARPConnection) {
			defer func() {
				s.activeConnections.Delete(c.handle)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveSessions(int32(s.sessions.Len()))

				logger.Debug("ARP connection closed from %s (active: %d)",
					c.remoteAddr, s.connCount.Load())
			}()

			c.Serve(s.shutdownCtx)
		}(conn)
	}
}

// initiateShutdown signals the server to begin graceful shutdown. Safe to
// call multiple times.
func (s *ARPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("ARP shutdown initiated")

		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing ARP listener: %v", err)
			}
		}
		s.listenerMu.Unlock()

		// Sessions stop enumerating and their connections drain and close.
		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections to complete, force-closing
// them once ShutdownTimeout expires.
func (s *ARPAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("ARP graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("ARP graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("ARP shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()
		<-done

		return fmt.Errorf("ARP shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections aborts every live connection, discarding whatever is
// still queued for it.
func (s *ARPAdapter) forceCloseConnections() {
	logger.Info("Force-closing active ARP connections")

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		handle := key.(directory.Handle)
		conn := value.(abortable)

		conn.Abort()
		closedCount++
		s.metrics.RecordConnectionForceClosed()
		logger.Debug("Force-closed connection %d", handle)
		return true
	})

	if closedCount == 0 {
		logger.Debug("No connections to force-close")
	} else {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

type abortable interface {
	Abort()
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done.
//
// Thread safety:
// Safe to call concurrently from multiple goroutines.
func (s *ARPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	activeCount := s.connCount.Load()
	logger.Info("ARP graceful shutdown: waiting for %d active connection(s) (context timeout)",
		activeCount)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("ARP graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("ARP shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs connection and session counts.
func (s *ARPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("ARP metrics: active_connections=%d sessions=%d registry_entries=%d uploads_in_flight=%d",
				s.connCount.Load(), s.sessions.Len(), s.backend.Registry.Len(), s.backend.Admission.Len())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (s *ARPAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Ready is closed once the listener is bound.
func (s *ARPAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Sessions returns the directory of live provider sessions.
func (s *ARPAdapter) Sessions() *directory.Directory {
	return s.sessions
}

// Port returns the bound TCP port once serving, the configured port before.
func (s *ARPAdapter) Port() int {
	if p := s.boundPort.Load(); p > 0 {
		return int(p)
	}
	return s.config.Port
}

// Protocol returns "ARP" as the protocol identifier.
func (s *ARPAdapter) Protocol() string {
	return "ARP"
}
