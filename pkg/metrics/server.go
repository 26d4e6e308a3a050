package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the scrape port used when ServerConfig.Port is zero.
const DefaultPort = 9090

// drainTimeout bounds how long in-flight scrapes may run after the
// serving context ends.
const drainTimeout = 5 * time.Second

// Server exposes the registry over HTTP at /metrics. The root path answers
// with a short plain text pointer, anything else is a 404.
type Server struct {
	http     *http.Server
	stopOnce sync.Once

	mu   sync.Mutex
	port int
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Zero selects DefaultPort, -1 an ephemeral port.
	Port int
}

func (c *ServerConfig) listenPort() int {
	switch {
	case c.Port == 0:
		return DefaultPort
	case c.Port < 0:
		return 0
	default:
		return c.Port
	}
}

// NewServer builds a stopped server. Start begins listening.
func NewServer(config ServerConfig) *Server {
	port := config.listenPort()

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      newMux(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  time.Minute,
		},
		port: port,
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	reg := GetRegistry()
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	logger.Debug("Metrics handler installed (collection enabled: %v)", reg != nil)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, "DittoSync metrics server\nScrape /metrics for Prometheus metrics.\n")
	})

	return mux
}

// Start listens and serves until ctx is cancelled, then shuts down and
// returns nil. A listen or serve failure is returned as is.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.http.Addr, err)
	}

	s.mu.Lock()
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()
	logger.Info("Metrics server listening on port %d", s.Port())

	serveErr := make(chan error, 1)
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; shutdown needs its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-serveErr:
		if err == nil {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down once. Later calls return nil.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if err = s.http.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown: %v", err)
			err = fmt.Errorf("metrics server shutdown: %w", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return err
}

// Port returns the bound port once Start is listening, the configured one
// before.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
