// Package client is the requester side of the asset replication protocol: it
// connects to a provider, mirrors the provider's files into a local content
// store and offers local files for upload.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/directory"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/marmos91/dittosync/pkg/session"
	"github.com/marmos91/dittosync/pkg/transport"
)

// ErrConnectionLost reports a provider that went away mid-exchange.
var ErrConnectionLost = errors.New("connection to provider lost")

// Config holds the requester settings.
type Config struct {
	// Address is the provider used when none is given to a call.
	Address string `mapstructure:"address"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`

	// IdleTimeout bounds the wait for the provider's next command. A provider
	// that never answers a get is abandoned after it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// StallTimeout bounds a download payload that makes no progress.
	StallTimeout time.Duration `mapstructure:"stall_timeout" validate:"min=0"`

	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// NotFoundReply understands the provider's notFound answer to a get.
	NotFoundReply bool `mapstructure:"not_found_reply"`

	// MaxLineLength bounds a single command line. 0 uses the protocol default.
	MaxLineLength int `mapstructure:"max_line_length" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = time.Minute
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// UploadResult is the provider's answer to an upload. Failed lists accepted
// paths whose local content could not be read, so nothing was sent.
type UploadResult struct {
	Accepted []string
	Denied   []string
	Failed   []string
}

func (r UploadResult) settled() int {
	return len(r.Accepted) + len(r.Denied) + len(r.Failed)
}

// Client connects to providers as a requester. A Client holds no connection
// between calls and is safe for concurrent use.
type Client struct {
	cfg      Config
	store    content.Store
	resolver *checksum.Resolver
	metrics  metrics.ReplicationMetrics

	// OnComplete, if set, runs after every successful download.
	OnComplete func(addr string, result session.DownloadResult)
}

// New creates a Client mirroring into store. resolver may be nil, in which
// case checksums are recomputed on every call.
func New(cfg Config, store content.Store, resolver *checksum.Resolver, m metrics.ReplicationMetrics) *Client {
	cfg.applyDefaults()
	if resolver == nil {
		resolver = checksum.NewResolver(store, nil)
	}
	if m == nil {
		m = metrics.NewNoopReplicationMetrics()
	}
	return &Client{cfg: cfg, store: store, resolver: resolver, metrics: m}
}

// ConnectAndDownload lists the provider's files and fetches every one whose
// local copy is missing or differs. It returns once the provider's offers
// are exhausted.
//
// A write the local store refuses ends the download with a
// *session.RejectionError.
func (c *Client) ConnectAndDownload(ctx context.Context, addr string) (session.DownloadResult, error) {
	w := newWatcher(0)
	l, err := c.connect(ctx, addr, w)
	if err != nil {
		return session.DownloadResult{}, err
	}

	if err := l.session.StartListing(); err != nil {
		l.abort()
		return session.DownloadResult{}, fmt.Errorf("list: %w", err)
	}

	select {
	case result := <-w.complete:
		if err := l.close(); err != nil {
			logger.Debug("Closing connection to %s: %v", addr, err)
		}
		logger.Info("Download from %s complete: %d fetched, %d up to date, %d not found",
			addr, len(result.Fetched), len(result.Skipped), len(result.NotFound))
		if c.OnComplete != nil {
			c.OnComplete(addr, result)
		}
		return result, nil

	case err := <-l.served:
		return session.DownloadResult{}, ended(err)

	case <-ctx.Done():
		l.abort()
		return session.DownloadResult{}, ctx.Err()
	}
}

// Upload offers paths from the local store to the provider and sends the
// content of every accepted one. Paths the provider already holds with the
// same checksum, or that another requester is uploading, are denied.
func (c *Client) Upload(ctx context.Context, addr string, paths ...string) (UploadResult, error) {
	wanted := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		wanted[p] = struct{}{}
	}
	if len(wanted) == 0 {
		return UploadResult{}, nil
	}

	w := newWatcher(len(wanted))
	l, err := c.connect(ctx, addr, w)
	if err != nil {
		return UploadResult{}, err
	}

	if err := l.session.Upload(paths...); err != nil {
		l.abort()
		return UploadResult{}, err
	}

	var result UploadResult
	for result.settled() < len(wanted) {
		select {
		case a := <-w.answers:
			switch {
			case a.err != nil:
				result.Failed = append(result.Failed, a.path)
			case a.accepted:
				result.Accepted = append(result.Accepted, a.path)
			default:
				result.Denied = append(result.Denied, a.path)
			}
		case err := <-l.served:
			return result, ended(err)
		case <-ctx.Done():
			l.abort()
			return result, ctx.Err()
		}
	}

	// Accepted payloads are queued; closing drains them.
	if err := l.close(); err != nil {
		return result, fmt.Errorf("sending uploads: %w", err)
	}
	logger.Info("Upload to %s: %d accepted, %d denied, %d failed",
		addr, len(result.Accepted), len(result.Denied), len(result.Failed))
	return result, nil
}

// ============================================================================
// Connection
// ============================================================================

// link is one live requester connection.
type link struct {
	session *session.Session
	conn    *transport.Conn
	served  chan error
}

func (c *Client) connect(ctx context.Context, addr string, obs session.Observer) (*link, error) {
	if addr == "" {
		addr = c.cfg.Address
	}
	if addr == "" {
		return nil, errors.New("no provider address")
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	logger.Debug("Connected to provider %s", addr)

	dir := directory.New()
	handle := dir.NextHandle()
	tc := transport.New(netConn, dir, handle, transport.Config{
		IdleTimeout:  c.cfg.IdleTimeout,
		StallTimeout: c.cfg.StallTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
	})

	s, err := session.New(ctx, session.Config{
		Role:          session.Requester,
		Store:         c.store,
		Resolver:      c.resolver,
		NotFoundReply: c.cfg.NotFoundReply,
		MaxLineLength: c.cfg.MaxLineLength,
		Observer:      obs,
		Metrics:       c.metrics,
	}, tc)
	if err != nil {
		tc.Abort()
		return nil, err
	}
	dir.Insert(handle, s)

	l := &link{session: s, conn: tc, served: make(chan error, 1)}
	go func() { l.served <- tc.Serve(ctx) }()
	return l, nil
}

// close drains queued output and waits for the reader to finish.
func (l *link) close() error {
	err := l.conn.Close()
	<-l.served
	return err
}

func (l *link) abort() {
	l.conn.Abort()
	<-l.served
}

// ended maps the end of a connection that should still be running.
func ended(err error) error {
	var rejected *session.RejectionError
	switch {
	case errors.As(err, &rejected):
		return rejected
	case err == nil, errors.Is(err, io.EOF):
		return ErrConnectionLost
	default:
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
}

// ============================================================================
// Observer
// ============================================================================

type answer struct {
	path     string
	accepted bool
	err      error
}

// watcher turns session callbacks into channel events for the calls above.
type watcher struct {
	session.NopObserver

	complete chan session.DownloadResult
	answers  chan answer
}

func newWatcher(uploads int) *watcher {
	return &watcher{
		complete: make(chan session.DownloadResult, 1),
		answers:  make(chan answer, uploads),
	}
}

func (w *watcher) OnMessage(_ *session.Session, text string) {
	logger.Info("Provider says: %s", text)
}

func (w *watcher) OnRejected(_ *session.Session, err *session.RejectionError) {
	logger.Error("%v", err)
}

func (w *watcher) OnFileReceived(_ *session.Session, e registry.Entry) {
	logger.Info("Fetched %s (%d bytes)", e.Path, e.Size)
}

func (w *watcher) OnDownloadComplete(_ *session.Session, result session.DownloadResult) {
	select {
	case w.complete <- result:
	default:
	}
}

func (w *watcher) OnUploadAnswered(_ *session.Session, path string, accepted bool) {
	w.answer(answer{path: path, accepted: accepted})
}

func (w *watcher) OnUploadFailed(_ *session.Session, path string, err error) {
	logger.Error("%v", err)
	w.answer(answer{path: path, err: err})
}

func (w *watcher) answer(a answer) {
	select {
	case w.answers <- a:
	default:
	}
}
