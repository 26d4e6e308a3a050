// Package session implements the per-connection state machine of the Asset
// Replication Protocol.
//
// One Session type serves both ends of a connection; its Role selects which
// commands it acts on. A Session never touches the network: the transport
// feeds it received bytes through Feed and carries what it emits through the
// Outbound it was created with.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/registry"
)

// Role selects the side of the protocol a Session plays.
type Role int

const (
	// Requester lists, fetches and pushes files (typically a game client).
	Requester Role = iota
	// Provider owns the registry, serves gets and admits uploads.
	Provider
)

func (r Role) String() string {
	switch r {
	case Requester:
		return "requester"
	case Provider:
		return "provider"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// State is the session's position in the transfer state machine.
type State int

const (
	Idle State = iota
	Listing
	AwaitingWrite
	Receiving
	AwaitingAdmission
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Listing:
		return "Listing"
	case AwaitingWrite:
		return "AwaitingWrite"
	case Receiving:
		return "Receiving"
	case AwaitingAdmission:
		return "AwaitingAdmission"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outbound carries what a session emits. Implementations queue and must not
// block the caller on a slow peer.
type Outbound interface {
	// Send queues one command line.
	Send(cmd arp.Command) error

	// SendPayload queues a writefile line followed by exactly size bytes
	// read from body. body is closed once streamed or discarded.
	SendPayload(cmd arp.Command, body io.ReadCloser, size int64) error
}

// Config holds the collaborators and options of a Session.
type Config struct {
	Role Role

	// Store holds the local files (required).
	Store content.Store

	// Resolver provides local checksums. Defaults to an uncached resolver over Store.
	Resolver *checksum.Resolver

	// Registry is the provider's file list (provider only, required).
	Registry *registry.Registry

	// Admission is the provider-wide in-flight upload set (provider only, required).
	Admission *Admission

	// EnumerateInterval paces the provider's announcements. 0 disables pacing.
	EnumerateInterval time.Duration

	// NotFoundReply enables the notFound extension: a provider answers a get
	// for a missing file with notFound, and a requester acts on it.
	NotFoundReply bool

	// MaxLineLength bounds a command line. 0 selects arp.DefaultMaxLineLength.
	MaxLineLength int

	Observer Observer
	Metrics  metrics.ReplicationMetrics
}

// receive describes the payload being written to the local store.
type receive struct {
	path    string
	size    int64
	sink    *checksum.Writer
	started time.Time
}

// Session is the protocol state of one connection.
//
// Thread Safety:
// Feed, Close and the requester operations may be called from different
// goroutines; a mutex serializes them. Observer callbacks run without the
// lock held.
type Session struct {
	id       string
	role     Role
	store    content.Store
	resolver *checksum.Resolver
	reg      *registry.Registry
	adm      *Admission
	interval time.Duration
	notFound bool
	observer Observer
	metrics  metrics.ReplicationMetrics
	out      Outbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	demux  *arp.Demuxer
	state  State
	recv   *receive
	events []func()
	closed bool

	// Provider
	admitted   map[string]struct{}
	enumerator *registry.Enumerator
	enumCancel context.CancelFunc

	// Requester
	pending  []string
	queued   map[string]struct{}
	current  string
	fetching bool
	result   DownloadResult
	uploads  map[string]struct{}
}

// New creates a Session emitting through out. Cancelling ctx stops any
// background enumeration the session runs.
func New(ctx context.Context, cfg Config, out Outbound) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: content store is required")
	}
	if out == nil {
		return nil, fmt.Errorf("session: outbound is required")
	}
	if cfg.Role == Provider {
		if cfg.Registry == nil {
			return nil, fmt.Errorf("session: provider requires a registry")
		}
		if cfg.Admission == nil {
			return nil, fmt.Errorf("session: provider requires an admission set")
		}
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = checksum.NewResolver(cfg.Store, nil)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopReplicationMetrics()
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.NewString(),
		role:     cfg.Role,
		store:    cfg.Store,
		resolver: resolver,
		reg:      cfg.Registry,
		adm:      cfg.Admission,
		interval: cfg.EnumerateInterval,
		notFound: cfg.NotFoundReply,
		observer: observer,
		metrics:  m,
		out:      out,
		ctx:      sctx,
		cancel:   cancel,
		admitted: make(map[string]struct{}),
		queued:   make(map[string]struct{}),
		uploads:  make(map[string]struct{}),
	}
	s.demux = arp.NewDemuxer(s, cfg.MaxLineLength)
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Role returns the side this session plays.
func (s *Session) Role() Role { return s.role }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the demultiplexer mode.
func (s *Session) Mode() arp.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demux.Mode()
}

// Receiving reports whether a payload is being received.
func (s *Session) Receiving() bool {
	return s.State() == Receiving
}

// InFlightUploads returns the paths this provider session holds admissions for.
func (s *Session) InFlightUploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.admitted))
	for p := range s.admitted {
		paths = append(paths, p)
	}
	return paths
}

// PendingDownloads returns the queued paths the requester has yet to get.
func (s *Session) PendingDownloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// ListingProgress returns the cursor of the running enumeration.
func (s *Session) ListingProgress() (index, total int, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enumerator == nil {
		return 0, 0, false
	}
	index, total = s.enumerator.Progress()
	return index, total, true
}

// Feed processes bytes received from the peer, in delivery order.
//
// A non-nil error means the session can no longer continue (a rejected
// write, a sink failure, an oversized line) and the connection must be torn
// down. After an abort further input is discarded.
func (s *Session) Feed(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	err := s.demux.Feed(chunk)
	events := s.takeEvents()
	s.mu.Unlock()

	s.fire(events)
	return err
}

// Close ends the session: a pending unterminated line is processed, an open
// sink is closed leaving the partial file, admissions are released and the
// enumerator is stopped. err is the reason reported to the observer; nil or
// io.EOF mean an orderly close. Close is idempotent.
func (s *Session) Close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if ferr := s.demux.Flush(); ferr != nil {
		logger.Debug("Session %s: final line: %v", s.shortID(), ferr)
	}

	s.closed = true
	if s.recv != nil {
		logger.Debug("Session %s: leaving partial file %s (%d/%d bytes)",
			s.shortID(), s.recv.path, s.recv.sink.Written(), s.recv.size)
		s.metrics.RecordTransfer(s.recvKind(), metrics.OutcomeAborted, 0)
		s.recv = nil
	}
	if cerr := s.demux.Close(); cerr != nil {
		logger.Debug("Session %s: closing sink: %v", s.shortID(), cerr)
	}

	if s.adm != nil {
		if n := s.adm.ReleaseAll(s.id); n > 0 {
			logger.Debug("Session %s: released %d admission(s)", s.shortID(), n)
		}
	}
	s.admitted = make(map[string]struct{})

	if s.enumCancel != nil {
		s.enumCancel()
	}
	s.cancel()

	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.emit(func() { s.observer.OnDisconnected(s, err) })
	events := s.takeEvents()
	s.mu.Unlock()

	s.fire(events)
}

// Wait blocks until the session's background enumeration has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Say sends free-form text to the peer.
func (s *Session) Say(text string) error {
	return s.send(arp.Send(text))
}

// ============================================================================
// arp.Handler
// ============================================================================

// HandleLine dispatches one command line. Unknown or malformed lines are
// logged and ignored; the state is unchanged.
func (s *Session) HandleLine(line string) error {
	cmd, err := arp.Parse(line)
	if err != nil {
		if line != "" {
			logger.Debug("Session %s: ignoring line %q: %v", s.shortID(), line, err)
		}
		return nil
	}

	s.metrics.RecordCommand(metrics.DirectionIn, cmd.Name)
	logger.Debug("Session %s (%s, %s): <- %s", s.shortID(), s.role, s.state, cmd)

	switch cmd.Name {
	case arp.CmdSend:
		text := cmd.Text()
		s.emit(func() { s.observer.OnMessage(s, text) })
		return nil
	case arp.CmdWriteFile:
		return s.handleWriteFile(cmd)
	}

	if s.role == Provider {
		return s.handleProviderCommand(cmd)
	}
	return s.handleRequesterCommand(cmd)
}

// HandlePayloadComplete finishes the transfer of the active payload.
func (s *Session) HandlePayloadComplete(p arp.Payload) error {
	recv := s.recv
	s.recv = nil
	if recv == nil || recv.path != p.Path {
		return fmt.Errorf("payload %s completed without a receive record", p.Path)
	}

	s.state = Idle
	entry := registry.Entry{Path: recv.path, Size: recv.sink.Written(), Checksum: recv.sink.Sum32()}
	s.metrics.RecordBytesTransferred(metrics.DirectionIn, entry.Size)
	s.metrics.RecordTransfer(s.recvKind(), metrics.OutcomeComplete, time.Since(recv.started))

	if err := s.resolver.Remember(s.ctx, entry.Path, entry.Checksum); err != nil {
		logger.Warn("Session %s: checksum of %s not recorded: %v", s.shortID(), entry.Path, err)
	}

	logger.Debug("Session %s: received %s (%d bytes, checksum %s)",
		s.shortID(), entry.Path, entry.Size, arp.FormatChecksum(entry.Checksum))

	if s.role == Provider {
		return s.completeUpload(entry)
	}
	return s.completeDownload(entry)
}

// handleWriteFile checks the destination and switches the demultiplexer to
// raw mode for the announced payload.
func (s *Session) handleWriteFile(cmd arp.Command) error {
	path, size := cmd.Path(), cmd.Size()

	// ========================================================================
	// Step 1: Provider accepts payloads only for admitted paths
	// ========================================================================

	if s.role == Provider {
		if _, ok := s.admitted[path]; !ok {
			return s.abort(fmt.Errorf("writefile %s: %w", path, ErrNotAdmitted))
		}
	}

	// ========================================================================
	// Step 2: Destination must be writable
	// ========================================================================

	if !s.store.IsWritable(s.ctx, path) {
		return s.reject(path)
	}

	sink, err := s.store.Create(s.ctx, path)
	if err != nil {
		if errors.Is(err, content.ErrReadOnly) {
			return s.reject(path)
		}
		return s.abort(fmt.Errorf("writefile %s: %w", path, err))
	}

	// ========================================================================
	// Step 3: Route the next size bytes to the sink
	// ========================================================================

	cw := checksum.NewWriter(sink)
	if err := s.demux.BeginPayload(path, size, cw); err != nil {
		_ = cw.Close()
		return s.abort(fmt.Errorf("writefile %s: %w", path, err))
	}

	s.recv = &receive{path: path, size: size, sink: cw, started: time.Now()}
	s.state = Receiving
	return nil
}

// reject aborts the session for an unwritable destination.
func (s *Session) reject(path string) error {
	rerr := &RejectionError{Path: path}
	logger.Warn("Session %s: %v", s.shortID(), rerr)
	s.metrics.RecordTransfer(s.recvKind(), metrics.OutcomeRejected, 0)

	if s.role == Requester {
		s.emit(func() { s.observer.OnRejected(s, rerr) })
	}
	return s.abort(rerr)
}

// abort discards all further input and returns err for the transport.
func (s *Session) abort(err error) error {
	s.demux.Abort()
	s.state = Aborted
	return err
}

// ============================================================================
// Helpers
// ============================================================================

// send queues cmd. Safe without the session lock.
func (s *Session) send(cmd arp.Command) error {
	if err := s.out.Send(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Name, err)
	}
	s.metrics.RecordCommand(metrics.DirectionOut, cmd.Name)
	return nil
}

// sendPayload queues writefile for path followed by size bytes of body.
func (s *Session) sendPayload(path string, body io.ReadCloser, size int64) error {
	cmd, err := arp.WriteFile(path, size)
	if err != nil {
		_ = body.Close()
		return fmt.Errorf("send %s: %w", path, err)
	}

	if err := s.out.SendPayload(cmd, body, size); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	s.metrics.RecordCommand(metrics.DirectionOut, cmd.Name)
	s.metrics.RecordBytesTransferred(metrics.DirectionOut, size)
	return nil
}

func (s *Session) recvKind() string {
	if s.role == Provider {
		return metrics.TransferUpload
	}
	return metrics.TransferDownload
}

// emit queues an observer callback; must hold mu.
func (s *Session) emit(fn func()) {
	s.events = append(s.events, fn)
}

func (s *Session) takeEvents() []func() {
	events := s.events
	s.events = nil
	return events
}

func (s *Session) fire(events []func()) {
	for _, fn := range events {
		fn()
	}
}

func (s *Session) shortID() string {
	return s.id[:8]
}
