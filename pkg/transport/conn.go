// Package transport binds a network connection to a replication session.
//
// Each Conn runs two goroutines: the reader (Serve) feeds received chunks to
// the session found in the directory, and the writer drains an outbound queue
// of command lines and payload bodies. Sessions therefore never block on a
// slow peer; a full socket only delays the writer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/directory"
	"github.com/marmos91/dittosync/pkg/session"
)

var (
	// ErrClosed is returned when queueing on a closed connection.
	ErrClosed = errors.New("connection closed")

	// ErrStalled reports a payload that made no progress within the stall timeout.
	ErrStalled = errors.New("payload stalled")

	// ErrIdle reports a connection idle for longer than the idle timeout.
	ErrIdle = errors.New("connection idle")

	// ErrNoSession reports a handle with no session bound in the directory.
	ErrNoSession = errors.New("no session for connection")
)

// Config holds the per-connection timeouts. Zero disables a timeout.
type Config struct {
	// IdleTimeout bounds the wait for the next bytes outside a payload.
	IdleTimeout time.Duration

	// StallTimeout bounds the wait for the next payload bytes while receiving.
	StallTimeout time.Duration

	// WriteTimeout bounds each write to the socket.
	WriteTimeout time.Duration

	// ReadBufferSize is the size of each read. Default 32KB.
	ReadBufferSize int
}

const defaultReadBufferSize = 32 * 1024

// frame is one queued unit: a command line, optionally followed by a body.
type frame struct {
	line []byte
	body io.ReadCloser
	size int64
}

// Conn is a session's view of one network connection. It implements
// session.Outbound.
//
// Thread Safety:
// Send, SendPayload, Close and Abort are safe for concurrent use. Serve must
// be called once.
type Conn struct {
	conn   net.Conn
	dir    *directory.Directory
	handle directory.Handle
	cfg    Config

	mu      sync.Mutex
	queue   []frame
	closing bool
	err     error

	notify     chan struct{}
	aborted    chan struct{}
	writerDone chan struct{}

	abortOnce sync.Once
	closeOnce sync.Once
}

var _ session.Outbound = (*Conn)(nil)

// New wraps conn and starts its writer. The session for handle must be
// inserted in dir before Serve is called.
func New(conn net.Conn, dir *directory.Directory, handle directory.Handle, cfg Config) *Conn {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	c := &Conn{
		conn:       conn,
		dir:        dir,
		handle:     handle,
		cfg:        cfg,
		notify:     make(chan struct{}, 1),
		aborted:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Handle returns the directory handle of the connection.
func (c *Conn) Handle() directory.Handle { return c.handle }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Send queues one command line.
func (c *Conn) Send(cmd arp.Command) error {
	return c.enqueue(frame{line: cmd.Encode()})
}

// SendPayload queues a command line followed by size bytes of body.
func (c *Conn) SendPayload(cmd arp.Command, body io.ReadCloser, size int64) error {
	if err := c.enqueue(frame{line: cmd.Encode(), body: body, size: size}); err != nil {
		_ = body.Close()
		return err
	}
	return nil
}

// Queued returns the number of frames waiting for the writer.
func (c *Conn) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Conn) enqueue(f frame) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// ============================================================================
// Writer
// ============================================================================

func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closing := c.closing
			c.mu.Unlock()
			if closing {
				return
			}

			select {
			case <-c.notify:
			case <-c.aborted:
				c.discard(ErrClosed)
				return
			}
			continue
		}

		f := c.queue[0]
		c.queue[0] = frame{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.writeFrame(f); err != nil {
			logger.Debug("Write to %s failed: %v", c.RemoteAddr(), err)
			c.discard(err)
			c.closeConn()
			return
		}
	}
}

func (c *Conn) writeFrame(f frame) error {
	w := &deadlineWriter{conn: c.conn, timeout: c.cfg.WriteTimeout}

	if _, err := w.Write(f.line); err != nil {
		if f.body != nil {
			_ = f.body.Close()
		}
		return fmt.Errorf("write line: %w", err)
	}
	if f.body == nil {
		return nil
	}

	defer f.body.Close()
	if _, err := io.CopyN(w, f.body, f.size); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// discard stops queueing and closes every queued body.
func (c *Conn) discard(err error) {
	c.mu.Lock()
	c.closing = true
	if c.err == nil && !errors.Is(err, ErrClosed) {
		c.err = err
	}
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, f := range queue {
		if f.body != nil {
			_ = f.body.Close()
		}
	}
}

// deadlineWriter refreshes the write deadline before every write, so the
// timeout bounds the lack of progress rather than the whole payload.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}

// ============================================================================
// Reader
// ============================================================================

// Serve feeds received bytes to the session until the peer disconnects, the
// session fails, a timeout expires or ctx is cancelled. On return the
// session is removed from the directory and closed, and the connection is
// closed: gracefully (queue drained) after an orderly end, immediately
// otherwise.
//
// Returns nil for a peer disconnect or cancellation, the failure otherwise.
func (c *Conn) Serve(ctx context.Context) error {
	defer func() {
		// Panic recovery - prevents a single connection from crashing the server
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.RemoteAddr(), r)
			c.finish(fmt.Errorf("panic: %v", r))
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(err)
		}

		s, ok := c.dir.Find(c.handle)
		if !ok {
			return c.finish(ErrNoSession)
		}

		receiving := s.Receiving()
		c.setReadDeadline(receiving)
		if err := ctx.Err(); err != nil {
			return c.finish(err)
		}

		n, rerr := c.conn.Read(buf)
		if n > 0 {
			if err := s.Feed(buf[:n]); err != nil {
				return c.finish(err)
			}
		}
		if rerr != nil {
			return c.finish(c.classify(ctx, rerr, receiving))
		}
	}
}

func (c *Conn) setReadDeadline(receiving bool) {
	timeout := c.cfg.IdleTimeout
	if receiving {
		timeout = c.cfg.StallTimeout
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		logger.Warn("Failed to set deadline for %s: %v", c.RemoteAddr(), err)
	}
}

// classify maps a read error to the reason reported to the session.
func (c *Conn) classify(ctx context.Context, err error, receiving bool) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) && c.isClosing() {
		// Closed locally.
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if receiving {
			return fmt.Errorf("%w: no payload bytes for %v", ErrStalled, c.cfg.StallTimeout)
		}
		return fmt.Errorf("%w for %v", ErrIdle, c.cfg.IdleTimeout)
	}
	return err
}

// finish ends the session and the connection for reason.
func (c *Conn) finish(reason error) error {
	if s, ok := c.dir.Remove(c.handle); ok {
		s.Close(reason)
	}

	orderly := reason == nil || errors.Is(reason, io.EOF) ||
		errors.Is(reason, context.Canceled) || errors.Is(reason, context.DeadlineExceeded)

	if orderly {
		logger.Debug("Connection %s ended: %v", c.RemoteAddr(), reason)
		if err := c.Close(); err != nil {
			logger.Debug("Draining %s: %v", c.RemoteAddr(), err)
		}
		return nil
	}

	logger.Debug("Connection %s aborted: %v", c.RemoteAddr(), reason)
	c.Abort()
	return reason
}

// ============================================================================
// Shutdown
// ============================================================================

// Close stops queueing, waits for the writer to drain what is queued and
// closes the connection. It returns the first write failure, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	<-c.writerDone
	c.closeConn()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Abort closes the connection immediately, discarding queued frames.
func (c *Conn) Abort() {
	c.abortOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.aborted)
	})
	c.closeConn()
	<-c.writerDone
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Done is closed once the writer has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.writerDone
}

func (c *Conn) closeConn() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			logger.Debug("Error closing connection to %s: %v", c.RemoteAddr(), err)
		}
	})
}
