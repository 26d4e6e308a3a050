package arp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/directory"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/marmos91/dittosync/pkg/session"
	"github.com/marmos91/dittosync/pkg/transport"
)

// ARPConnection is one requester connection served by the adapter.
type ARPConnection struct {
	handle     directory.Handle
	transport  *transport.Conn
	remoteAddr string
}

// newConn binds an accepted TCP connection to a fresh provider session.
func (s *ARPAdapter) newConn(tcpConn net.Conn) (*ARPConnection, error) {
	handle := s.sessions.NextHandle()
	tc := transport.New(tcpConn, s.sessions, handle, transport.Config{
		IdleTimeout:  s.config.IdleTimeout,
		StallTimeout: s.config.StallTimeout,
		WriteTimeout: s.config.WriteTimeout,
	})

	sess, err := session.New(s.shutdownCtx, session.Config{
		Role:              session.Provider,
		Store:             s.backend.Store,
		Resolver:          s.backend.Resolver,
		Registry:          s.backend.Registry,
		Admission:         s.backend.Admission,
		EnumerateInterval: s.config.EnumerateInterval,
		NotFoundReply:     s.config.NotFoundReply,
		MaxLineLength:     s.config.MaxLineLength,
		Observer:          s.observer,
		Metrics:           s.metrics,
	}, tc)
	if err != nil {
		tc.Abort()
		return nil, fmt.Errorf("new session: %w", err)
	}

	if stale := s.sessions.Insert(handle, sess); stale != nil {
		logger.Warn("Replacing stale session %s on handle %d", stale.ID(), handle)
		stale.Close(nil)
	}

	return &ARPConnection{
		handle:     handle,
		transport:  tc,
		remoteAddr: tcpConn.RemoteAddr().String(),
	}, nil
}

// Serve runs the connection until the requester leaves, the session fails
// or the adapter shuts down.
func (c *ARPConnection) Serve(ctx context.Context) {
	logger.Debug("New connection from %s", c.remoteAddr)

	err := c.transport.Serve(ctx)

	var rejected *session.RejectionError
	var netErr net.Error
	switch {
	case err == nil:
		logger.Debug("Connection from %s closed", c.remoteAddr)
	case errors.As(err, &rejected):
		logger.Warn("Connection from %s: %v", c.remoteAddr, err)
	case errors.Is(err, transport.ErrStalled), errors.Is(err, transport.ErrIdle):
		logger.Info("Connection from %s timed out: %v", c.remoteAddr, err)
	case errors.As(err, &netErr), errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debug("Connection from %s dropped: %v", c.remoteAddr, err)
	default:
		logger.Warn("Connection from %s aborted: %v", c.remoteAddr, err)
	}
}

// logObserver reports session events in the server log.
type logObserver struct {
	session.NopObserver
}

func (logObserver) OnMessage(s *session.Session, text string) {
	logger.Info("Message from session %s: %s", s.ID(), text)
}

func (logObserver) OnUploadReceived(s *session.Session, e registry.Entry) {
	logger.Info("Received %s (%d bytes, checksum %08X) from session %s",
		e.Path, e.Size, e.Checksum, s.ID())
}

func (logObserver) OnDisconnected(s *session.Session, err error) {
	if err != nil {
		logger.Debug("Session %s ended: %v", s.ID(), err)
	}
}
