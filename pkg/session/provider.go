package session

import (
	"context"
	"errors"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/registry"
)

// handleProviderCommand acts on a command received by a provider. Must hold mu.
func (s *Session) handleProviderCommand(cmd arp.Command) error {
	switch cmd.Name {
	case arp.CmdList:
		s.startEnumeration()
		return nil
	case arp.CmdRequestSubmit:
		return s.admit(cmd.Path(), cmd.Checksum())
	case arp.CmdGet:
		return s.serve(cmd.Path())
	case arp.CmdFinished:
		logger.Debug("Session %s: requester finished", s.shortID())
		if s.state != Listing {
			s.state = Idle
		}
		return nil
	default:
		logger.Debug("Session %s: %s ignored by provider", s.shortID(), cmd.Name)
		return nil
	}
}

// startEnumeration announces a snapshot of the registry in the background.
// A listing already running is replaced.
func (s *Session) startEnumeration() {
	if s.enumCancel != nil {
		s.enumCancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	en := registry.NewEnumerator(s.reg.Snapshot(), s.interval)
	s.enumerator = en
	s.enumCancel = cancel
	s.state = Listing

	_, total := en.Progress()
	logger.Debug("Session %s: listing %d file(s), interval %v", s.shortID(), total, s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := en.Run(ctx, providerEmitter{s})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("Session %s: listing stopped: %v", s.shortID(), err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.enumerator != en {
			return
		}
		s.enumerator = nil
		s.enumCancel = nil
		if s.state == Listing {
			s.state = Idle
		}
	}()
}

// providerEmitter sends the enumerator's output on the session's outbound.
type providerEmitter struct {
	s *Session
}

// Announce skips entries that cannot be encoded so the listing still ends
// with finished.
func (e providerEmitter) Announce(entry registry.Entry) error {
	cmd, err := arp.RequestSubmit(entry.Path, entry.Checksum)
	if err != nil {
		logger.Warn("Session %s: not announcing %q: %v", e.s.shortID(), entry.Path, err)
		return nil
	}
	return e.s.send(cmd)
}

func (e providerEmitter) Finish() error {
	return e.s.send(arp.Finished())
}

// admit answers an upload request. A matching local file or a path already
// being uploaded by any session is denied; otherwise the path is reserved
// for this session.
func (s *Session) admit(path string, sum uint32) error {
	local, exists, err := s.resolver.Checksum(s.ctx, path)
	if err != nil {
		logger.Debug("Session %s: checksum of %s: %v", s.shortID(), path, err)
		return s.deny(path, metrics.AdmissionBusy)
	}
	if exists && local == sum {
		return s.deny(path, metrics.AdmissionDuplicate)
	}

	if !s.adm.Reserve(path, s.id) {
		return s.deny(path, metrics.AdmissionBusy)
	}
	s.admitted[path] = struct{}{}
	s.metrics.RecordAdmission(metrics.AdmissionAccepted)

	cmd, err := arp.AcceptWrite(path)
	if err != nil {
		s.release(path)
		return nil
	}
	if err := s.send(cmd); err != nil {
		s.release(path)
		return err
	}
	s.state = AwaitingWrite
	return nil
}

func (s *Session) deny(path, reason string) error {
	s.metrics.RecordAdmission(reason)
	logger.Debug("Session %s: denying %s (%s)", s.shortID(), path, reason)

	cmd, err := arp.DenyWrite(path)
	if err != nil {
		return nil
	}
	if s.state == AwaitingWrite && len(s.admitted) == 0 {
		s.state = Idle
	}
	return s.send(cmd)
}

func (s *Session) release(path string) {
	delete(s.admitted, path)
	s.adm.Release(path, s.id)
}

// serve answers a get with the file's content. A file that cannot be read
// gets no answer unless the notFound extension is enabled.
func (s *Session) serve(path string) error {
	body, info, err := s.store.Open(s.ctx, path)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			logger.Debug("Session %s: get %s: %v", s.shortID(), path, err)
		} else {
			logger.Warn("Session %s: cannot serve %s: %v", s.shortID(), path, err)
		}
		s.metrics.RecordTransfer(metrics.TransferDownload, metrics.OutcomeNotFound, 0)

		if !s.notFound {
			return nil
		}
		cmd, cerr := arp.NotFound(path)
		if cerr != nil {
			return nil
		}
		return s.send(cmd)
	}

	logger.Debug("Session %s: serving %s (%d bytes)", s.shortID(), path, info.Size)
	return s.sendPayload(path, body, info.Size)
}

// completeUpload publishes a received upload. Must hold mu.
func (s *Session) completeUpload(e registry.Entry) error {
	s.release(e.Path)
	s.reg.Upsert(e)
	if len(s.admitted) > 0 {
		s.state = AwaitingWrite
	} else if s.enumerator != nil {
		s.state = Listing
	}

	s.emit(func() { s.observer.OnUploadReceived(s, e) })
	return nil
}
