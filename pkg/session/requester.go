package session

import (
	"fmt"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/registry"
)

// StartListing asks the provider for its file list. Offers whose checksum
// matches the local copy are skipped; the rest are fetched one at a time
// once the provider's finished arrives.
func (s *Session) StartListing() error {
	if s.role != Requester {
		return fmt.Errorf("list: %w", ErrWrongRole)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.result = DownloadResult{}
	s.fetching = false
	s.state = Listing
	s.mu.Unlock()

	return s.send(arp.List())
}

// Upload offers local files to the provider. Each path is announced with its
// checksum; the content follows only if the provider accepts it.
func (s *Session) Upload(paths ...string) error {
	if s.role != Requester {
		return fmt.Errorf("upload: %w", ErrWrongRole)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	for _, path := range paths {
		if err := arp.ValidatePath(path); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		sum, exists, err := s.resolver.Checksum(s.ctx, path)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		if !exists {
			return fmt.Errorf("upload %s: %w", path, content.ErrContentNotFound)
		}

		cmd, err := arp.RequestSubmit(path, sum)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		s.uploads[path] = struct{}{}
		if err := s.send(cmd); err != nil {
			delete(s.uploads, path)
			return err
		}
		if s.state == Idle {
			s.state = AwaitingAdmission
		}
	}
	return nil
}

// PendingUploads returns the number of upload requests still unanswered.
func (s *Session) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// handleRequesterCommand acts on a command received by a requester. Must hold mu.
func (s *Session) handleRequesterCommand(cmd arp.Command) error {
	switch cmd.Name {
	case arp.CmdRequestSubmit:
		s.offer(cmd.Path(), cmd.Checksum())
		return nil
	case arp.CmdFinished:
		if s.state == Listing {
			s.state = Idle
		}
		if s.fetching && s.current != "" {
			// Already fetching; the running get advances the queue.
			return nil
		}
		s.fetching = true
		return s.advance()
	case arp.CmdAcceptWrite:
		return s.push(cmd.Path())
	case arp.CmdDenyWrite:
		s.answered(cmd.Path(), false)
		return nil
	case arp.CmdNotFound:
		if !s.notFound {
			logger.Debug("Session %s: notFound ignored (extension disabled)", s.shortID())
			return nil
		}
		return s.missing(cmd.Path())
	default:
		logger.Debug("Session %s: %s ignored by requester", s.shortID(), cmd.Name)
		return nil
	}
}

// offer queues an announced file unless the local copy already matches.
func (s *Session) offer(path string, sum uint32) {
	if _, dup := s.queued[path]; dup || path == s.current {
		return
	}

	local, exists, err := s.resolver.Checksum(s.ctx, path)
	if err != nil {
		logger.Debug("Session %s: skipping offer %s: %v", s.shortID(), path, err)
		return
	}
	if exists && local == sum {
		s.result.Skipped = append(s.result.Skipped, path)
		logger.Debug("Session %s: %s is up to date", s.shortID(), path)
		return
	}

	s.pending = append(s.pending, path)
	s.queued[path] = struct{}{}
}

// advance requests the next queued file, or ends the fetch with finished.
func (s *Session) advance() error {
	if len(s.pending) > 0 {
		path := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.queued, path)

		cmd, err := arp.Get(path)
		if err != nil {
			return s.advance()
		}
		s.current = path
		s.state = AwaitingWrite
		return s.send(cmd)
	}

	s.current = ""
	s.fetching = false
	if s.state != Listing {
		s.state = Idle
	}
	if err := s.send(arp.Finished()); err != nil {
		return err
	}

	result := s.result
	s.result = DownloadResult{}
	logger.Debug("Session %s: download complete: %d fetched, %d up to date, %d not found",
		s.shortID(), len(result.Fetched), len(result.Skipped), len(result.NotFound))
	s.emit(func() { s.observer.OnDownloadComplete(s, result) })
	return nil
}

// completeDownload records a received file and moves the queue. Must hold mu.
func (s *Session) completeDownload(e registry.Entry) error {
	s.emit(func() { s.observer.OnFileReceived(s, e) })

	if !s.fetching || e.Path != s.current {
		// Pushed without a get of ours; nothing to advance.
		return nil
	}
	s.result.Fetched = append(s.result.Fetched, e.Path)
	return s.advance()
}

// missing drops a path the provider cannot serve.
func (s *Session) missing(path string) error {
	if !s.fetching || path != s.current {
		return nil
	}
	s.result.NotFound = append(s.result.NotFound, path)
	s.metrics.RecordTransfer(metrics.TransferDownload, metrics.OutcomeNotFound, 0)
	return s.advance()
}

// push streams an accepted upload.
func (s *Session) push(path string) error {
	if _, ok := s.uploads[path]; !ok {
		logger.Debug("Session %s: acceptWrite for %s not requested", s.shortID(), path)
		return nil
	}

	body, info, err := s.store.Open(s.ctx, path)
	if err != nil {
		logger.Warn("Session %s: cannot upload %s: %v", s.shortID(), path, err)
		s.metrics.RecordTransfer(metrics.TransferUpload, metrics.OutcomeAborted, 0)
		if s.settle(path) {
			failure := fmt.Errorf("upload %s: %w", path, err)
			s.emit(func() { s.observer.OnUploadFailed(s, path, failure) })
		}
		return nil
	}

	if err := s.sendPayload(path, body, info.Size); err != nil {
		return err
	}
	s.metrics.RecordTransfer(metrics.TransferUpload, metrics.OutcomeComplete, 0)
	s.answered(path, true)
	return nil
}

// answered settles an upload request with the provider's answer.
func (s *Session) answered(path string, accepted bool) {
	if !s.settle(path) {
		return
	}

	if !accepted {
		logger.Debug("Session %s: upload of %s denied", s.shortID(), path)
	}
	s.emit(func() { s.observer.OnUploadAnswered(s, path, accepted) })
}

// settle removes path from the unanswered uploads and reports whether it was
// one. Must hold mu.
func (s *Session) settle(path string) bool {
	if _, ok := s.uploads[path]; !ok {
		return false
	}
	delete(s.uploads, path)
	if len(s.uploads) == 0 && s.state == AwaitingAdmission {
		s.state = Idle
	}
	return true
}
