package session

import "github.com/marmos91/dittosync/pkg/registry"

// DownloadResult summarizes one listing on the requester side.
type DownloadResult struct {
	// Fetched lists the paths received, in order.
	Fetched []string
	// Skipped lists offered paths whose local checksum already matched.
	Skipped []string
	// NotFound lists paths the provider answered with notFound.
	NotFound []string
}

// Observer receives session events. Callbacks run on the goroutine that fed
// the triggering bytes, after the session lock has been released, so they may
// call back into the session.
//
// Embed NopObserver to implement only the callbacks you need.
type Observer interface {
	// OnMessage delivers the text of a send command.
	OnMessage(s *Session, text string)

	// OnRejected reports a payload this requester could not store.
	OnRejected(s *Session, err *RejectionError)

	// OnFileReceived reports a completed download (requester).
	OnFileReceived(s *Session, e registry.Entry)

	// OnDownloadComplete fires once the offers of a listing are exhausted
	// and finished has been sent (requester).
	OnDownloadComplete(s *Session, result DownloadResult)

	// OnUploadAnswered reports the provider's answer to an upload request
	// (requester). For accepted uploads the content is queued when this fires.
	OnUploadAnswered(s *Session, path string, accepted bool)

	// OnUploadFailed reports an accepted upload whose local content could not
	// be read, so nothing was sent (requester). The provider keeps the path
	// reserved until the connection closes.
	OnUploadFailed(s *Session, path string, err error)

	// OnUploadReceived reports a completed upload (provider).
	OnUploadReceived(s *Session, e registry.Entry)

	// OnDisconnected fires once when the session is closed. err is nil for
	// an orderly close.
	OnDisconnected(s *Session, err error)
}

// NopObserver implements Observer with empty callbacks.
type NopObserver struct{}

func (NopObserver) OnMessage(*Session, string)                  {}
func (NopObserver) OnRejected(*Session, *RejectionError)        {}
func (NopObserver) OnFileReceived(*Session, registry.Entry)     {}
func (NopObserver) OnDownloadComplete(*Session, DownloadResult) {}
func (NopObserver) OnUploadAnswered(*Session, string, bool)     {}
func (NopObserver) OnUploadFailed(*Session, string, error)      {}
func (NopObserver) OnUploadReceived(*Session, registry.Entry)   {}
func (NopObserver) OnDisconnected(*Session, error)              {}
