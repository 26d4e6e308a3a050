package metrics

import "time"

// Label values shared by every ReplicationMetrics implementation.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	TransferDownload = "download"
	TransferUpload   = "upload"

	OutcomeComplete = "complete"
	OutcomeRejected = "rejected"
	OutcomeAborted  = "aborted"
	OutcomeNotFound = "not_found"

	AdmissionAccepted  = "accepted"
	AdmissionDuplicate = "duplicate"
	AdmissionBusy      = "busy"
)

// ReplicationMetrics provides observability for replication sessions.
//
// Implementations collect per-command counters, payload throughput, transfer
// outcomes and connection lifecycle. The interface is optional - sessions and
// adapters fall back to a no-op implementation when none is provided.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewReplicationMetrics()
//	adapter := arp.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := arp.New(config, nil)
type ReplicationMetrics interface {
	// RecordCommand counts one command line.
	//
	// Parameters:
	//   - direction: DirectionIn (parsed) or DirectionOut (queued for sending)
	//   - name: command name (e.g., "list", "writefile")
	RecordCommand(direction string, name string)

	// RecordBytesTransferred records raw payload bytes.
	//
	// Parameters:
	//   - direction: DirectionIn or DirectionOut
	//   - bytes: number of payload bytes
	RecordBytesTransferred(direction string, bytes int64)

	// RecordTransfer records a finished file transfer.
	//
	// Parameters:
	//   - kind: TransferDownload or TransferUpload
	//   - outcome: OutcomeComplete, OutcomeRejected, OutcomeAborted or OutcomeNotFound
	//   - duration: time from writefile to completion (0 when unknown)
	RecordTransfer(kind string, outcome string, duration time.Duration)

	// RecordAdmission records the provider's answer to a requestsubmit.
	//
	// Parameters:
	//   - result: AdmissionAccepted, AdmissionDuplicate or AdmissionBusy
	RecordAdmission(result string)

	// SetActiveSessions updates the current session count.
	SetActiveSessions(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by a shutdown timeout.
	RecordConnectionForceClosed()
}

// NewNoopReplicationMetrics returns a ReplicationMetrics that discards everything.
func NewNoopReplicationMetrics() ReplicationMetrics {
	return noopReplicationMetrics{}
}

// noopReplicationMetrics is a no-op implementation of ReplicationMetrics with zero overhead.
type noopReplicationMetrics struct{}

func (noopReplicationMetrics) RecordCommand(direction string, name string)                 {}
func (noopReplicationMetrics) RecordBytesTransferred(direction string, bytes int64)        {}
func (noopReplicationMetrics) RecordTransfer(kind string, outcome string, d time.Duration) {}
func (noopReplicationMetrics) RecordAdmission(result string)                               {}
func (noopReplicationMetrics) SetActiveSessions(count int32)                               {}
func (noopReplicationMetrics) RecordConnectionAccepted()                                   {}
func (noopReplicationMetrics) RecordConnectionClosed()                                     {}
func (noopReplicationMetrics) RecordConnectionForceClosed()                                {}
