package arp

import (
	"fmt"
	"io"
)

// Mode governs how the next received bytes are interpreted.
type Mode int

const (
	// LineMode parses bytes as terminated command lines.
	LineMode Mode = iota
	// RawPayloadMode routes bytes to the active payload sink.
	RawPayloadMode
)

func (m Mode) String() string {
	switch m {
	case LineMode:
		return "line"
	case RawPayloadMode:
		return "raw"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Payload describes a raw block announced by writefile.
type Payload struct {
	Path string
	Size int64
}

// Handler receives what the Demuxer extracts from the stream.
//
// HandleLine is called once per complete line, terminator and trailing
// carriage return removed. It may call BeginPayload on the same Demuxer to
// switch to raw mode; the bytes that follow the line are then routed to the
// sink. HandlePayloadComplete is called after the sink has been closed.
//
// A non-nil error stops the current Feed and is returned to the caller.
type Handler interface {
	HandleLine(line string) error
	HandlePayloadComplete(p Payload) error
}

// Demuxer splits a byte stream into command lines and raw payload bytes.
//
// Partial lines and partial payloads are carried across Feed calls, so feeding
// a stream in arbitrary chunks yields exactly the same lines and payload bytes
// as feeding it in one call.
type Demuxer struct {
	handler       Handler
	maxLineLength int

	mode Mode
	acc  []byte

	// Active payload; valid only in RawPayloadMode.
	payload   Payload
	sink      io.WriteCloser
	remaining int64

	aborted bool
}

// NewDemuxer creates a Demuxer dispatching to handler.
// maxLineLength <= 0 selects DefaultMaxLineLength.
func NewDemuxer(handler Handler, maxLineLength int) *Demuxer {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Demuxer{
		handler:       handler,
		maxLineLength: maxLineLength,
	}
}

// Feed consumes one chunk delivered by the transport.
//
// After Abort, every byte is discarded and Feed returns nil.
func (d *Demuxer) Feed(chunk []byte) error {
	for len(chunk) > 0 {
		if d.aborted {
			return nil
		}

		if d.mode == RawPayloadMode {
			n := int64(len(chunk))
			if n > d.remaining {
				n = d.remaining
			}
			if _, err := d.sink.Write(chunk[:n]); err != nil {
				path := d.payload.Path
				d.Abort()
				return fmt.Errorf("write payload %s: %w", path, err)
			}
			d.remaining -= n
			chunk = chunk[n:]

			if d.remaining == 0 {
				if err := d.completePayload(); err != nil {
					return err
				}
			}
			continue
		}

		i := indexTerminator(chunk)
		if i < 0 {
			if len(d.acc)+len(chunk) > d.maxLineLength {
				d.acc = d.acc[:0]
				return fmt.Errorf("%w: more than %d bytes without terminator", ErrLineTooLong, d.maxLineLength)
			}
			d.acc = append(d.acc, chunk...)
			return nil
		}

		if n := len(d.acc) + i; n > d.maxLineLength {
			d.acc = d.acc[:0]
			return fmt.Errorf("%w: %d bytes", ErrLineTooLong, n)
		}

		d.acc = append(d.acc, chunk[:i]...)
		chunk = chunk[i+1:]
		if err := d.dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// dispatch hands the accumulated line to the handler and completes a
// zero-length payload the handler may have started.
func (d *Demuxer) dispatch() error {
	line := d.acc
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	s := string(line)
	d.acc = d.acc[:0]

	if err := d.handler.HandleLine(s); err != nil {
		return err
	}

	if d.mode == RawPayloadMode && d.remaining == 0 && !d.aborted {
		return d.completePayload()
	}
	return nil
}

func (d *Demuxer) completePayload() error {
	p := d.payload
	sink := d.sink

	d.mode = LineMode
	d.sink = nil
	d.payload = Payload{}

	if err := sink.Close(); err != nil {
		return fmt.Errorf("close payload %s: %w", p.Path, err)
	}
	return d.handler.HandlePayloadComplete(p)
}

// BeginPayload switches to raw mode: the next size bytes go to sink.
//
// It is meant to be called by the Handler while processing a writefile line.
// A zero-size payload completes as soon as that line has been handled.
func (d *Demuxer) BeginPayload(path string, size int64, sink io.WriteCloser) error {
	if d.aborted {
		return ErrAborted
	}
	if d.mode == RawPayloadMode {
		return fmt.Errorf("%w: %s", ErrPayloadActive, d.payload.Path)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrMalformedCommand, size)
	}

	d.mode = RawPayloadMode
	d.payload = Payload{Path: path, Size: size}
	d.sink = sink
	d.remaining = size
	return nil
}

// Flush dispatches a non-empty unterminated line as a final command.
// Called when the connection is closing.
func (d *Demuxer) Flush() error {
	if d.aborted || d.mode != LineMode || len(d.acc) == 0 {
		return nil
	}
	return d.dispatch()
}

// Abort discards everything received from now on.
// An open sink is closed without completing the payload.
func (d *Demuxer) Abort() {
	if d.aborted {
		return
	}
	d.aborted = true
	d.acc = nil
	_ = d.Close()
}

// Close releases an open sink without completing its payload. The partially
// written content stays wherever the sink put it.
func (d *Demuxer) Close() error {
	if d.sink == nil {
		return nil
	}
	sink := d.sink
	d.sink = nil
	d.mode = LineMode
	d.remaining = 0
	d.payload = Payload{}
	return sink.Close()
}

// Mode returns the current interpretation mode.
func (d *Demuxer) Mode() Mode { return d.mode }

// Pending returns the bytes still expected for the active payload.
func (d *Demuxer) Pending() int64 { return d.remaining }

// Active returns the active payload, if any.
func (d *Demuxer) Active() (Payload, bool) {
	return d.payload, d.mode == RawPayloadMode
}

// Aborted reports whether Abort has been called.
func (d *Demuxer) Aborted() bool { return d.aborted }

// Buffered returns the length of the partial line held for the next Feed.
func (d *Demuxer) Buffered() int { return len(d.acc) }

// indexTerminator returns the index of the first newline or NUL byte.
func indexTerminator(b []byte) int {
	for i, c := range b {
		if c == '\n' || c == 0 {
			return i
		}
	}
	return -1
}
