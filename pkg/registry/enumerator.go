package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittosync/internal/ratelimiter"
)

// Emitter receives what an Enumerator announces.
type Emitter interface {
	// Announce sends one requestsubmit for e.
	Announce(e Entry) error

	// Finish sends the closing finished.
	Finish() error
}

// Enumerator announces a registry snapshot to one requester, one entry per
// paced step, followed by exactly one finish.
//
// Each listing session drives its own Enumerator, so many requesters progress
// side by side without any of them flooding its connection. Cancelling the
// context passed to Run (disconnect) stops the enumeration early.
type Enumerator struct {
	entries []Entry
	pacer   *ratelimiter.RateLimiter
	index   atomic.Int64
}

// NewEnumerator creates an Enumerator over entries. interval is the delay
// between steps; 0 disables pacing.
func NewEnumerator(entries []Entry, interval time.Duration) *Enumerator {
	return &Enumerator{
		entries: entries,
		pacer:   ratelimiter.Every(interval),
	}
}

// Run emits every entry in order and then Finish. It returns ctx.Err() if
// cancelled before completion, or the first emitter error.
func (e *Enumerator) Run(ctx context.Context, emit Emitter) error {
	for i, entry := range e.entries {
		if err := e.pacer.Wait(ctx); err != nil {
			return e.stopped(ctx, err)
		}
		if err := emit.Announce(entry); err != nil {
			return fmt.Errorf("announce %s: %w", entry.Path, err)
		}
		e.index.Store(int64(i + 1))
	}

	if err := e.pacer.Wait(ctx); err != nil {
		return e.stopped(ctx, err)
	}
	if err := emit.Finish(); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	return nil
}

// stopped prefers the context's own error over the limiter's wrapper.
func (e *Enumerator) stopped(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Progress returns the enumeration cursor: entries announced so far and total.
func (e *Enumerator) Progress() (index, total int) {
	return int(e.index.Load()), len(e.entries)
}

// Done reports whether every entry has been announced.
func (e *Enumerator) Done() bool {
	i, total := e.Progress()
	return i == total
}
