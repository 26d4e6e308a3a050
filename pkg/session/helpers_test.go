package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/checksum"
	checksummemory "github.com/marmos91/dittosync/pkg/checksum/memory"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/content/memory"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/stretchr/testify/require"
)

// wire is an Outbound that buffers the encoded stream and keeps a transcript
// of the command lines.
type wire struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	lines  []string
	closed bool
}

var errWireClosed = errors.New("wire closed")

func (w *wire) Send(cmd arp.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWireClosed
	}
	w.buf.Write(cmd.Encode())
	w.lines = append(w.lines, cmd.String())
	return nil
}

func (w *wire) SendPayload(cmd arp.Command, body io.ReadCloser, size int64) error {
	defer body.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWireClosed
	}
	w.buf.Write(cmd.Encode())
	w.lines = append(w.lines, cmd.String())
	_, err := io.CopyN(&w.buf, body, size)
	return err
}

func (w *wire) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// take returns and clears the bytes sent so far.
func (w *wire) take() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	return b
}

func (w *wire) transcript() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

// recorder is an Observer that records every callback.
type recorder struct {
	NopObserver

	mu          sync.Mutex
	messages    []string
	rejected    []*RejectionError
	received    []registry.Entry
	uploads     []registry.Entry
	answers     map[string]bool
	failures    map[string]error
	completions []DownloadResult
	disconnects []error
}

func newRecorder() *recorder {
	return &recorder{answers: make(map[string]bool), failures: make(map[string]error)}
}

func (r *recorder) OnMessage(_ *Session, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recorder) OnRejected(_ *Session, err *RejectionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, err)
}

func (r *recorder) OnFileReceived(_ *Session, e registry.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, e)
}

func (r *recorder) OnDownloadComplete(_ *Session, result DownloadResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, result)
}

func (r *recorder) OnUploadAnswered(_ *Session, path string, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[path] = accepted
}

func (r *recorder) OnUploadFailed(_ *Session, path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[path] = err
}

func (r *recorder) OnUploadReceived(_ *Session, e registry.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, e)
}

func (r *recorder) OnDisconnected(_ *Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, err)
}

func (r *recorder) completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

func (r *recorder) answered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.answers)
}

func (r *recorder) lastResult() DownloadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions[len(r.completions)-1]
}

// endpoint bundles a session with its store, wire and observer.
type endpoint struct {
	s     *Session
	store *memory.MemoryContentStore
	cache *checksummemory.Cache
	out   *wire
	obs   *recorder
}

func newStore(t *testing.T) *memory.MemoryContentStore {
	t.Helper()
	store, err := memory.NewMemoryContentStore(context.Background(), memory.Config{})
	require.NoError(t, err)
	return store
}

type endpointOption func(*Config)

func withNotFound() endpointOption {
	return func(c *Config) { c.NotFoundReply = true }
}

func withInterval(d time.Duration) endpointOption {
	return func(c *Config) { c.EnumerateInterval = d }
}

var errUnreadable = errors.New("content unreadable")

// unreadable fails every Open while Stat and the resolver keep working.
type unreadable struct {
	content.Store
}

func (unreadable) Open(context.Context, string) (io.ReadCloser, content.FileInfo, error) {
	return nil, content.FileInfo{}, errUnreadable
}

// withUnreadableStore serves files the session can checksum but not read.
func withUnreadableStore() endpointOption {
	return func(c *Config) { c.Store = unreadable{c.Store} }
}

func newEndpoint(t *testing.T, role Role, reg *registry.Registry, adm *Admission, opts ...endpointOption) *endpoint {
	t.Helper()

	store := newStore(t)
	cache := checksummemory.New()
	ep := &endpoint{store: store, cache: cache, out: &wire{}, obs: newRecorder()}

	cfg := Config{
		Role:      role,
		Store:     store,
		Resolver:  checksum.NewResolver(store, cache),
		Registry:  reg,
		Admission: adm,
		Observer:  ep.obs,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := New(context.Background(), cfg, ep.out)
	require.NoError(t, err)
	ep.s = s

	t.Cleanup(func() {
		s.Close(nil)
		s.Wait()
	})
	return ep
}

func newProvider(t *testing.T, reg *registry.Registry, adm *Admission, opts ...endpointOption) *endpoint {
	t.Helper()
	if reg == nil {
		reg = registry.New()
	}
	if adm == nil {
		adm = NewAdmission()
	}
	return newEndpoint(t, Provider, reg, adm, opts...)
}

func newRequester(t *testing.T, opts ...endpointOption) *endpoint {
	t.Helper()
	return newEndpoint(t, Requester, nil, nil, opts...)
}

// feed sends a raw stream to the session.
func (ep *endpoint) feed(t *testing.T, stream string) error {
	t.Helper()
	return ep.s.Feed([]byte(stream))
}

// pinCache makes the endpoint's resolver report sum for an existing file.
func (ep *endpoint) pinCache(t *testing.T, path string, sum uint32) {
	t.Helper()
	ctx := context.Background()
	info, err := ep.store.Stat(ctx, path)
	require.NoError(t, err)
	require.NoError(t, ep.cache.Put(ctx, path, checksum.Record{Sum: sum, Size: info.Size, ModTime: info.ModTime}))
}

// pump shuttles bytes between two endpoints until done reports true.
func pump(t *testing.T, a, b *endpoint, done func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		require.True(t, time.Now().Before(deadline), "exchange did not settle")

		moved := false
		if chunk := a.out.take(); len(chunk) > 0 {
			require.NoError(t, b.s.Feed(chunk))
			moved = true
		}
		if chunk := b.out.take(); len(chunk) > 0 {
			require.NoError(t, a.s.Feed(chunk))
			moved = true
		}
		if !moved {
			time.Sleep(time.Millisecond)
		}
	}
}

// commandNames keeps only the command names of a transcript.
func commandNames(lines []string) []string {
	names := make([]string, len(lines))
	for i, l := range lines {
		name, _, _ := strings.Cut(l, ":")
		names[i] = name
	}
	return names
}
