package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittosync/pkg/adapter"
	arpadapter "github.com/marmos91/dittosync/pkg/adapter/arp"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/content/memory"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/marmos91/dittosync/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type provider struct {
	addr  string
	store *memory.MemoryContentStore
	reg   *registry.Registry
}

func newMemoryStore(t *testing.T, files map[string]string) *memory.MemoryContentStore {
	t.Helper()
	store, err := memory.NewMemoryContentStore(context.Background(), memory.Config{})
	require.NoError(t, err)
	for path, data := range files {
		require.NoError(t, store.Put(path, []byte(data)))
	}
	return store
}

// startProvider serves files over loopback TCP until the test ends.
func startProvider(t *testing.T, files map[string]string, cfg arpadapter.ARPConfig) *provider {
	t.Helper()

	store := newMemoryStore(t, files)
	resolver := checksum.NewResolver(store, nil)
	reg := registry.New()
	_, err := registry.Scan(context.Background(), store, resolver, reg)
	require.NoError(t, err)

	cfg.Port = -1
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = time.Second
	}
	a := arpadapter.New(cfg, nil)
	a.SetBackend(adapter.Backend{
		Store:     store,
		Resolver:  resolver,
		Registry:  reg,
		Admission: session.NewAdmission(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("provider failed to start: %v", err)
	}
	return &provider{addr: fmt.Sprintf("127.0.0.1:%d", a.Port()), store: store, reg: reg}
}

func readString(t *testing.T, store content.Store, path string) string {
	t.Helper()
	data, err := content.ReadAll(context.Background(), store, path)
	require.NoError(t, err)
	return string(data)
}

func TestConnectAndDownload(t *testing.T) {
	files := map[string]string{
		"a.txt":         "alpha",
		"maps/dune.ter": "terrain",
		"b.txt":         "bravo",
	}
	p := startProvider(t, files, arpadapter.ARPConfig{})

	t.Run("FetchesMissingAndSkipsMatching", func(t *testing.T) {
		local := newMemoryStore(t, map[string]string{"maps/dune.ter": "terrain", "b.txt": "stale"})
		c := New(Config{}, local, nil, nil)

		var mu sync.Mutex
		var hooked []string
		c.OnComplete = func(addr string, _ session.DownloadResult) {
			mu.Lock()
			defer mu.Unlock()
			hooked = append(hooked, addr)
		}

		result, err := c.ConnectAndDownload(context.Background(), p.addr)
		require.NoError(t, err)

		assert.Equal(t, []string{"a.txt", "b.txt"}, result.Fetched)
		assert.Equal(t, []string{"maps/dune.ter"}, result.Skipped)
		assert.Empty(t, result.NotFound)
		assert.Equal(t, "alpha", readString(t, local, "a.txt"))
		assert.Equal(t, "bravo", readString(t, local, "b.txt"))
		assert.Equal(t, []string{p.addr}, hooked)

		// Second pass has nothing to do.
		result, err = c.ConnectAndDownload(context.Background(), p.addr)
		require.NoError(t, err)
		assert.Empty(t, result.Fetched)
		assert.ElementsMatch(t, []string{"a.txt", "b.txt", "maps/dune.ter"}, result.Skipped)
	})

	t.Run("UsesConfiguredAddress", func(t *testing.T) {
		local := newMemoryStore(t, nil)
		c := New(Config{Address: p.addr}, local, nil, nil)

		result, err := c.ConnectAndDownload(context.Background(), "")
		require.NoError(t, err)
		assert.Len(t, result.Fetched, 3)
	})

	t.Run("ReadOnlyFileRejects", func(t *testing.T) {
		local := newMemoryStore(t, map[string]string{"a.txt": "old"})
		local.SetReadOnly("a.txt", true)
		c := New(Config{}, local, nil, nil)

		_, err := c.ConnectAndDownload(context.Background(), p.addr)
		require.Error(t, err)

		var rejected *session.RejectionError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "a.txt", rejected.Path)
		assert.Equal(t, "could not update local file 'a.txt', it is read-only", err.Error())
		assert.ErrorIs(t, err, session.ErrWriteRejected)
		assert.Equal(t, "old", readString(t, local, "a.txt"))
	})
}

func TestConnectAndDownload_MissingFile(t *testing.T) {
	t.Run("NotFoundReply", func(t *testing.T) {
		p := startProvider(t, map[string]string{"a.txt": "alpha"}, arpadapter.ARPConfig{NotFoundReply: true})
		p.reg.Add(registry.Entry{Path: "ghost.txt", Size: 3, Checksum: 0x1234})

		c := New(Config{NotFoundReply: true}, newMemoryStore(t, nil), nil, nil)
		result, err := c.ConnectAndDownload(context.Background(), p.addr)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, result.Fetched)
		assert.Equal(t, []string{"ghost.txt"}, result.NotFound)
	})

	t.Run("SilentProviderTimesOut", func(t *testing.T) {
		p := startProvider(t, nil, arpadapter.ARPConfig{})
		p.reg.Add(registry.Entry{Path: "ghost.txt", Size: 3, Checksum: 0x1234})

		c := New(Config{IdleTimeout: 200 * time.Millisecond}, newMemoryStore(t, nil), nil, nil)
		_, err := c.ConnectAndDownload(context.Background(), p.addr)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnectionLost)
	})
}

func TestUpload(t *testing.T) {
	p := startProvider(t, map[string]string{"same.txt": "same"}, arpadapter.ARPConfig{})

	local := newMemoryStore(t, map[string]string{
		"new.txt":  "fresh content",
		"same.txt": "same",
	})
	c := New(Config{}, local, nil, nil)

	result, err := c.Upload(context.Background(), p.addr, "new.txt", "same.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, result.Accepted)
	assert.Equal(t, []string{"same.txt"}, result.Denied)

	require.Eventually(t, func() bool {
		e, ok := p.reg.Lookup("new.txt")
		return ok && e.Size == int64(len("fresh content"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fresh content", readString(t, p.store, "new.txt"))

	e, _ := p.reg.Lookup("new.txt")
	assert.Equal(t, checksum.Sum([]byte("fresh content")), e.Checksum)

	// Now the provider has it.
	result, err = c.Upload(context.Background(), p.addr, "new.txt")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Equal(t, []string{"new.txt"}, result.Denied)
}

// unreadableStore can be listed and checksummed through its resolver but
// refuses to open files.
type unreadableStore struct {
	content.Store
}

func (unreadableStore) Open(context.Context, string) (io.ReadCloser, content.FileInfo, error) {
	return nil, content.FileInfo{}, errors.New("disk gone")
}

func TestUpload_UnreadableAcceptedFile(t *testing.T) {
	p := startProvider(t, nil, arpadapter.ARPConfig{})

	local := newMemoryStore(t, map[string]string{"new.txt": "fresh content"})
	c := New(Config{}, unreadableStore{local}, checksum.NewResolver(local, nil), nil)

	result, err := c.Upload(context.Background(), p.addr, "new.txt")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Empty(t, result.Denied)
	assert.Equal(t, []string{"new.txt"}, result.Failed)

	// Closing the connection released the reservation.
	c = New(Config{}, local, nil, nil)
	require.Eventually(t, func() bool {
		result, err := c.Upload(context.Background(), p.addr, "new.txt")
		return err == nil && len(result.Accepted) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpload_MissingLocalFile(t *testing.T) {
	p := startProvider(t, nil, arpadapter.ARPConfig{})
	c := New(Config{}, newMemoryStore(t, nil), nil, nil)

	_, err := c.Upload(context.Background(), p.addr, "nope.txt")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func TestConnectErrors(t *testing.T) {
	c := New(Config{DialTimeout: time.Second}, newMemoryStore(t, nil), nil, nil)

	_, err := c.ConnectAndDownload(context.Background(), "")
	assert.Error(t, err)

	// A port nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = c.ConnectAndDownload(context.Background(), addr)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnectionLost))
}
