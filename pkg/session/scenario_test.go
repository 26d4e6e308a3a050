package session

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/dittosync/internal/protocol/arp"
	"github.com/marmos91/dittosync/pkg/checksum"
	"github.com/marmos91/dittosync/pkg/content"
	"github.com/marmos91/dittosync/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioProvider serves a.txt (10 bytes, 0xAAAA) and b.txt (5 bytes, 0xBBBB).
func scenarioProvider(t *testing.T) *endpoint {
	t.Helper()

	reg := registry.New()
	reg.Add(registry.Entry{Path: "a.txt", Size: 10, Checksum: 0xAAAA})
	reg.Add(registry.Entry{Path: "b.txt", Size: 5, Checksum: 0xBBBB})

	prov := newProvider(t, reg, nil)
	require.NoError(t, prov.store.Put("a.txt", []byte("0123456789")))
	require.NoError(t, prov.store.Put("b.txt", []byte("abcde")))
	return prov
}

func TestScenario_FetchAll(t *testing.T) {
	prov := scenarioProvider(t)
	req := newRequester(t)

	require.NoError(t, req.s.StartListing())
	pump(t, req, prov, func() bool { return req.obs.completed() == 1 })

	assert.Equal(t, []string{
		"list",
		"get:a.txt",
		"get:b.txt",
		"finished",
	}, req.out.transcript())
	assert.Equal(t, []string{
		"requestsubmit:a.txt:AAAA",
		"requestsubmit:b.txt:BBBB",
		"finished",
		"writefile:a.txt:10",
		"writefile:b.txt:5",
	}, prov.out.transcript())

	ctx := context.Background()
	a, err := content.ReadAll(ctx, req.store, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(a))
	b, err := content.ReadAll(ctx, req.store, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))

	result := req.obs.lastResult()
	assert.Equal(t, []string{"a.txt", "b.txt"}, result.Fetched)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, Idle, req.s.State())
	assert.Equal(t, []registry.Entry{
		{Path: "a.txt", Size: 10, Checksum: checksum.Sum([]byte("0123456789"))},
		{Path: "b.txt", Size: 5, Checksum: checksum.Sum([]byte("abcde"))},
	}, req.obs.received)
}

func TestScenario_SkipMatchingFile(t *testing.T) {
	prov := scenarioProvider(t)
	req := newRequester(t)

	require.NoError(t, req.store.Put("a.txt", []byte("local copy")))
	req.pinCache(t, "a.txt", 0xAAAA)

	require.NoError(t, req.s.StartListing())
	pump(t, req, prov, func() bool { return req.obs.completed() == 1 })

	assert.Equal(t, []string{"list", "get:b.txt", "finished"}, req.out.transcript())
	assert.Equal(t, "writefile:b.txt:5", prov.out.transcript()[3])
	assert.Len(t, prov.out.transcript(), 4)

	result := req.obs.lastResult()
	assert.Equal(t, []string{"b.txt"}, result.Fetched)
	assert.Equal(t, []string{"a.txt"}, result.Skipped)

	a, err := content.ReadAll(context.Background(), req.store, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "local copy", string(a), "matching file is left alone")
}

func TestScenario_Upload(t *testing.T) {
	prov := newProvider(t, nil, nil)
	req := newRequester(t)

	data := []byte("cccccccccccccccc")
	require.NoError(t, req.store.Put("c.txt", data))
	req.pinCache(t, "c.txt", 0xCCCC)

	require.NoError(t, req.s.Upload("c.txt"))
	assert.Equal(t, AwaitingAdmission, req.s.State())

	pump(t, req, prov, func() bool {
		prov.obs.mu.Lock()
		defer prov.obs.mu.Unlock()
		return len(prov.obs.uploads) == 1
	})

	assert.Equal(t, []string{"requestsubmit:c.txt:CCCC", "writefile:c.txt:16"}, req.out.transcript())
	assert.Equal(t, []string{"acceptWrite:c.txt"}, prov.out.transcript())

	assert.Empty(t, prov.s.InFlightUploads())
	assert.Zero(t, prov.s.adm.Len())
	assert.Equal(t, Idle, prov.s.State())
	assert.Equal(t, Idle, req.s.State())
	assert.True(t, req.obs.answers["c.txt"])

	got, err := content.ReadAll(context.Background(), prov.store, "c.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entry, ok := prov.s.reg.Lookup("c.txt")
	require.True(t, ok)
	assert.Equal(t, registry.Entry{Path: "c.txt", Size: 16, Checksum: checksum.Sum(data)}, entry)
}

func TestScenario_ListTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	prov := newProvider(t, nil, nil)
	require.NoError(t, prov.store.Put("maps/dune.ter", []byte("terrain data")))
	require.NoError(t, prov.store.Put("empty.cfg", nil))
	require.NoError(t, prov.store.Put("readme.txt", []byte("hello")))
	_, err := registry.Scan(ctx, prov.store, prov.s.resolver, prov.s.reg)
	require.NoError(t, err)

	req := newRequester(t)

	require.NoError(t, req.s.StartListing())
	pump(t, req, prov, func() bool { return req.obs.completed() == 1 })
	first := req.obs.lastResult()
	assert.Len(t, first.Fetched, 3)

	empty, err := content.ReadAll(ctx, req.store, "empty.cfg")
	require.NoError(t, err)
	assert.Empty(t, empty)

	before := len(req.out.transcript())
	require.NoError(t, req.s.StartListing())
	pump(t, req, prov, func() bool { return req.obs.completed() == 2 })

	second := req.obs.lastResult()
	assert.Empty(t, second.Fetched)
	assert.ElementsMatch(t, []string{"maps/dune.ter", "empty.cfg", "readme.txt"}, second.Skipped)
	assert.Equal(t, []string{"list", "finished"}, req.out.transcript()[before:])
}

func TestScenario_AdmissionExclusivity(t *testing.T) {
	const stream = "requestsubmit:hot.txt:1234\n"

	run := func(t *testing.T, seed func(store content.Store)) (accepts, denies int) {
		t.Helper()

		store := newStore(t)
		seed(store)
		reg := registry.New()
		adm := NewAdmission()

		wires := []*wire{{}, {}}
		sessions := make([]*Session, len(wires))
		for i, w := range wires {
			s, err := New(context.Background(), Config{
				Role:      Provider,
				Store:     store,
				Registry:  reg,
				Admission: adm,
			}, w)
			require.NoError(t, err)
			sessions[i] = s
			t.Cleanup(func() { s.Close(nil) })
		}

		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				assert.NoError(t, s.Feed([]byte(stream)))
			}(s)
		}
		wg.Wait()

		for _, w := range wires {
			for _, name := range commandNames(w.transcript()) {
				switch name {
				case "acceptWrite":
					accepts++
				case "denyWrite":
					denies++
				}
			}
		}
		return accepts, denies
	}

	t.Run("NewFile", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			accepts, denies := run(t, func(content.Store) {})
			assert.Equal(t, 1, accepts)
			assert.Equal(t, 1, denies)
		}
	})

	t.Run("MatchingFile", func(t *testing.T) {
		data := []byte("already here")
		accepts, denies := run(t, func(store content.Store) {
			require.NoError(t, content.WriteAll(context.Background(), store, "hot.txt", data))
		})
		// The announced checksum 0x1234 differs, so one session is admitted.
		assert.Equal(t, 1, accepts)
		assert.Equal(t, 1, denies)

		accepts, denies = 0, 0
		store := newStore(t)
		require.NoError(t, store.Put("hot.txt", data))
		adm := NewAdmission()
		line := "requestsubmit:hot.txt:" + arp.FormatChecksum(checksum.Sum(data)) + "\n"
		for i := 0; i < 2; i++ {
			w := &wire{}
			s, err := New(context.Background(), Config{Role: Provider, Store: store, Registry: registry.New(), Admission: adm}, w)
			require.NoError(t, err)
			require.NoError(t, s.Feed([]byte(line)))
			for _, name := range commandNames(w.transcript()) {
				if name == "acceptWrite" {
					accepts++
				} else if name == "denyWrite" {
					denies++
				}
			}
			s.Close(nil)
		}
		assert.Zero(t, accepts)
		assert.Equal(t, 2, denies)
	})
}
