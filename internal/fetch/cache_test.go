package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/storage"
)

const iconSVG = `<svg viewBox="0 0 10 10"><path d="M0 0h10v10z"/></svg>`

// countingFetcher serves a fixed body and counts retrievals per path.
type countingFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	status int
	body   string
	delay  time.Duration
}

func newCountingFetcher(status int, body string) *countingFetcher {
	return &countingFetcher{calls: make(map[string]int), status: status, body: body}
}

func (f *countingFetcher) Get(_ context.Context, path string) (int, string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls[path]++
	f.mu.Unlock()
	return f.status, f.body, nil
}

func (f *countingFetcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func TestIsSVGPath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"icon.svg", true},
		{"/assets/ICON.SVG", true},
		{"icon.svg?v=2", true},
		{"icon.svg#frag", true},
		{"https://cdn.example.com/a/b.svg", true},
		{"icon.png", false},
		{".svg", false},
		{"icon.svgz", false},
		{"icon.svg.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsSVGPath(tt.path))
		})
	}
}

func TestFetchCachesPerPath(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, "  "+iconSVG+"\n")
	c := NewCache(f, Options{})
	ctx := context.Background()

	first, err := c.Fetch(ctx, " icon.svg ")
	require.NoError(t, err)
	assert.Equal(t, "icon.svg", first.Path)
	assert.Equal(t, iconSVG, first.Content)

	second, err := c.Fetch(ctx, "icon.svg")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, f.count("icon.svg"))
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Fetches)
	assert.Equal(t, 1, stats.Entries)
}

func TestResetRefetches(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, iconSVG)
	c := NewCache(f, Options{})
	ctx := context.Background()

	_, err := c.Fetch(ctx, "icon.svg")
	require.NoError(t, err)
	c.Reset()
	assert.Empty(t, c.Entries())

	_, err = c.Fetch(ctx, "icon.svg")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("icon.svg"))
}

func TestFetchInvalidPathIssuesNoRequest(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, iconSVG)
	c := NewCache(f, Options{})

	for _, p := range []string{"icon.png", "", "   "} {
		_, err := c.Fetch(context.Background(), p)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidPath)
	}
	assert.Empty(t, f.calls)
}

func TestFetchStatuses(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNotModified, false},
		{http.StatusNotFound, true},
		{http.StatusInternalServerError, true},
		{http.StatusNoContent, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := NewCache(newCountingFetcher(tt.status, iconSVG), Options{})
			_, err := c.Fetch(context.Background(), "a.svg")
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrUnexpectedStatus)
				assert.Equal(t, 0, c.Stats().Entries)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchNetworkFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(FetcherFunc(func(context.Context, string) (int, string, error) {
		calls.Add(1)
		return 0, "", fmt.Errorf("connection refused")
	}), Options{})

	_, err := c.Fetch(context.Background(), "a.svg")
	assert.ErrorIs(t, err, errors.ErrNetwork)
	_, err = c.Fetch(context.Background(), "a.svg")
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchCoalescesConcurrentMisses(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, iconSVG)
	f.delay = 50 * time.Millisecond
	c := NewCache(f, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), "shared.svg")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.count("shared.svg"))
}

// gatedFetcher holds every retrieval until release is closed.
type gatedFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
}

func (f *gatedFetcher) Get(ctx context.Context, _ string) (int, string, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	select {
	case <-ctx.Done():
		return 0, "", ctx.Err()
	case <-f.release:
		return http.StatusOK, iconSVG, nil
	}
}

func TestFetchCancelledCallerLeavesSharedRetrieval(t *testing.T) {
	f := newGatedFetcher()
	c := NewCache(f, Options{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(first, "shared.svg")
		firstErr <- err
	}()
	<-f.started

	type result struct {
		file SvgFile
		err  error
	}
	second := make(chan result, 1)
	go func() {
		file, err := c.Fetch(context.Background(), "shared.svg")
		second <- result{file, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(f.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, iconSVG, res.file.Content)
	case <-time.After(time.Second):
		t.Fatal("second caller never completed")
	}

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestFetchRejectsCancelledContextWithoutRetrieval(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, iconSVG)
	c := NewCache(f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "a.svg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count("a.svg"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	f := newCountingFetcher(http.StatusOK, iconSVG)

	c := NewCache(f, Options{Namespace: "inlinesvg", Version: "1", Persistent: true, Storage: store})
	_, err := c.Fetch(ctx, "a.svg")
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "b.svg")
	require.NoError(t, err)

	raw, ok, err := store.Get(ctx, "inlinesvg:1")
	require.NoError(t, err)
	require.True(t, ok)

	var pairs [][2]string
	require.NoError(t, json.Unmarshal([]byte(raw), &pairs))
	assert.Equal(t, [][2]string{{"a.svg", iconSVG}, {"b.svg", iconSVG}}, pairs)

	reloaded := NewCache(f, Options{Namespace: "inlinesvg", Version: "1", Persistent: true, Storage: store})
	n, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = reloaded.Fetch(ctx, "a.svg")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("a.svg"))
}

func TestNewVersionStartsEmptyAndPurgesOldGenerations(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, "inlinesvg:1", `[["a.svg","<svg>x</svg>"]]`))
	require.NoError(t, store.Set(ctx, "inlinesvg:0", `[]`))
	require.NoError(t, store.Set(ctx, "unrelated:1", `[]`))

	c := NewCache(newCountingFetcher(http.StatusOK, iconSVG), Options{
		Namespace: "inlinesvg", Version: "2", Persistent: true, Storage: store,
	})

	removed, err := c.PurgeRevisions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inlinesvg:0", "inlinesvg:1"}, removed)

	n, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, c.Stats().Entries)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"unrelated:1"}, keys)
}

func TestLoadRejectsMalformedGeneration(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, "ns:v", `{not json`))

	c := NewCache(newCountingFetcher(http.StatusOK, iconSVG), Options{
		Namespace: "ns", Version: "v", Persistent: true, Storage: store,
	})
	_, err := c.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrStorage)
}

func TestListGenerations(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, "ns:1", `[["a.svg","x"],["b.svg","y"]]`))
	require.NoError(t, store.Set(ctx, "ns:2", `broken`))

	gens, err := ListGenerations(ctx, store, "ns")
	require.NoError(t, err)
	assert.Equal(t, []Generation{
		{Key: "ns:1", Version: "1", Entries: 2},
		{Key: "ns:2", Version: "2", Entries: -1},
	}, gens)
}

func TestPrefetch(t *testing.T) {
	f := newCountingFetcher(http.StatusOK, iconSVG)
	c := NewCache(f, Options{})

	failed := c.Prefetch(context.Background(), []string{"a.svg", "b.svg", "a.svg", "bad.png"}, 2)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["bad.png"], errors.ErrInvalidPath)
	assert.Equal(t, 1, f.count("a.svg"))
	assert.Equal(t, 1, f.count("b.svg"))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/icons/a.svg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		fmt.Fprint(w, iconSVG)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.Client(), srv.URL+"/", nil)
	require.NoError(t, err)

	status, body, err := f.Get(context.Background(), "icons/a.svg?v=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, iconSVG, body)

	status, _, err = f.Get(context.Background(), "/missing.svg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	noBase, err := NewHTTPFetcher(nil, "", nil)
	require.NoError(t, err)
	_, _, err = noBase.Get(context.Background(), "relative.svg")
	assert.Error(t, err)
}

func TestFetchersRejectOversizedBodies(t *testing.T) {
	oversized := strings.Repeat("a", maxBodySize+1)
	exact := strings.Repeat("a", maxBodySize)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big.svg" {
			fmt.Fprint(w, oversized)
			return
		}
		fmt.Fprint(w, exact)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.Client(), srv.URL+"/", nil)
	require.NoError(t, err)

	_, body, err := f.Get(context.Background(), "big.svg")
	assert.ErrorContains(t, err, "exceeds")
	assert.Empty(t, body)

	_, body, err = f.Get(context.Background(), "exact.svg")
	require.NoError(t, err)
	assert.Len(t, body, maxBodySize)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/big.svg", []byte(oversized), 0o644))
	_, _, err = NewFileFetcher(fs, "/site").Get(context.Background(), "big.svg")
	assert.ErrorContains(t, err, "exceeds")

	// The cache surfaces the limit as a retrieval failure and stores nothing.
	c := NewCache(f, Options{})
	_, err = c.Fetch(context.Background(), "big.svg")
	assert.ErrorIs(t, err, errors.ErrNetwork)
	assert.Zero(t, c.Stats().Entries)
}

func TestFileFetcher(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/icons/a.svg", []byte(iconSVG), 0o644))
	f := NewFileFetcher(fs, "/site")
	ctx := context.Background()

	status, body, err := f.Get(ctx, "/icons/a.svg?v=3#x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, iconSVG, body)

	status, _, err = f.Get(ctx, "icons/missing.svg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	status, _, err = f.Get(ctx, "../etc/passwd.svg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}
