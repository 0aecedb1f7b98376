// Package fetch retrieves SVG file contents by path and memoizes them for the
// lifetime of an installation, optionally persisting the whole cache
// generation to durable storage.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/metrics"
	"github.com/conneroisu/inlinesvg/internal/storage"
)

var svgFilename = regexp.MustCompile(`(?i)^.+\.svg(?:[?#].*)?$`)

// IsSVGPath reports whether path names an SVG file, optionally followed by a
// query string or fragment.
func IsSVGPath(path string) bool {
	return svgFilename.MatchString(path)
}

// SvgFile is a fetched SVG document.
type SvgFile struct {
	Path    string
	Content string
}

// Options configures a Cache.
type Options struct {
	// Namespace and Version form the storage key "<namespace>:<version>".
	Namespace  string
	Version    string
	Persistent bool
	Storage    storage.Storage
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Fetches int64
	Entries int
}

// Cache maps paths to SVG contents. Entries are never evicted; switching the
// configured version discards a generation as a whole.
type Cache struct {
	fetcher Fetcher
	opts    Options
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]string
	order   []string

	// persistMu serializes snapshot+write pairs so a stale snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
	group     singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// NewCache returns an empty cache backed by fetcher.
func NewCache(fetcher Fetcher, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.WithComponent("fetch_cache"),
		entries: make(map[string]string),
	}
}

// Key returns the storage key of the current generation.
func (c *Cache) Key() string {
	return GenerationKey(c.opts.Namespace, c.opts.Version)
}

// GenerationKey builds the storage key for a namespace and version.
func GenerationKey(namespace, version string) string {
	return namespace + ":" + version
}

func (c *Cache) persistent() bool {
	return c.opts.Persistent && c.opts.Storage != nil
}

// Fetch returns the SVG file at path, from memory when possible. A miss
// issues exactly one retrieval; concurrent misses for the same path share it.
// A caller whose context ends stops waiting without cancelling the shared
// retrieval for the others.
func (c *Cache) Fetch(ctx context.Context, path string) (SvgFile, error) {
	path = strings.TrimSpace(path)
	if path == "" || !IsSVGPath(path) {
		return SvgFile{}, errors.InvalidPath(path)
	}

	if content, ok := c.lookup(path); ok {
		c.hits.Add(1)
		c.opts.Metrics.CacheHit()
		return SvgFile{Path: path, Content: content}, nil
	}
	c.misses.Add(1)
	c.opts.Metrics.CacheMiss()

	if err := ctx.Err(); err != nil {
		return SvgFile{}, errors.WrapNetwork(err, path)
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(path, func() (interface{}, error) {
		if content, ok := c.lookup(path); ok {
			return content, nil
		}
		return c.retrieve(shared, path)
	})

	select {
	case <-ctx.Done():
		return SvgFile{}, errors.WrapNetwork(ctx.Err(), path)
	case res := <-ch:
		if res.Err != nil {
			return SvgFile{}, res.Err
		}
		return SvgFile{Path: path, Content: res.Val.(string)}, nil
	}
}

func (c *Cache) retrieve(ctx context.Context, path string) (string, error) {
	start := time.Now()
	c.fetches.Add(1)

	status, body, err := c.fetcher.Get(ctx, path)
	if err == nil && status != 200 && status != 304 {
		err = errors.UnexpectedStatus(path, status)
	} else if err != nil {
		err = errors.WrapNetwork(err, path)
	}
	c.opts.Metrics.FetchCompleted(time.Since(start), err)
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(body)
	c.store(path, content)
	c.logger.Debug(ctx, "Fetched svg file", "path", path, "status", status, "bytes", len(content))

	if c.persistent() {
		if err := c.Persist(ctx); err != nil {
			return "", err
		}
	}
	return content, nil
}

func (c *Cache) lookup(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[path]
	return content, ok
}

func (c *Cache) store(path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		c.order = append(c.order, path)
	}
	c.entries[path] = content
}

// Reset drops the in-memory entries. Stored generations are left alone; the
// development server calls it after SVG files change on disk.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
	c.order = nil
}

// Entries returns the cached files in insertion order.
func (c *Cache) Entries() []SvgFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	files := make([]SvgFile, 0, len(c.order))
	for _, p := range c.order {
		files = append(files, SvgFile{Path: p, Content: c.entries[p]})
	}
	return files
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Entries: n,
	}
}

// Persist writes the whole mapping to storage as a JSON array of
// [path, content] pairs.
func (c *Cache) Persist(ctx context.Context) error {
	if c.opts.Storage == nil {
		return nil
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	files := c.Entries()
	pairs := make([][2]string, 0, len(files))
	for _, f := range files {
		pairs = append(pairs, [2]string{f.Path, f.Content})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return errors.WrapStorage(err, "failed to encode cache generation")
	}
	if err := c.opts.Storage.Set(ctx, c.Key(), string(data)); err != nil {
		return errors.WrapStorage(err, "failed to write cache generation").WithContext("key", c.Key())
	}
	return nil
}

// Load seeds the cache from the current generation in storage, if present.
// It returns the number of entries loaded.
func (c *Cache) Load(ctx context.Context) (int, error) {
	if !c.persistent() {
		return 0, nil
	}

	raw, ok, err := c.opts.Storage.Get(ctx, c.Key())
	if err != nil {
		return 0, errors.WrapStorage(err, "failed to read cache generation").WithContext("key", c.Key())
	}
	if !ok {
		return 0, nil
	}

	pairs, err := decodeGeneration(raw)
	if err != nil {
		return 0, errors.WrapStorage(err, "failed to decode cache generation").WithContext("key", c.Key())
	}
	for _, p := range pairs {
		c.store(p[0], p[1])
	}
	return len(pairs), nil
}

// PurgeRevisions deletes every generation of the namespace except the
// current one and returns the deleted keys.
func (c *Cache) PurgeRevisions(ctx context.Context) ([]string, error) {
	if c.opts.Storage == nil {
		return nil, nil
	}
	return PurgeGenerations(ctx, c.opts.Storage, c.opts.Namespace, c.Key())
}

// PurgeGenerations deletes the namespace's generations other than keep. An
// empty keep deletes all of them.
func PurgeGenerations(ctx context.Context, store storage.Storage, namespace, keep string) ([]string, error) {
	keys, err := store.Keys(ctx, namespace+":")
	if err != nil {
		return nil, errors.WrapStorage(err, "failed to list cache generations")
	}

	var removed []string
	for _, key := range keys {
		if key == keep {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			return removed, errors.WrapStorage(err, "failed to delete cache generation").WithContext("key", key)
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// Generation describes one stored cache generation.
type Generation struct {
	Key     string
	Version string
	Entries int
}

// ListGenerations reports the stored generations of a namespace.
func ListGenerations(ctx context.Context, store storage.Storage, namespace string) ([]Generation, error) {
	prefix := namespace + ":"
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return nil, errors.WrapStorage(err, "failed to list cache generations")
	}

	out := make([]Generation, 0, len(keys))
	for _, key := range keys {
		g := Generation{Key: key, Version: strings.TrimPrefix(key, prefix), Entries: -1}
		if raw, ok, err := store.Get(ctx, key); err == nil && ok {
			if pairs, err := decodeGeneration(raw); err == nil {
				g.Entries = len(pairs)
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func decodeGeneration(raw string) ([][2]string, error) {
	var pairs [][2]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, err
	}
	for i, p := range pairs {
		if p[0] == "" {
			return nil, fmt.Errorf("entry %d has an empty path", i)
		}
	}
	return pairs, nil
}

// Prefetch warms the cache for paths with at most limit retrievals in
// flight. Failures are returned per path and never abort the other fetches.
func (c *Cache) Prefetch(ctx context.Context, paths []string, limit int) map[string]error {
	if limit <= 0 {
		limit = 1
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		seen   = make(map[string]struct{}, len(paths))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		g.Go(func() error {
			if _, err := c.Fetch(gctx, p); err != nil {
				mu.Lock()
				failed[p] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed
}
