// Package inliner installs the SVG inlining pipeline and applies it to HTML
// documents.
//
// A Plugin is one installation: validated options, resolved capabilities,
// the fetch cache and durable storage. A Document is one page session with
// its own symbol registry, sprite container and visibility observer.
package inliner

import (
	"context"
	"net/http"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/metrics"
	"github.com/conneroisu/inlinesvg/internal/reconcile"
	"github.com/conneroisu/inlinesvg/internal/storage"
)

// Capabilities records which runtime features are available. It is resolved
// once by Install and never changes afterwards.
type Capabilities struct {
	Fetch    bool
	Observer bool
	Storage  bool
}

type installOptions struct {
	fetcher    fetch.Fetcher
	store      storage.Storage
	fs         afero.Fs
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option customizes Install.
type Option func(*installOptions)

// WithFetcher supplies the retrieval client, bypassing fetch.base_url and
// fetch.root.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *installOptions) { o.fetcher = f }
}

// WithHTTPClient sets the client used for fetch.base_url.
func WithHTTPClient(c *http.Client) Option {
	return func(o *installOptions) { o.httpClient = c }
}

// WithStorage supplies durable storage instead of opening cache.backend.
// The caller keeps ownership.
func WithStorage(s storage.Storage) Option {
	return func(o *installOptions) { o.store = s }
}

// WithFs sets the filesystem for fetch.root and the file backend.
func WithFs(fs afero.Fs) Option {
	return func(o *installOptions) { o.fs = fs }
}

// WithMetrics sets the collectors updated by the pipeline.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *installOptions) { o.metrics = m }
}

// Plugin is an installed pipeline.
type Plugin struct {
	cfg          *config.Config
	capabilities Capabilities
	logger       logging.Logger
	once         *logging.OnceLogger
	handler      *errors.ErrorHandler
	metrics      *metrics.Metrics

	cache      *fetch.Cache
	store      storage.Storage
	ownsStore  bool
	reconciler *reconcile.Reconciler
}

// Install validates cfg, resolves capabilities and prepares the cache.
// Configuration and missing-fetch errors abort installation; missing storage
// or observation only degrade it.
func Install(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Plugin, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("inliner")

	if cfg == nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "missing configuration")
	}
	normalized := *cfg
	normalized.Normalize()
	if err := config.Validate(&normalized).Err(); err != nil {
		return nil, err
	}
	cfg = &normalized

	o := &installOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	p := &Plugin{
		cfg:        cfg,
		logger:     logger,
		once:       logging.NewOnceLogger(logger),
		handler:    errors.NewErrorHandler(logger),
		metrics:    o.metrics,
		reconciler: reconcile.New(cfg.Policy()),
	}

	fetcher, err := p.resolveFetcher(o)
	if err != nil {
		return nil, err
	}
	p.capabilities.Fetch = true

	p.capabilities.Observer = cfg.Observer.Enabled
	if !p.capabilities.Observer {
		p.once.WarnOnce(ctx, "observer",
			errors.NewCapabilityError("observer", "visibility observation is disabled"),
			"Disabling lazy processing of elements")
	}

	if needsStorage(cfg.Cache, o) {
		p.openStorage(ctx, o)
	}

	p.cache = fetch.NewCache(fetcher, fetch.Options{
		Namespace:  cfg.Cache.Namespace,
		Version:    cfg.Cache.Version,
		Persistent: cfg.Cache.Persistent && p.capabilities.Storage,
		Storage:    p.store,
		Logger:     logger,
		Metrics:    p.metrics,
	})

	if p.capabilities.Storage {
		p.prepareGeneration(ctx)
	}

	logger.Info(ctx, "Installed svg inliner",
		"fetch", p.capabilities.Fetch,
		"observer", p.capabilities.Observer,
		"storage", p.capabilities.Storage,
		"generation", p.cache.Key())

	return p, nil
}

func (p *Plugin) resolveFetcher(o *installOptions) (fetch.Fetcher, error) {
	if o.fetcher != nil {
		return o.fetcher, nil
	}

	if p.cfg.Fetch.BaseURL != "" {
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: p.cfg.Fetch.Timeout}
		}
		var limiter *rate.Limiter
		if p.cfg.Fetch.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(p.cfg.Fetch.RateLimit), p.cfg.Fetch.Burst)
		}
		f, err := fetch.NewHTTPFetcher(client, p.cfg.Fetch.BaseURL, limiter)
		if err != nil {
			return nil, errors.WrapConfig(err, "invalid fetch.base_url")
		}
		return f, nil
	}

	if p.cfg.Fetch.Root != "" {
		return fetch.NewFileFetcher(o.fs, p.cfg.Fetch.Root), nil
	}

	return nil, errors.NewCapabilityError("fetch", "no svg retrieval client is available")
}

// needsStorage reports whether install has a reason to open storage. Purging
// alone never creates a store: a file backed store is only opened when it
// already exists, and a fresh memory store has nothing to purge.
func needsStorage(cfg config.CacheConfig, o *installOptions) bool {
	switch {
	case cfg.Persistent:
		return true
	case !cfg.RemoveRevisions:
		return false
	case o.store != nil:
		return true
	}

	switch strings.ToLower(cfg.Backend) {
	case storage.BackendFile:
		ok, _ := afero.Exists(o.fs, cfg.Path)
		return ok
	case storage.BackendSQLite:
		ok, _ := afero.Exists(afero.NewOsFs(), cfg.Path)
		return ok
	case storage.BackendRedis:
		return true
	default:
		return false
	}
}

func (p *Plugin) openStorage(ctx context.Context, o *installOptions) {
	if o.store != nil {
		p.store = o.store
		p.capabilities.Storage = true
		return
	}

	store, err := storage.Open(ctx, storage.Options{
		Backend:   p.cfg.Cache.Backend,
		Path:      p.cfg.Cache.Path,
		RedisAddr: p.cfg.Cache.RedisAddr,
		RedisDB:   p.cfg.Cache.RedisDB,
		Fs:        o.fs,
	})
	if err != nil {
		p.once.WarnOnce(ctx, "storage",
			errors.NewCapabilityError("storage", err.Error()),
			"Durable storage unavailable, cache persistence disabled",
			"backend", p.cfg.Cache.Backend)
		return
	}
	p.store = store
	p.ownsStore = true
	p.capabilities.Storage = true
}

// prepareGeneration purges other generations and seeds the cache from the
// current one.
func (p *Plugin) prepareGeneration(ctx context.Context) {
	if p.cfg.Cache.RemoveRevisions {
		removed, err := p.cache.PurgeRevisions(ctx)
		if err != nil {
			p.handler.Handle(ctx, err, "operation", "purge_revisions")
		} else if len(removed) > 0 {
			p.logger.Info(ctx, "Removed cache generations", "keys", removed)
		}
	}

	if p.cfg.Cache.Persistent {
		n, err := p.cache.Load(ctx)
		if err != nil {
			p.handler.Handle(ctx, err, "operation", "load_generation")
			return
		}
		p.logger.Debug(ctx, "Seeded cache", "entries", n, "generation", p.cache.Key())
	}
}

// Close releases storage opened by Install.
func (p *Plugin) Close() error {
	if p.ownsStore && p.store != nil {
		return p.store.Close()
	}
	return nil
}

func (p *Plugin) Config() *config.Config {
	return p.cfg
}

func (p *Plugin) Capabilities() Capabilities {
	return p.capabilities
}

func (p *Plugin) Cache() *fetch.Cache {
	return p.cache
}

// Storage returns the durable storage in use, or nil.
func (p *Plugin) Storage() storage.Storage {
	return p.store
}

func (p *Plugin) Metrics() *metrics.Metrics {
	return p.metrics
}
