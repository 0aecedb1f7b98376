package inliner

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/lazy"
	"github.com/conneroisu/inlinesvg/internal/processor"
	"github.com/conneroisu/inlinesvg/internal/sprite"
)

// session remembers failed paths for one document so a path that could not
// be retrieved is attempted once, however many elements reference it.
type session struct {
	cache *fetch.Cache

	mu     sync.Mutex
	failed map[string]error
}

func newSession(cache *fetch.Cache) *session {
	return &session{cache: cache, failed: make(map[string]error)}
}

func (s *session) Fetch(ctx context.Context, path string) (fetch.SvgFile, error) {
	path = strings.TrimSpace(path)

	s.mu.Lock()
	err, ok := s.failed[path]
	s.mu.Unlock()
	if ok {
		return fetch.SvgFile{}, err
	}

	file, err := s.cache.Fetch(ctx, path)
	if err != nil {
		s.remember(path, err)
	}
	return file, err
}

func (s *session) prefetch(ctx context.Context, paths []string, limit int) {
	for path, err := range s.cache.Prefetch(ctx, paths, limit) {
		s.remember(path, err)
	}
}

// remember records a failed retrieval. An abandoned wait says nothing about
// the path, so it is not recorded.
func (s *session) remember(path string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.mu.Lock()
	s.failed[path] = err
	s.mu.Unlock()
}

// Document applies the pipeline to one parsed HTML tree.
type Document struct {
	plugin     *Plugin
	root       *html.Node
	symbols    *sprite.Registry
	files      *session
	processor  *processor.Processor
	controller *lazy.Controller
}

// NewDocument starts a page session over root.
func (p *Plugin) NewDocument(root *html.Node) *Document {
	d := &Document{
		plugin:  p,
		root:    root,
		symbols: sprite.NewRegistry(root, sprite.DefaultPrefix, p.metrics),
		files:   newSession(p.cache),
	}

	d.processor = processor.New(d.files, p.reconciler, processor.Options{
		XHTML:           p.cfg.XHTML,
		StripAttributes: p.cfg.Directives.Names(),
		Logger:          p.logger,
		Metrics:         p.metrics,
	})

	d.controller = lazy.NewController(d.process, lazy.Options{
		ObserverEnabled: p.capabilities.Observer,
		ObserverOptions: lazy.ObserverOptions{
			RootMargin: p.cfg.Observer.RootMargin,
			Threshold:  p.cfg.Observer.Threshold,
		},
		SpriteDirective: p.cfg.Directives.Sprite,
		Logger:          p.logger,
		Metrics:         p.metrics,
	})

	return d
}

func (d *Document) process(ctx context.Context, node *html.Node, isSprite bool) error {
	var symbols *sprite.Registry
	if isSprite {
		symbols = d.symbols
	}
	return d.processor.Process(ctx, node, symbols)
}

// Binding lists the directive attributes present on node.
func (d *Document) Binding(node *html.Node) lazy.Binding {
	var b lazy.Binding
	for _, name := range d.plugin.cfg.Directives.Names() {
		for _, a := range node.Attr {
			if a.Namespace == "" && strings.EqualFold(a.Key, name) {
				b.Directives = append(b.Directives, name)
				break
			}
		}
	}
	return b
}

// Elements returns the elements carrying a directive, in document order.
func (d *Document) Elements() []*html.Node {
	return dom.Elements(d.root, func(n *html.Node) bool {
		return len(d.Binding(n).Directives) > 0
	})
}

// Activate hands node to the lazy controller.
func (d *Document) Activate(ctx context.Context, node *html.Node) error {
	return d.controller.Activate(ctx, node, d.Binding(node))
}

// Flush processes every element still waiting for visibility.
func (d *Document) Flush(ctx context.Context) int {
	return d.controller.Flush(ctx)
}

// Report delivers visibility entries to the document's observer.
func (d *Document) Report(ctx context.Context, entries []lazy.Entry) {
	if observer := d.controller.Observer(); observer != nil {
		observer.Report(ctx, entries)
	}
}

// State returns the activation state of node.
func (d *Document) State(node *html.Node) (lazy.State, error) {
	return d.controller.State(node)
}

func (d *Document) Root() *html.Node {
	return d.root
}

// Symbols returns the sprite registry of the session.
func (d *Document) Symbols() *sprite.Registry {
	return d.symbols
}
