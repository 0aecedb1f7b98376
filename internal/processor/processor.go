// Package processor replaces a source element with inlined SVG markup:
// fetch, reconcile, optional symbol substitution, node construction and
// swap. Failures leave the element untouched.
package processor

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/attrs"
	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/metrics"
	"github.com/conneroisu/inlinesvg/internal/reconcile"
	"github.com/conneroisu/inlinesvg/internal/sprite"
)

const (
	// AttrLazySource holds the locator of an element awaiting visibility.
	AttrLazySource = "data-src"
	// AttrSource holds the locator of an element processed immediately.
	AttrSource = "src"
)

// Files resolves a path to its SVG document. *fetch.Cache satisfies it.
type Files interface {
	Fetch(ctx context.Context, path string) (fetch.SvgFile, error)
}

// Options configures a Processor.
type Options struct {
	XHTML bool
	// StripAttributes are dropped from the element before reconciliation,
	// typically the directive attributes that triggered processing.
	StripAttributes []string
	Logger          logging.Logger
	Metrics         *metrics.Metrics
}

// Processor turns elements into inline SVG.
type Processor struct {
	files      Files
	reconciler *reconcile.Reconciler
	opts       Options
	strip      map[string]bool
	logger     logging.Logger
	handler    *errors.ErrorHandler
}

// New returns a Processor.
func New(files Files, reconciler *reconcile.Reconciler, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("processor")

	strip := make(map[string]bool, len(opts.StripAttributes))
	for _, name := range opts.StripAttributes {
		strip[strings.ToLower(name)] = true
	}

	return &Processor{
		files:      files,
		reconciler: reconciler,
		opts:       opts,
		strip:      strip,
		logger:     logger,
		handler:    errors.NewErrorHandler(logger),
	}
}

// Source returns the trimmed locator of node, preferring data-src over src.
func Source(node *html.Node) (string, bool) {
	if v, ok := dom.Attr(node, AttrLazySource); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := dom.Attr(node, AttrSource); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

// Process replaces node with the inlined SVG it references. A non-nil
// symbols registry selects sprite mode. Any failure is logged and returned;
// node is then left in place.
func (p *Processor) Process(ctx context.Context, node *html.Node, symbols *sprite.Registry) error {
	path, err := p.process(ctx, node, symbols)
	if err != nil {
		p.handler.Handle(ctx, err, "path", path)
		p.opts.Metrics.ElementFailed()
		return err
	}

	p.opts.Metrics.ElementProcessed()
	p.logger.Debug(ctx, "Inlined svg", "path", path, "sprite", symbols != nil)
	return nil
}

func (p *Processor) process(ctx context.Context, node *html.Node, symbols *sprite.Registry) (string, error) {
	if node == nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "missing required argument [node]", nil)
	}

	for _, key := range []string{AttrLazySource, AttrSource} {
		if v, ok := dom.Attr(node, key); ok {
			dom.SetAttr(node, key, strings.TrimSpace(v))
		}
	}

	path, ok := Source(node)
	if !ok {
		return "", errors.MissingSource()
	}
	if node.Parent == nil {
		return path, errors.MissingParent()
	}

	file, err := p.files.Fetch(ctx, path)
	if err != nil {
		return path, err
	}

	source, err := attrs.FromHTML(p.sourceAttributes(node), p.opts.XHTML)
	if err != nil {
		return path, err
	}

	markup, err := p.reconciler.Markup(file, source, symbols)
	if err != nil {
		return path, err
	}

	replacement, err := dom.CreateNode(markup, node.Parent)
	if err != nil {
		return path, err
	}

	return path, dom.ReplaceNode(node, replacement)
}

func (p *Processor) sourceAttributes(node *html.Node) []html.Attribute {
	if len(p.strip) == 0 {
		return node.Attr
	}
	out := make([]html.Attribute, 0, len(node.Attr))
	for _, a := range node.Attr {
		if a.Namespace == "" && p.strip[strings.ToLower(a.Key)] {
			continue
		}
		out = append(out, a)
	}
	return out
}
