package inliner

import (
	"context"
	"io"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/lazy"
	"github.com/conneroisu/inlinesvg/internal/processor"
)

// Failure is an element that could not be inlined.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes one render.
type Report struct {
	Processed []string
	Pending   []string
	Failed    []Failure
}

// Elements returns the number of elements that carried a directive.
func (r *Report) Elements() int {
	return len(r.Processed) + len(r.Pending) + len(r.Failed)
}

// Render parses an HTML document from r, inlines it and writes the result
// to w. Per-element failures are reported, not returned.
func (p *Plugin) Render(ctx context.Context, r io.Reader, w io.Writer) (*Report, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.ErrCodeMalformedMarkup, "failed to parse document")
	}

	report, err := p.NewDocument(doc).Inline(ctx)
	if err != nil {
		return nil, err
	}

	if err := html.Render(w, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeInternalError, "failed to render document")
	}
	return report, nil
}

// Inline activates every directive element in document order. Sources are
// fetched concurrently first; the tree itself is only mutated sequentially.
func (d *Document) Inline(ctx context.Context) (*Report, error) {
	elements := d.Elements()
	cfg := d.plugin.cfg
	flushVisible := cfg.Observer.Flush == config.FlushVisible
	lazyEnabled := d.plugin.capabilities.Observer

	paths := make([]string, len(elements))
	var prefetch []string
	for i, node := range elements {
		paths[i], _ = processor.Source(node)
		_, isLazy := dom.Attr(node, processor.AttrLazySource)
		if paths[i] != "" && (!isLazy || !lazyEnabled || flushVisible) {
			prefetch = append(prefetch, paths[i])
		}
	}
	if len(prefetch) > 0 {
		d.files.prefetch(ctx, prefetch, cfg.Fetch.Concurrency)
	}

	activation := make([]error, len(elements))
	for i, node := range elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		activation[i] = d.Activate(ctx, node)
		if errors.TypeOf(activation[i]) == errors.ErrorTypeState {
			d.plugin.handler.Handle(ctx, activation[i], "path", paths[i])
		}
	}

	if flushVisible {
		d.Flush(ctx)
	}

	report := &Report{}
	for i, node := range elements {
		state, err := d.State(node)
		if err == nil {
			err = activation[i]
		}
		switch {
		case err != nil:
			report.Failed = append(report.Failed, Failure{Path: paths[i], Err: err})
		case state == lazy.Pending:
			report.Pending = append(report.Pending, paths[i])
		default:
			report.Processed = append(report.Processed, paths[i])
		}
	}

	return report, nil
}
