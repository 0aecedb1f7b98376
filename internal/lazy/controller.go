// Package lazy decides per element whether processing waits for visibility
// or runs immediately, and guarantees each element is activated once.
//
// Element state lives in a side table keyed by weak node pointers, so the
// table never keeps a detached element alive.
package lazy

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"weak"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/metrics"
)

// State is the activation state of an element.
type State int

const (
	Unbound State = iota
	Pending
	Processed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processed:
		return "processed"
	default:
		return "unbound"
	}
}

// Flag is a per-element marker.
type Flag string

const (
	FlagProcessed Flag = "processed"
	FlagSprite    Flag = "sprite"
)

// Binding describes the directives found on an element.
type Binding struct {
	Directives []string
}

// ProcessFunc runs the element processor for node.
type ProcessFunc func(ctx context.Context, node *html.Node, sprite bool) error

// Options configures a Controller.
type Options struct {
	// ObserverEnabled is false when no visibility source is available; lazy
	// elements are then processed immediately.
	ObserverEnabled bool
	ObserverOptions ObserverOptions
	// SpriteDirective selects sprite mode when it is the element's binding.
	SpriteDirective string
	// NewObserver overrides the default QueueObserver.
	NewObserver func(Callback, ObserverOptions) Observer
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

type record struct {
	flags map[Flag]bool
	state State
	err   error
}

// Controller drives elements from Unbound to Processed.
type Controller struct {
	process ProcessFunc
	opts    Options
	logger  logging.Logger

	mu       sync.Mutex
	records  map[weak.Pointer[html.Node]]*record
	observer Observer
}

// NewController returns a Controller that hands activated elements to
// process.
func NewController(process ProcessFunc, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.NewObserver == nil {
		opts.NewObserver = func(cb Callback, o ObserverOptions) Observer {
			return NewQueueObserver(cb, o)
		}
	}
	return &Controller{
		process: process,
		opts:    opts,
		logger:  logger.WithComponent("lazy"),
		records: make(map[weak.Pointer[html.Node]]*record),
	}
}

// recordFor returns the record of node, creating it on first use. The caller
// holds c.mu.
func (c *Controller) recordFor(node *html.Node) *record {
	key := weak.Make(node)
	if rec, ok := c.records[key]; ok {
		return rec
	}
	rec := &record{flags: make(map[Flag]bool)}
	c.records[key] = rec
	runtime.AddCleanup(node, c.forget, key)
	return rec
}

func (c *Controller) forget(key weak.Pointer[html.Node]) {
	c.mu.Lock()
	delete(c.records, key)
	c.mu.Unlock()
}

// Activate binds node. Lazy elements are queued on the shared observer;
// others are processed before Activate returns. A repeat activation is a
// no-op.
func (c *Controller) Activate(ctx context.Context, node *html.Node, binding Binding) error {
	if node == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "missing required argument [node]", nil)
	}

	c.mu.Lock()
	rec := c.recordFor(node)
	if rec.flags[FlagProcessed] {
		c.mu.Unlock()
		return nil
	}
	rec.flags[FlagProcessed] = true

	if len(binding.Directives) > 1 {
		c.mu.Unlock()
		return errors.MultipleDirectives(binding.Directives)
	}

	sprite := len(binding.Directives) == 1 &&
		c.opts.SpriteDirective != "" &&
		strings.EqualFold(binding.Directives[0], c.opts.SpriteDirective)
	rec.flags[FlagSprite] = sprite

	lazySource, lazy := dom.Attr(node, "data-src")
	if lazy && !c.opts.ObserverEnabled {
		dom.SetAttr(node, "src", lazySource)
		dom.RemoveAttr(node, "data-src")
		lazy = false
	}

	if lazy {
		observer, err := c.observerLocked()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		rec.state = Pending
		c.mu.Unlock()

		observer.Observe(node)
		c.opts.Metrics.ElementPending()
		c.logger.Debug(ctx, "Element awaiting visibility", "path", strings.TrimSpace(lazySource))
		return nil
	}

	rec.state = Processed
	c.mu.Unlock()

	return c.run(ctx, node, rec, sprite)
}

func (c *Controller) run(ctx context.Context, node *html.Node, rec *record, sprite bool) error {
	err := c.process(ctx, node, sprite)
	c.mu.Lock()
	rec.err = err
	c.mu.Unlock()
	return err
}

// observerLocked returns the shared observer, creating it on first use.
func (c *Controller) observerLocked() (Observer, error) {
	if c.observer != nil {
		return c.observer, nil
	}
	return c.createObserverLocked()
}

func (c *Controller) createObserverLocked() (Observer, error) {
	if c.observer != nil {
		return nil, errors.ObserverAlreadyExists()
	}
	c.observer = c.opts.NewObserver(c.onIntersection, c.opts.ObserverOptions)
	return c.observer, nil
}

// CreateObserver creates the shared observer. It fails when one exists.
func (c *Controller) CreateObserver() (Observer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createObserverLocked()
}

// Observer returns the shared observer, or nil before the first lazy
// activation.
func (c *Controller) Observer() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

func (c *Controller) onIntersection(ctx context.Context, entries []Entry) {
	for _, entry := range entries {
		if !entry.IsIntersecting || entry.Target == nil {
			continue
		}

		c.mu.Lock()
		rec, ok := c.records[weak.Make(entry.Target)]
		if !ok || rec.state != Pending {
			c.mu.Unlock()
			continue
		}
		rec.state = Processed
		sprite := rec.flags[FlagSprite]
		observer := c.observer
		c.mu.Unlock()

		if observer != nil {
			observer.Unobserve(entry.Target)
		}
		_ = c.run(ctx, entry.Target, rec, sprite)
	}
}

// Flush treats every pending element as visible and processes it in
// observation order. It returns the number of elements reported.
func (c *Controller) Flush(ctx context.Context) int {
	observer := c.Observer()
	if observer == nil {
		return 0
	}
	return Flush(ctx, observer)
}

// State returns the activation state of node and the error of its last
// processing attempt.
func (c *Controller) State(node *html.Node) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[weak.Make(node)]
	if !ok {
		return Unbound, nil
	}
	return rec.state, rec.err
}

// HasFlag reports whether flag is set on node.
func (c *Controller) HasFlag(node *html.Node, flag Flag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[weak.Make(node)]
	return ok && rec.flags[flag]
}

// Len returns the number of tracked elements.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
