package lazy

import (
	"context"
	"sync"

	"golang.org/x/net/html"
)

// Entry reports a visibility change for an observed element.
type Entry struct {
	Target         *html.Node
	IsIntersecting bool
}

// Callback receives visibility entries.
type Callback func(ctx context.Context, entries []Entry)

// ObserverOptions are passed through to the visibility source unchanged.
type ObserverOptions struct {
	RootMargin string    `yaml:"root_margin" mapstructure:"root_margin"`
	Threshold  []float64 `yaml:"threshold" mapstructure:"threshold"`
}

// Observer watches elements for visibility.
type Observer interface {
	Observe(node *html.Node)
	Unobserve(node *html.Node)
	// Report delivers entries for observed targets to the callback.
	Report(ctx context.Context, entries []Entry)
	// Pending lists observed targets in observation order.
	Pending() []*html.Node
}

// QueueObserver is an Observer fed by explicit Report calls. Server side
// there is no viewport; the caller decides when elements become visible.
type QueueObserver struct {
	opts     ObserverOptions
	callback Callback

	mu      sync.Mutex
	order   []*html.Node
	watched map[*html.Node]struct{}
}

// NewQueueObserver returns an observer that forwards reports to callback.
func NewQueueObserver(callback Callback, opts ObserverOptions) *QueueObserver {
	return &QueueObserver{
		opts:     opts,
		callback: callback,
		watched:  make(map[*html.Node]struct{}),
	}
}

// Options returns the observer configuration.
func (o *QueueObserver) Options() ObserverOptions {
	return o.opts
}

func (o *QueueObserver) Observe(node *html.Node) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.watched[node]; ok {
		return
	}
	o.watched[node] = struct{}{}
	o.order = append(o.order, node)
}

func (o *QueueObserver) Unobserve(node *html.Node) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.watched[node]; !ok {
		return
	}
	delete(o.watched, node)
	for i, n := range o.order {
		if n == node {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Report drops entries for targets that are not observed and hands the rest
// to the callback outside the lock.
func (o *QueueObserver) Report(ctx context.Context, entries []Entry) {
	o.mu.Lock()
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := o.watched[e.Target]; ok {
			filtered = append(filtered, e)
		}
	}
	o.mu.Unlock()

	if len(filtered) == 0 || o.callback == nil {
		return
	}
	o.callback(ctx, filtered)
}

func (o *QueueObserver) Pending() []*html.Node {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*html.Node(nil), o.order...)
}

// Flush reports every pending target of o as intersecting.
func Flush(ctx context.Context, o Observer) int {
	pending := o.Pending()
	if len(pending) == 0 {
		return 0
	}
	entries := make([]Entry, len(pending))
	for i, n := range pending {
		entries[i] = Entry{Target: n, IsIntersecting: true}
	}
	o.Report(ctx, entries)
	return len(entries)
}
