// Package sprite tracks which SVG paths have been materialized as reusable
// <symbol> definitions inside a hidden container element, and hands out the
// stable identifiers used to reference them.
package sprite

import (
	"fmt"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/metrics"
)

// DefaultPrefix prefixes generated symbol identifiers.
const DefaultPrefix = "inlinesvg-sprite"

const svgNamespaceURI = "http://www.w3.org/2000/svg"

// Factory materializes the <symbol> definition for a newly registered path.
type Factory func(id string) (*html.Node, error)

// Registry is an insertion-ordered set of paths promoted to symbols. The
// index of a path is its identifier suffix, so identifiers are stable for a
// stable registration order.
type Registry struct {
	mu        sync.Mutex
	prefix    string
	doc       *html.Node
	container *html.Node
	index     map[string]int
	paths     []string
	metrics   *metrics.Metrics
}

// NewRegistry returns a registry whose container will be appended to the
// <body> of doc (or doc itself when it has no body).
func NewRegistry(doc *html.Node, prefix string, m *metrics.Metrics) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Registry{
		prefix:  prefix,
		doc:     doc,
		index:   make(map[string]int),
		metrics: m,
	}
}

// ID returns the identifier for insertion index i.
func (r *Registry) ID(i int) string {
	return fmt.Sprintf("%s-%d", r.prefix, i)
}

// ContainerID returns the id attribute of the container element.
func (r *Registry) ContainerID() string {
	return r.prefix + "-container"
}

// SymbolID returns the identifier registered for path. On first use the
// factory builds the symbol, which is appended to the container.
func (r *Registry) SymbolID(path string, factory Factory) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[path]; ok {
		return r.ID(i), nil
	}

	id := r.ID(len(r.paths))
	symbol, err := factory(id)
	if err != nil {
		return "", err
	}

	container := r.container
	if container == nil {
		if container, err = r.createContainer(); err != nil {
			return "", err
		}
	}
	if symbol.Parent != nil {
		symbol.Parent.RemoveChild(symbol)
	}
	container.AppendChild(symbol)

	r.index[path] = len(r.paths)
	r.paths = append(r.paths, path)
	r.metrics.SymbolCreated()
	return id, nil
}

// Lookup returns the identifier for path if it is registered.
func (r *Registry) Lookup(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[path]
	if !ok {
		return "", false
	}
	return r.ID(i), true
}

// Paths returns the registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

// Container returns the container element, or nil before the first symbol.
func (r *Registry) Container() *html.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.container
}

// CreateContainer creates and attaches the container. It fails if the
// container already exists.
func (r *Registry) CreateContainer() (*html.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createContainer()
}

func (r *Registry) createContainer() (*html.Node, error) {
	if r.container != nil {
		return nil, errors.ContainerAlreadyExists()
	}

	container := &html.Node{
		Type:      html.ElementNode,
		Data:      "svg",
		DataAtom:  atom.Svg,
		Namespace: "svg",
		Attr: []html.Attribute{
			{Key: "xmlns", Val: svgNamespaceURI},
			{Key: "id", Val: r.ContainerID()},
			{Key: "style", Val: "display: none !important;"},
		},
	}

	parent := r.doc
	if body := dom.FindBody(r.doc); body != nil {
		parent = body
	}
	if parent == nil {
		return nil, errors.MissingParent()
	}
	parent.AppendChild(container)

	r.container = container
	return container, nil
}
