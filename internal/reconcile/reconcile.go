// Package reconcile merges the attributes of a source element into the root
// of a fetched SVG document according to the configured merge, add, data
// and remove rules, and produces the replacement markup.
package reconcile

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/attrs"
	"github.com/conneroisu/inlinesvg/internal/dom"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/sprite"
)

var svgContent = regexp.MustCompile(`(?i)<svg(\s+[^>]+)?>([\s\S]+)</svg>`)

// uniqueValues lists attributes whose merged tokens are de-duplicated.
var uniqueValues = map[string]bool{"class": true}

// Attribute is a name with a default value, used by the add rule.
type Attribute struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Value string `yaml:"value" mapstructure:"value"`
}

// Policy holds the attribute rules. Names are expected to be normalized
// (trimmed, lower-cased, unique).
type Policy struct {
	Clone  []string
	Merge  []string
	Add    []Attribute
	Data   []string
	Remove []string
	XHTML  bool
}

// Reconciler applies a Policy.
type Reconciler struct {
	policy Policy
	merge  map[string]bool
}

// New returns a Reconciler for policy.
func New(policy Policy) *Reconciler {
	merge := make(map[string]bool, len(policy.Merge))
	for _, name := range policy.Merge {
		merge[name] = true
	}
	return &Reconciler{policy: policy, merge: merge}
}

// Policy returns the rules in use.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Reconcile computes the final attribute set from the element attributes
// (source) and the SVG root attributes (file). Neither input is modified.
func (r *Reconciler) Reconcile(source, file *attrs.Map) (*attrs.Map, error) {
	xhtml := r.policy.XHTML

	result := file.Clone()
	result.Merge(source)

	for _, name := range r.policy.Merge {
		fileValues := tokensOf(file, name)
		sourceValues := tokensOf(source, name)
		if xhtml && len(fileValues) == 0 && len(sourceValues) == 0 {
			continue
		}
		result.Set(name, join(name, append(fileValues, sourceValues...)))
	}

	for _, add := range r.policy.Add {
		values := attrs.Tokens(add.Value)
		if result.Has(add.Name) {
			if !r.merge[add.Name] {
				return nil, errors.AttributeAlreadyExists(add.Name)
			}
			existing := tokensOf(result, add.Name)
			if xhtml && len(values) == 0 && len(existing) == 0 {
				continue
			}
			values = append(existing, values...)
		}
		result.Set(add.Name, join(add.Name, values))
	}

	remove := make([]string, 0, len(r.policy.Remove)+len(r.policy.Data))
	remove = append(remove, r.policy.Remove...)

	for _, name := range r.policy.Data {
		if !result.Has(name) {
			continue
		}
		values := tokensOf(result, name)
		dataName := "data-" + name
		if result.Has(dataName) {
			if !r.merge[dataName] {
				return nil, errors.AttributeAlreadyExists(dataName)
			}
			existing := tokensOf(result, dataName)
			if xhtml && len(values) == 0 && len(existing) == 0 {
				continue
			}
			values = append(existing, values...)
		}
		result.Set(dataName, join(name, values))
		remove = append(remove, name)
	}

	for _, name := range remove {
		result.Delete(name)
	}

	return result, nil
}

func tokensOf(m *attrs.Map, name string) []string {
	v, ok := m.Get(name)
	if !ok {
		return nil
	}
	return attrs.Tokens(v)
}

func join(name string, values []string) string {
	if uniqueValues[name] {
		values = dedupe(values)
	}
	return strings.TrimSpace(strings.Join(values, " "))
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Split extracts the root attribute section and the body of an SVG
// document. Anything outside the outermost svg element is dropped.
func Split(content string) (rootAttributes, body string, ok bool) {
	m := svgContent.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Markup builds the replacement markup for file and the element attributes
// in source. A non-nil symbols registry selects sprite mode: the SVG body is
// registered once as a <symbol> and replaced by a <use> reference.
func (r *Reconciler) Markup(file fetch.SvgFile, source *attrs.Map, symbols *sprite.Registry) (string, error) {
	rootAttributes, body, ok := Split(file.Content)
	if !ok {
		return "", errors.MalformedSVG(file.Path)
	}

	fileAttributes, err := attrs.Parse(rootAttributes, r.policy.XHTML)
	if err != nil {
		return "", err
	}

	if symbols != nil {
		id, err := symbols.SymbolID(file.Path, r.symbolFactory(rootAttributes, body))
		if err != nil {
			return "", err
		}
		fileAttributes = r.shellAttributes(fileAttributes)
		body = `<use xlink:href="#` + id + `" href="#` + id + `"></use>`
	}

	final, err := r.Reconcile(source, fileAttributes)
	if err != nil {
		return "", err
	}

	return "<svg" + attrs.Render(final, r.policy.XHTML) + ">" + body + "</svg>", nil
}

// shellAttributes keeps the namespace declarations and the clone subset of
// the original root attributes for the <svg><use/></svg> shell.
func (r *Reconciler) shellAttributes(root *attrs.Map) *attrs.Map {
	shell := attrs.New()
	shell.Set("xmlns", "http://www.w3.org/2000/svg")
	shell.Set("xmlns:xlink", "http://www.w3.org/1999/xlink")
	for _, name := range r.policy.Clone {
		if v, ok := root.Get(name); ok {
			shell.Set(name, v)
		}
	}
	return shell
}

func (r *Reconciler) symbolFactory(rootAttributes, body string) sprite.Factory {
	return func(id string) (*html.Node, error) {
		wrapper, err := dom.CreateNode(
			`<svg xmlns="http://www.w3.org/2000/svg"><symbol id="`+html.EscapeString(id)+`"`+rootAttributes+`>`+body+`</symbol></svg>`,
			nil,
		)
		if err != nil {
			return nil, err
		}

		for c := wrapper.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "symbol") {
				wrapper.RemoveChild(c)
				return c, nil
			}
		}
		return nil, errors.MalformedMarkup("symbol definition could not be built")
	}
}
