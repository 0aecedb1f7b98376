// Package attrs parses attribute lists out of opening-tag markup into an
// insertion-ordered name to value mapping, and renders such mappings back
// into markup.
//
// Names are lower-cased and validated; values are stored decoded (character
// references resolved) and are escaped again by Render.
package attrs

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/inlinesvg/internal/errors"
)

// namePattern accepts an optional leading ':' or '@' so that framework bound
// attributes survive a round trip.
var namePattern = regexp.MustCompile(`(?i)^[:@]?[a-z](?:[a-z0-9-:]*[a-z0-9])?$`)

// ValidName reports whether name is an acceptable attribute name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Map is an insertion-ordered attribute mapping. The zero value is ready to use.
type Map struct {
	keys   []string
	values map[string]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{values: make(map[string]string)}
}

// Set stores value under name. Existing names keep their position.
func (m *Map) Set(name, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.values[name] = value
}

// Get returns the value stored under name.
func (m *Map) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Has reports whether name is present.
func (m *Map) Has(name string) bool {
	_, ok := m.values[name]
	return ok
}

// Delete removes name if present.
func (m *Map) Delete(name string) {
	if _, ok := m.values[name]; !ok {
		return
	}
	delete(m.values, name)
	for i, k := range m.keys {
		if k == name {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the names in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of attributes.
func (m *Map) Len() int {
	return len(m.keys)
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map {
	c := New()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// Merge copies every entry of other into m; values from other win.
func (m *Map) Merge(other *Map) {
	for _, k := range other.keys {
		m.Set(k, other.values[k])
	}
}

// String renders the map without xhtml normalization.
func (m *Map) String() string {
	return Render(m, false)
}

// Tokens splits a space separated attribute value into its non-empty tokens.
func Tokens(value string) []string {
	return strings.Fields(value)
}

// Parse reads attributes from markup, which is either the attribute section
// of an opening tag or a complete serialized element. Scanning stops at the
// end of the first opening tag. Valueless attributes get an empty value, or
// their own name when xhtml is set.
func Parse(markup string, xhtml bool) (*Map, error) {
	m := New()
	s := &scanner{src: strings.TrimSpace(markup)}

	for {
		name, value, ok, done := s.next()
		if done {
			break
		}
		if !ok {
			continue
		}
		if err := m.add(name, value, xhtml); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// FromHTML builds a Map from already parsed attributes, applying the same
// normalization and validation as Parse.
func FromHTML(attributes []html.Attribute, xhtml bool) (*Map, error) {
	m := New()
	for _, a := range attributes {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		if err := m.add(name, a.Val, xhtml); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Map) add(name, value string, xhtml bool) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	if !ValidName(name) {
		return errors.MalformedAttributeName(name)
	}

	value = strings.TrimSpace(value)
	if value == "" && xhtml {
		value = name
	}
	m.Set(name, value)
	return nil
}

// Render serializes m as ` name="value"` pairs in insertion order. Empty
// values render as bare names, or as name="name" when xhtml is set.
func Render(m *Map, xhtml bool) string {
	var b strings.Builder
	for _, k := range m.keys {
		v := m.values[k]
		b.WriteByte(' ')
		b.WriteString(k)
		switch {
		case v != "":
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(v))
			b.WriteByte('"')
		case xhtml:
			b.WriteString(`="`)
			b.WriteString(k)
			b.WriteByte('"')
		}
	}
	return b.String()
}
