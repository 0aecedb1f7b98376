//go:build property
// +build property

package reconcile

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/inlinesvg/internal/attrs"
)

func buildMap(names, values []string) *attrs.Map {
	m := attrs.New()
	for i, name := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		m.Set(name, v)
	}
	return m
}

// TestReconcileProperties checks determinism and the class token invariants.
func TestReconcileProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	policy := Policy{
		Merge:  []string{"class", "style"},
		Add:    []Attribute{{Name: "focusable", Value: "false"}},
		Remove: []string{"src", "data-src"},
	}
	names := gen.SliceOfN(4, gen.RegexMatch(`^(class|style|width|src|data-src|title)$`))
	values := gen.SliceOfN(4, gen.RegexMatch(`^[a-c ]{0,8}$`))

	// Property: same inputs always produce the same rendering
	properties.Property("reconcile is deterministic", prop.ForAll(
		func(sn, sv, fn, fv []string) bool {
			r := New(policy)
			a, errA := r.Reconcile(buildMap(sn, sv), buildMap(fn, fv))
			b, errB := r.Reconcile(buildMap(sn, sv), buildMap(fn, fv))
			if errA != nil || errB != nil {
				return (errA == nil) == (errB == nil)
			}
			return attrs.Render(a, false) == attrs.Render(b, false)
		},
		names, values, names, values,
	))

	// Property: merged class never repeats a token and removed names never survive
	properties.Property("class unique and removals applied", prop.ForAll(
		func(sn, sv, fn, fv []string) bool {
			got, err := New(policy).Reconcile(buildMap(sn, sv), buildMap(fn, fv))
			if err != nil {
				return true
			}
			if got.Has("src") || got.Has("data-src") {
				return false
			}
			class, _ := got.Get("class")
			seen := map[string]bool{}
			for _, tok := range strings.Fields(class) {
				if seen[tok] {
					return false
				}
				seen[tok] = true
			}
			focusable, _ := got.Get("focusable")
			return focusable == "false"
		},
		names, values, names, values,
	))

	properties.TestingRun(t)
}
