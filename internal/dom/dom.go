// Package dom wraps the golang.org/x/net/html node tree with the handful of
// operations the inliner needs: building a node from markup, swapping nodes,
// attribute access and tree traversal.
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/inlinesvg/internal/errors"
)

// CreateNode parses markup into a single detached element. The markup must
// look like a tag and contain exactly one root element. context is the
// element the result will be inserted under; nil means <body>.
func CreateNode(markup string, context *html.Node) (*html.Node, error) {
	markup = strings.TrimSpace(markup)
	if markup == "" {
		return nil, errors.MalformedMarkup("empty markup")
	}
	if !strings.HasPrefix(markup, "<") || !strings.HasSuffix(markup, ">") {
		return nil, errors.MalformedMarkup("markup does not start with '<' and end with '>'")
	}

	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(context))
	if err != nil {
		return nil, errors.MalformedMarkup(err.Error())
	}

	var root *html.Node
	for _, n := range nodes {
		switch {
		case n.Type == html.TextNode && strings.TrimSpace(n.Data) == "":
			continue
		case n.Type == html.ElementNode && root == nil:
			root = n
		default:
			return nil, errors.MalformedMarkup("markup must contain a single root element")
		}
	}
	if root == nil {
		return nil, errors.MalformedMarkup("markup contains no element")
	}
	return root, nil
}

func fragmentContext(context *html.Node) *html.Node {
	if context == nil || context.Type != html.ElementNode {
		return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	return &html.Node{
		Type:      html.ElementNode,
		Data:      context.Data,
		DataAtom:  context.DataAtom,
		Namespace: context.Namespace,
	}
}

// ReplaceNode puts replacement where old is. old must have a parent and
// replacement must be detached.
func ReplaceNode(old, replacement *html.Node) error {
	if old == nil || replacement == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "missing required argument [node]", nil)
	}
	if old.Parent == nil {
		return errors.MissingParent()
	}
	if replacement.Parent != nil {
		replacement.Parent.RemoveChild(replacement)
	}

	parent := old.Parent
	parent.InsertBefore(replacement, old)
	parent.RemoveChild(old)
	return nil
}

// OuterHTML renders n and its subtree.
func OuterHTML(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// Attr returns the value of the attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets key on n, appending it when absent.
func SetAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

// RemoveAttr deletes key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// FindBody returns the <body> element under doc, or nil.
func FindBody(doc *html.Node) *html.Node {
	var body *html.Node
	Walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	return body
}

// Walk visits n and its descendants depth first in document order until fn
// returns false.
func Walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// Elements returns every element under root for which match returns true,
// in document order. The slice is safe to iterate while mutating the tree.
func Elements(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}
