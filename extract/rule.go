// Package extract binds XPath queries to transform chains for declarative
// field extraction from markup pages.
//
// A Rule runs its before-transforms on the traversal root, evaluates the
// query over the (possibly list-valued) root, and runs its after-transforms
// over the whole result sequence. Every transform failure is isolated to the
// owning field: before-failures make the extraction vacuous, after-failures
// null the field's result so the configured default applies. Nothing here
// ever aborts the document the field belongs to.
package extract

import (
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Transform rewrites an extracted result sequence. Returning an error nulls
// the entire sequence for this field (logged, not fatal).
type Transform func(values []any) ([]any, error)

// NodeTransform rewrites the traversal roots before the query runs.
type NodeTransform func(nodes []*html.Node) ([]*html.Node, error)

// Rule is a compiled XPath query with optional transform chains and a
// default value for when extraction comes up empty.
type Rule struct {
	query  string
	expr   *xpath.Expr
	before []NodeTransform
	after  []Transform
	def    any
	logger *slog.Logger
}

// RuleOption configures a Rule.
type RuleOption func(*Rule)

// WithBefore appends transforms applied to the traversal root, in order.
func WithBefore(ts ...NodeTransform) RuleOption {
	return func(r *Rule) { r.before = append(r.before, ts...) }
}

// WithAfter appends transforms applied to the result sequence, in order.
func WithAfter(ts ...Transform) RuleOption {
	return func(r *Rule) { r.after = append(r.after, ts...) }
}

// WithDefault sets the value First returns when extraction yields nothing.
func WithDefault(v any) RuleOption {
	return func(r *Rule) { r.def = v }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) RuleOption {
	return func(r *Rule) { r.logger = l }
}

// NewRule compiles the XPath query.
func NewRule(query string, opts ...RuleOption) (*Rule, error) {
	expr, err := xpath.Compile(query)
	if err != nil {
		return nil, err
	}
	r := &Rule{query: query, expr: expr, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MustRule is NewRule for package-level rule tables; panics on a bad query.
func MustRule(query string, opts ...RuleOption) *Rule {
	r, err := NewRule(query, opts...)
	if err != nil {
		panic("extract: bad query " + query + ": " + err.Error())
	}
	return r
}

// Apply evaluates the rule against root and returns the transformed result
// sequence. Node-set results are spliced flat; attribute and text matches
// come back as strings, element matches as *html.Node, and scalar XPath
// results (string(), count(), ...) as their Go scalar. Absent matches yield
// an empty sequence, never an error.
func (r *Rule) Apply(root *html.Node) []any {
	roots := []*html.Node{root}
	for _, t := range r.before {
		out, err := t(roots)
		if err != nil {
			r.logger.Error("extract: before transform failed", "query", r.query, "error", err)
			roots = nil
			continue
		}
		roots = out
	}

	var results []any
	for _, node := range roots {
		if node == nil {
			continue
		}
		v := r.expr.Evaluate(htmlquery.CreateXPathNavigator(node))
		switch tv := v.(type) {
		case *xpath.NodeIterator:
			for tv.MoveNext() {
				nav, ok := tv.Current().(*htmlquery.NodeNavigator)
				if !ok {
					continue
				}
				switch nav.NodeType() {
				case xpath.AttributeNode, xpath.TextNode:
					results = append(results, nav.Value())
				default:
					results = append(results, nav.Current())
				}
			}
		case nil:
			// no match
		default:
			results = append(results, tv)
		}
	}

	// After-transforms run over the whole sequence; a failure nulls the
	// field but the chain keeps going, so later transforms see an empty
	// sequence rather than stale values.
	for _, t := range r.after {
		out, err := t(results)
		if err != nil {
			r.logger.Error("extract: after transform failed", "query", r.query, "error", err)
			results = nil
			continue
		}
		results = out
	}
	return results
}

// First returns the first extracted value, or the rule's default when the
// sequence is empty (no match, or a transform nulled it).
func (r *Rule) First(root *html.Node) any {
	res := r.Apply(root)
	if len(res) == 0 {
		return r.def
	}
	return res[0]
}

// Nodes returns only the element-node results of Apply.
func (r *Rule) Nodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	for _, v := range r.Apply(root) {
		if n, ok := v.(*html.Node); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Strings returns the results of Apply stringified via AsString, dropping
// empties.
func (r *Rule) Strings(root *html.Node) []string {
	var out []string
	for _, v := range r.Apply(root) {
		if s := AsString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AsString renders an extracted value as text: element nodes through their
// inner text, everything else through its natural string form.
func AsString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case *html.Node:
		return strings.TrimSpace(htmlquery.InnerText(tv))
	default:
		return strings.TrimSpace(stringify(tv))
	}
}
