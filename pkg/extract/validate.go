package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
)

// ViolationKind names the rule a candidate graph breaks.
type ViolationKind string

const (
	MissingEventNode  ViolationKind = "MissingEventNode"
	DuplicateURI      ViolationKind = "DuplicateURI"
	UnknownType       ViolationKind = "UnknownType"
	BadPropertyPrefix ViolationKind = "BadPropertyPrefix"
	Disconnected      ViolationKind = "Disconnected"
)

// Violation is one broken rule. URI, Property and Edge point at the
// offending element when there is one.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	URI      string        `json:"uri,omitempty"`
	Property string        `json:"property,omitempty"`
	Edge     *graph.Edge   `json:"edge,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

func (v Violation) String() string {
	return v.describe(func(uri string) string { return uri })
}

// describe renders the violation, naming nodes through name.
func (v Violation) describe(name func(string) string) string {
	var b strings.Builder
	b.WriteString(string(v.Kind))
	b.WriteString(":")
	if v.URI != "" {
		b.WriteString(" node ")
		b.WriteString(name(v.URI))
	}
	if v.Property != "" {
		b.WriteString(" property ")
		b.WriteString(v.Property)
	}
	if v.Edge != nil {
		fmt.Fprintf(&b, " relationship %s -%s-> %s", name(v.Edge.Source), v.Edge.Property, name(v.Edge.Target))
	}
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	return b.String()
}

// ValidationResult lists every violation in check order. An empty result
// means the graph is accepted.
type ValidationResult struct {
	Violations []Violation `json:"violations"`
}

// Accepted reports whether no rule is broken.
func (r ValidationResult) Accepted() bool { return len(r.Violations) == 0 }

// Kinds returns the distinct violation kinds in first-seen order.
func (r ValidationResult) Kinds() []ViolationKind {
	var out []ViolationKind
	for _, v := range r.Violations {
		if !slices.Contains(out, v.Kind) {
			out = append(out, v.Kind)
		}
	}
	return out
}

// Count returns how many violations of kind were found.
func (r ValidationResult) Count(kind ViolationKind) int {
	n := 0
	for _, v := range r.Violations {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

// Validate checks g against the ontology it was built with. It never
// modifies g and returns the same result for the same graph.
//
// Checks run in a fixed order: the event node, URI uniqueness, declared
// types, property prefixes and finally connectivity to the event node.
// Connectivity is only checked when an event node exists.
func Validate(g *graph.Graph) ValidationResult {
	var res ValidationResult
	add := func(v Violation) { res.Violations = append(res.Violations, v) }

	checkEventNode(g, add)
	checkDuplicates(g, add)
	checkTypes(g, add)
	checkPrefixes(g, add)
	checkConnectivity(g, add)

	return res
}

func checkEventNode(g *graph.Graph, add func(Violation)) {
	schema := g.Schema()
	events := g.EventNodes()
	switch {
	case len(events) == 0:
		add(Violation{
			Kind:   MissingEventNode,
			Detail: fmt.Sprintf("the graph has no %s node", schema.EventClass()),
		})
		return
	case len(events) > 1:
		for _, n := range events[1:] {
			add(Violation{
				Kind:   MissingEventNode,
				URI:    n.URI,
				Detail: fmt.Sprintf("the graph must have exactly one %s node, found %d", schema.EventClass(), len(events)),
			})
		}
		return
	}

	event := events[0]
	msg := schema.MessageProperty()
	value, ok := event.Properties[msg]
	if !ok {
		add(Violation{Kind: MissingEventNode, URI: event.URI, Property: msg, Detail: "the log event text is missing"})
		return
	}
	if s, isString := value.(string); !isString || s != g.Event() {
		add(Violation{Kind: MissingEventNode, URI: event.URI, Property: msg, Detail: "must contain the log event exactly as given"})
	}
}

func checkDuplicates(g *graph.Graph, add func(Violation)) {
	counts := make(map[string]int)
	var order []string
	for _, n := range g.Nodes() {
		if counts[n.URI] == 0 {
			order = append(order, n.URI)
		}
		counts[n.URI]++
	}
	for _, uri := range order {
		if counts[uri] > 1 {
			add(Violation{Kind: DuplicateURI, URI: uri, Detail: fmt.Sprintf("identifier is used by %d nodes", counts[uri])})
		}
	}
}

func checkTypes(g *graph.Graph, add func(Violation)) {
	schema := g.Schema()
	for _, n := range g.Nodes() {
		if _, ok := schema.Class(n.Class); !ok {
			add(Violation{Kind: UnknownType, URI: n.URI, Detail: fmt.Sprintf("class %q is not declared", n.Class)})
			continue
		}
		for _, prop := range sortedKeys(n.Properties) {
			if schema.HasPrefix(n.Class, prop) && !schema.IsLegalProperty(n.Class, prop) {
				add(Violation{Kind: UnknownType, URI: n.URI, Property: prop, Detail: fmt.Sprintf("property is not declared on class %s", n.Class)})
			}
		}
	}

	for _, e := range g.Edges() {
		edge := e
		source, sok := g.Node(e.Source)
		target, tok := g.Node(e.Target)
		if !sok || !tok {
			add(Violation{Kind: UnknownType, Edge: &edge, Detail: "relationship endpoint does not exist"})
			continue
		}
		if schema.IsLegalEdge(source.Class, e.Property, target.Class) {
			continue
		}
		v := Violation{Kind: UnknownType, Edge: &edge}
		class, known := schema.Class(source.Class)
		switch {
		case !known:
			v.Detail = fmt.Sprintf("source class %q is not declared", source.Class)
		default:
			if op, ok := class.Object(e.Property); ok {
				v.Detail = fmt.Sprintf("%s must point to a %s node, not %s", e.Property, op.Range, target.Class)
			} else {
				v.Detail = fmt.Sprintf("relationship %s is not declared on class %s", e.Property, source.Class)
			}
		}
		add(v)
	}
}

func checkPrefixes(g *graph.Graph, add func(Violation)) {
	schema := g.Schema()
	for _, n := range g.Nodes() {
		class, ok := schema.Class(n.Class)
		if !ok {
			continue
		}
		for _, prop := range sortedKeys(n.Properties) {
			if !schema.HasPrefix(n.Class, prop) {
				add(Violation{
					Kind:     BadPropertyPrefix,
					URI:      n.URI,
					Property: prop,
					Detail:   fmt.Sprintf("properties of %s must start with %q", n.Class, class.Prefix),
				})
			}
		}
	}
}

func checkConnectivity(g *graph.Graph, add func(Violation)) {
	if _, ok := g.FindEventNode(); !ok {
		return
	}
	for _, uri := range g.Unreached() {
		add(Violation{Kind: Disconnected, URI: uri, Detail: "not connected to the event node"})
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
