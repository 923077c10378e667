package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

var (
	ErrDuplicateURI = errors.New("graph: duplicate uri")
	ErrUnknownClass = errors.New("graph: unknown class")
	ErrUnknownNode  = errors.New("graph: unknown node")
	ErrIllegalEdge  = errors.New("graph: illegal edge")
)

// Node is a typed, URI-identified vertex with a property bag.
type Node struct {
	URI        string         `json:"uri"`
	Class      string         `json:"class"`
	Properties map[string]any `json:"properties"`
}

// Edge is a directed, labelled connection between two nodes.
type Edge struct {
	Source   string `json:"source"`
	Property string `json:"property"`
	Target   string `json:"target"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -%s-> %s", e.Source, e.Property, e.Target)
}

// Graph is the node/edge structure produced for one log event. A Graph is
// owned by a single session and is not safe for concurrent mutation.
type Graph struct {
	schema *ontology.Schema
	event  string

	nodes []*Node
	index map[string]*Node
	edges []Edge
}

// New returns an empty graph for the given raw event text.
func New(schema *ontology.Schema, event string) *Graph {
	return &Graph{
		schema: schema,
		event:  event,
		index:  make(map[string]*Node),
	}
}

// Schema returns the ontology the graph is checked against.
func (g *Graph) Schema() *ontology.Schema { return g.schema }

// Event returns the raw log line the graph was built for.
func (g *Graph) Event() string { return g.event }

// AddNode adds a node of a declared class under a URI not yet in use.
func (g *Graph) AddNode(uri, class string, properties map[string]any) (*Node, error) {
	if _, ok := g.index[uri]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateURI, uri)
	}
	if _, ok := g.schema.Class(class); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return g.appendNode(uri, class, properties), nil
}

// AddEdge connects two existing nodes with an object property that the
// ontology allows between their classes.
func (g *Graph) AddEdge(source, property, target string) error {
	src, ok := g.index[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, source)
	}
	dst, ok := g.index[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, target)
	}
	if !g.schema.IsLegalEdge(src.Class, property, dst.Class) {
		return fmt.Errorf("%w: %s -%s-> %s", ErrIllegalEdge, src.Class, property, dst.Class)
	}
	g.edges = append(g.edges, Edge{Source: source, Property: property, Target: target})
	return nil
}

func (g *Graph) appendNode(uri, class string, properties map[string]any) *Node {
	n := &Node{URI: uri, Class: class, Properties: maps.Clone(properties)}
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}
	g.nodes = append(g.nodes, n)
	if _, ok := g.index[uri]; !ok {
		g.index[uri] = n
	}
	return n
}

// Assemble builds a candidate graph without enforcing node-level rules:
// duplicate URIs and undeclared classes or edge labels are kept so that a
// validator can report them. Only an edge whose endpoint is missing fails.
func Assemble(schema *ontology.Schema, event string, nodes []Node, edges []Edge) (*Graph, error) {
	g := New(schema, event)
	for _, n := range nodes {
		g.appendNode(n.URI, n.Class, n.Properties)
	}
	for _, e := range edges {
		if _, ok := g.index[e.Source]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.Source)
		}
		if _, ok := g.index[e.Target]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.Target)
		}
		g.edges = append(g.edges, e)
	}
	return g, nil
}

// Node returns the first node stored under uri.
func (g *Graph) Node(uri string) (*Node, bool) {
	n, ok := g.index[uri]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node { return slices.Clone(g.nodes) }

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EventNodes returns every node whose class is the schema's event class.
func (g *Graph) EventNodes() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Class == g.schema.EventClass() {
			out = append(out, n)
		}
	}
	return out
}

// FindEventNode returns the first event node.
func (g *Graph) FindEventNode() (*Node, bool) {
	for _, n := range g.nodes {
		if n.Class == g.schema.EventClass() {
			return n, true
		}
	}
	return nil, false
}

// Degree counts the edges touching uri in either direction.
func (g *Graph) Degree(uri string) int {
	d := 0
	for _, e := range g.edges {
		if e.Source == uri {
			d++
		}
		if e.Target == uri {
			d++
		}
	}
	return d
}

// IsConnected reports whether every node is reachable from the event node
// when edges are followed in both directions.
func (g *Graph) IsConnected() bool {
	if _, ok := g.FindEventNode(); !ok {
		return false
	}
	return len(g.Unreached()) == 0
}

// Unreached returns, in insertion order and without repeats, the URIs that a
// breadth-first walk from the event node over both edge directions does not
// visit. Without an event node every URI is unreached.
func (g *Graph) Unreached() []string {
	visited := make(map[string]bool, len(g.index))

	if root, ok := g.FindEventNode(); ok {
		adj := make(map[string][]string, len(g.index))
		for _, e := range g.edges {
			adj[e.Source] = append(adj[e.Source], e.Target)
			adj[e.Target] = append(adj[e.Target], e.Source)
		}

		queue := []string{root.URI}
		visited[root.URI] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}

	var out []string
	seen := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		if visited[n.URI] || seen[n.URI] {
			continue
		}
		seen[n.URI] = true
		out = append(out, n.URI)
	}
	return out
}
