package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

// Document is the serialized node/edge-list form of a graph.
type Document struct {
	Event string `json:"event"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Document returns a detached copy of the graph as node and edge lists.
func (g *Graph) Document() Document {
	doc := Document{
		Event: g.event,
		Nodes: make([]Node, 0, len(g.nodes)),
		Edges: g.Edges(),
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	for _, n := range g.nodes {
		doc.Nodes = append(doc.Nodes, *n)
	}
	return doc
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Document())
}

// FromDocument assembles a candidate graph from its serialized form.
func FromDocument(schema *ontology.Schema, doc Document) (*Graph, error) {
	return Assemble(schema, doc.Event, doc.Nodes, doc.Edges)
}

// Decode parses a JSON document into a candidate graph. Integral numbers are
// kept as int64 so integer properties survive the round trip.
func Decode(schema *ontology.Schema, data []byte) (*Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("graph: decode document: %w", err)
	}
	for i := range doc.Nodes {
		for k, v := range doc.Nodes[i].Properties {
			doc.Nodes[i].Properties[k] = normalizeNumber(v)
		}
	}
	return FromDocument(schema, doc)
}

func normalizeNumber(v any) any {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	if f, err := num.Float64(); err == nil {
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f)
		}
		return f
	}
	return num.String()
}

// DecodeProperties parses a JSON object of node properties with the same
// number handling as Decode.
func DecodeProperties(data []byte) (map[string]any, error) {
	props := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("graph: decode properties: %w", err)
	}
	for k, v := range props {
		props[k] = normalizeNumber(v)
	}
	return props, nil
}
