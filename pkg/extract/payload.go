package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

// Payload is the graph the model submits through the emit tool. Node ids are
// local handles; the engine replaces them with minted URIs.
type Payload struct {
	Nodes         []PayloadNode         `json:"nodes"`
	Relationships []PayloadRelationship `json:"relationships"`
}

type PayloadNode struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Properties PropertyList `json:"properties"`
}

type PayloadProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type PayloadRelationship struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// PropertyList accepts both the declared list form
// [{"name": ..., "value": ...}] and a plain JSON object.
type PropertyList []PayloadProperty

func (p *PropertyList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}

	if data[0] == '{' {
		var obj map[string]any
		if err := unmarshalNumbers(data, &obj); err != nil {
			return err
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		list := make(PropertyList, 0, len(keys))
		for _, k := range keys {
			list = append(list, PayloadProperty{Name: k, Value: obj[k]})
		}
		*p = list
		return nil
	}

	var list []PayloadProperty
	if err := unmarshalNumbers(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// DecodePayload parses the emit tool arguments, repairing slightly broken
// JSON the way the model tends to produce it.
func DecodePayload(arguments string) (Payload, error) {
	var p Payload
	if strings.TrimSpace(arguments) == "" {
		return p, &ShapeError{Err: ErrMalformedPayload, Detail: "empty arguments"}
	}
	if err := ai.UnmarshalFlexible(arguments, &p); err != nil {
		return p, &ShapeError{Err: ErrMalformedPayload, Detail: err.Error()}
	}
	return p, nil
}

// candidate is a decoded proposal together with the model's handle for
// every minted URI.
type candidate struct {
	graph   *graph.Graph
	handles map[string]string // uri -> model id
	result  ValidationResult
	attempt int
}

func (c *candidate) name(uri string) string {
	if c == nil {
		return uri
	}
	if h, ok := c.handles[uri]; ok {
		return fmt.Sprintf("%q", h)
	}
	return uri
}

// buildCandidate turns a payload into a graph. Every distinct id gets one
// minted URI, so an id used for two nodes yields a duplicate URI that the
// validator reports. Values of declared properties are coerced to their
// declared type; everything else is kept for the validator to judge.
func buildCandidate(schema *ontology.Schema, event string, minter *graph.Minter, p Payload) (*candidate, error) {
	uris := make(map[string]string, len(p.Nodes))
	handles := make(map[string]string, len(p.Nodes))
	nodes := make([]graph.Node, 0, len(p.Nodes))

	for _, n := range p.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return nil, &ShapeError{Err: ErrMalformedPayload, Detail: "every node needs an id"}
		}
		class := strings.TrimSpace(n.Type)
		if class == "" {
			return nil, &ShapeError{Err: ErrMalformedPayload, Node: id, Detail: "node has no type"}
		}

		uri, ok := uris[id]
		if !ok {
			uri = minter.Mint(class)
			uris[id] = uri
			handles[uri] = id
		}

		props := make(map[string]any, len(n.Properties))
		for _, prop := range n.Properties {
			name := strings.TrimSpace(prop.Name)
			if name == "" {
				return nil, &ShapeError{Err: ErrMalformedPayload, Node: id, Detail: "property without a name"}
			}
			if prop.Value == nil {
				continue
			}
			value, err := coerce(schema, class, name, prop.Value)
			if err != nil {
				return nil, &ShapeError{Err: ErrBadValue, Node: id, Property: name, Detail: err.Error()}
			}
			props[name] = value
		}
		nodes = append(nodes, graph.Node{URI: uri, Class: class, Properties: props})
	}

	edges := make([]graph.Edge, 0, len(p.Relationships))
	for _, r := range p.Relationships {
		src, ok := uris[strings.TrimSpace(r.SourceID)]
		if !ok {
			return nil, &ShapeError{Err: ErrDanglingRelationship, Node: r.SourceID, Detail: "source of " + r.Type}
		}
		dst, ok := uris[strings.TrimSpace(r.TargetID)]
		if !ok {
			return nil, &ShapeError{Err: ErrDanglingRelationship, Node: r.TargetID, Detail: "target of " + r.Type}
		}
		if strings.TrimSpace(r.Type) == "" {
			return nil, &ShapeError{Err: ErrMalformedPayload, Node: r.SourceID, Detail: "relationship has no type"}
		}
		edges = append(edges, graph.Edge{Source: src, Property: strings.TrimSpace(r.Type), Target: dst})
	}

	g, err := graph.Assemble(schema, event, nodes, edges)
	if err != nil {
		return nil, &ShapeError{Err: ErrDanglingRelationship, Detail: err.Error()}
	}
	return &candidate{graph: g, handles: handles}, nil
}

// coerce converts value to the declared type of class.prop. Undeclared
// properties keep their scalar value.
func coerce(schema *ontology.Schema, class, prop string, value any) (any, error) {
	vt, declared := schema.PropertyValueType(class, prop)
	if !declared {
		return scalar(value)
	}

	switch vt {
	case ontology.ValueInteger:
		return toInteger(value)
	case ontology.ValueTimestamp:
		return toTimestamp(value)
	default:
		if s, ok := value.(string); ok {
			return s, nil
		}
		v, err := scalar(value)
		if err != nil {
			return nil, err
		}
		return fmt.Sprint(v), nil
	}
}

func scalar(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, int64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", v.String())
		}
		return f, nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v), nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("expected a single value, got %T", value)
	}
}

func toInteger(value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err == nil && f == math.Trunc(f) {
			return int64(f), nil
		}
	case float64:
		if v == math.Trunc(v) {
			return int64(v), nil
		}
	case int64:
		return v, nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("expected an integer, got %v", value)
}

// toTimestamp normalizes a date in any common notation to RFC 3339. Numbers
// are read as Unix seconds. Text dateparse cannot read, such as syslog
// stamps without a year, is kept as written.
func toTimestamp(value any) (string, error) {
	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		t, err := dateparse.ParseAny(v)
		if err != nil {
			return v, nil
		}
		return t.Format(time.RFC3339), nil
	case json.Number, float64, int64:
		secs, err := toInteger(v)
		if err != nil {
			return "", fmt.Errorf("expected a timestamp, got %v", value)
		}
		return time.Unix(secs, 0).UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("expected a timestamp, got %v", value)
}

// emitParameters is the JSON schema of the emit tool. Type and property
// names are restricted to what the ontology declares.
func emitParameters(schema *ontology.Schema) map[string]any {
	propertyNames := schema.DatatypePropertyNames()
	relationshipNames := schema.ObjectPropertyNames()

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nodes": map[string]any{
				"type":        "array",
				"description": "All nodes of the graph, including exactly one event node",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "Local handle of the node, unique within this graph",
						},
						"type": map[string]any{
							"type":        "string",
							"description": "Ontology class of the node",
							"enum":        schema.ClassNames(),
						},
						"properties": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"name": map[string]any{
										"type":        "string",
										"description": "Datatype property name, prefixed with the class prefix",
										"enum":        propertyNames,
									},
									"value": map[string]any{
										"type":        "string",
										"description": "Property value; integer properties may be given as numbers",
									},
								},
								"required": []string{"name", "value"},
							},
						},
					},
					"required": []string{"id", "type", "properties"},
				},
			},
			"relationships": map[string]any{
				"type":        "array",
				"description": "Directed relationships between nodes, referenced by their ids",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source_id": map[string]any{"type": "string"},
						"target_id": map[string]any{"type": "string"},
						"type": map[string]any{
							"type":        "string",
							"description": "Object property connecting source to target",
							"enum":        relationshipNames,
						},
					},
					"required": []string{"source_id", "target_id", "type"},
				},
			},
		},
		"required": []string{"nodes", "relationships"},
	}
}

// PayloadFromDocument renders an accepted graph in the form the emit tool
// expects, so it can be shown to the model as an example. The last path
// segment of every URI becomes its id.
func PayloadFromDocument(doc graph.Document) Payload {
	id := func(uri string) string {
		if i := strings.LastIndexAny(uri, "/#"); i >= 0 && i < len(uri)-1 {
			return uri[i+1:]
		}
		return uri
	}

	p := Payload{
		Nodes:         make([]PayloadNode, 0, len(doc.Nodes)),
		Relationships: make([]PayloadRelationship, 0, len(doc.Edges)),
	}
	for _, n := range doc.Nodes {
		node := PayloadNode{ID: id(n.URI), Type: n.Class, Properties: PropertyList{}}
		keys := make([]string, 0, len(n.Properties))
		for k := range n.Properties {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			node.Properties = append(node.Properties, PayloadProperty{Name: k, Value: n.Properties[k]})
		}
		p.Nodes = append(p.Nodes, node)
	}
	for _, e := range doc.Edges {
		p.Relationships = append(p.Relationships, PayloadRelationship{
			SourceID: id(e.Source),
			TargetID: id(e.Target),
			Type:     e.Property,
		})
	}
	return p
}
