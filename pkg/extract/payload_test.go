package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
)

func TestDecodePayloadAcceptsObjectProperties(t *testing.T) {
	p, err := DecodePayload(`{"nodes":[{"id":"u","type":"User","properties":{"userName":"alice","userId":42}}],"relationships":[]}`)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	props := p.Nodes[0].Properties
	if len(props) != 2 || props[0].Name != "userId" || props[1].Name != "userName" {
		t.Fatalf("properties = %+v, want sorted userId, userName", props)
	}
}

func TestDecodePayloadRepairsJSON(t *testing.T) {
	p, err := DecodePayload(`{"nodes":[{"id":"e","type":"Event","properties":[{"name":"eventMessage","value":"x"}]}],"relationships":[],}`)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(p.Nodes) != 1 {
		t.Fatalf("nodes = %+v", p.Nodes)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   "} {
		_, err := DecodePayload(in)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("DecodePayload(%q) error = %v, want ErrMalformedPayload", in, err)
		}
	}
}

func TestBuildCandidateCoercesValues(t *testing.T) {
	schema := testSchema(t)
	p, err := DecodePayload(`{"nodes":[
		{"id":"e","type":"Event","properties":[{"name":"eventMessage","value":"x"},{"name":"eventTimestamp","value":"2024-03-01 12:30:00"}]},
		{"id":"u","type":"User","properties":[{"name":"userId","value":"1000"},{"name":"userName","value":7}]}
	],"relationships":[{"source_id":"e","target_id":"u","type":"hasUser"}]}`)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}

	c, err := buildCandidate(schema, "x", graph.NewMinterWithSession(schema.Namespace(), "s1"), p)
	if err != nil {
		t.Fatalf("buildCandidate() error = %v", err)
	}

	nodes := c.graph.Nodes()
	if got := nodes[0].Properties["eventTimestamp"]; got != "2024-03-01T12:30:00Z" {
		t.Fatalf("eventTimestamp = %v", got)
	}
	if got := nodes[1].Properties["userId"]; got != int64(1000) {
		t.Fatalf("userId = %#v, want int64(1000)", got)
	}
	if got := nodes[1].Properties["userName"]; got != "7" {
		t.Fatalf("userName = %#v, want \"7\"", got)
	}
	if nodes[0].URI != "http://example.com/test/run/s1/event-1" {
		t.Fatalf("event URI = %s", nodes[0].URI)
	}
	if c.name(nodes[1].URI) != `"u"` {
		t.Fatalf("name() = %s, want the model id", c.name(nodes[1].URI))
	}
}

func TestBuildCandidateShapeErrors(t *testing.T) {
	schema := testSchema(t)
	tests := []struct {
		name string
		p    Payload
		want error
	}{
		{
			name: "dangling relationship",
			p: Payload{
				Nodes:         []PayloadNode{node("e", "Event", "eventMessage", "x")},
				Relationships: []PayloadRelationship{rel("e", "hasUser", "ghost")},
			},
			want: ErrDanglingRelationship,
		},
		{
			name: "integer that is not one",
			p:    Payload{Nodes: []PayloadNode{node("u", "User", "userId", "many")}},
			want: ErrBadValue,
		},
		{
			name: "node without id",
			p:    Payload{Nodes: []PayloadNode{node("", "User")}},
			want: ErrMalformedPayload,
		},
		{
			name: "node without type",
			p:    Payload{Nodes: []PayloadNode{node("u", "")}},
			want: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildCandidate(schema, "x", graph.NewMinterWithSession(schema.Namespace(), "s"), tt.p)
			if !errors.Is(err, tt.want) {
				t.Fatalf("buildCandidate() error = %v, want %v", err, tt.want)
			}
			var shape *ShapeError
			if !errors.As(err, &shape) {
				t.Fatalf("error %T is not a *ShapeError", err)
			}
		})
	}
}

func TestBuildCandidateKeepsUnknownTypes(t *testing.T) {
	schema := testSchema(t)
	p := Payload{
		Nodes: []PayloadNode{
			node("e", "Event", "eventMessage", "x"),
			node("p", "Person", "personName", "alice"),
			node("p", "Person"),
		},
		Relationships: []PayloadRelationship{rel("e", "hasPerson", "p")},
	}

	c, err := buildCandidate(schema, "x", graph.NewMinterWithSession(schema.Namespace(), "s"), p)
	if err != nil {
		t.Fatalf("buildCandidate() error = %v", err)
	}
	res := Validate(c.graph)
	if res.Count(DuplicateURI) != 1 {
		t.Fatalf("expected the reused id to produce one DuplicateURI, got %v", res.Violations)
	}
	if res.Count(UnknownType) != 3 {
		t.Fatalf("expected two unknown classes and one unknown edge, got %v", res.Violations)
	}
}

func TestPayloadFromDocument(t *testing.T) {
	doc := graph.Document{
		Event: "x",
		Nodes: []graph.Node{
			{URI: "http://example.com/test/run/s/event-1", Class: "Event", Properties: map[string]any{"eventMessage": "x"}},
			{URI: "http://example.com/test/run/s/user-1", Class: "User", Properties: map[string]any{"userName": "bob", "userId": int64(3)}},
		},
		Edges: []graph.Edge{{Source: "http://example.com/test/run/s/event-1", Property: "hasUser", Target: "http://example.com/test/run/s/user-1"}},
	}

	p := PayloadFromDocument(doc)
	if p.Nodes[1].ID != "user-1" || p.Nodes[1].Properties[0].Name != "userId" {
		t.Fatalf("nodes = %+v", p.Nodes)
	}
	if r := p.Relationships[0]; r.SourceID != "event-1" || r.TargetID != "user-1" {
		t.Fatalf("relationship = %+v", r)
	}
	if !strings.HasPrefix(p.Nodes[0].Type, "Event") {
		t.Fatalf("type = %s", p.Nodes[0].Type)
	}
}
