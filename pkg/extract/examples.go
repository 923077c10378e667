package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

type exampleDocument struct {
	Event   string          `json:"event"`
	Context string          `json:"context"`
	Graph   json.RawMessage `json:"graph"`
}

// ParseExamples reads a JSON array of curated examples, each an event with
// its context and graph. Every graph must pass Validate, so the model is
// never shown a graph it would be rejected for.
func ParseExamples(schema *ontology.Schema, data []byte) ([]Example, error) {
	var docs []exampleDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExample, err)
	}

	examples := make([]Example, 0, len(docs))
	for i, d := range docs {
		event := d.Event
		if strings.TrimSpace(event) == "" {
			return nil, fmt.Errorf("%w %d: event is empty", ErrInvalidExample, i)
		}
		if len(d.Graph) == 0 {
			return nil, fmt.Errorf("%w %d: graph is missing", ErrInvalidExample, i)
		}

		g, err := graph.Decode(schema, d.Graph)
		if err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidExample, i, err)
		}
		doc := g.Document()
		switch doc.Event {
		case event:
		case "":
			doc.Event = event
			if g, err = graph.FromDocument(schema, doc); err != nil {
				return nil, fmt.Errorf("%w %d: %w", ErrInvalidExample, i, err)
			}
		default:
			return nil, fmt.Errorf("%w %d: graph belongs to another event", ErrInvalidExample, i)
		}

		if res := Validate(g); !res.Accepted() {
			return nil, fmt.Errorf("%w %d:\n%s", ErrInvalidExample, i, FormatViolations(res.Violations))
		}
		examples = append(examples, Example{Event: event, Context: d.Context, Graph: g.Document()})
	}
	return examples, nil
}
