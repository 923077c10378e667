package ontology

import (
	"fmt"
	"strings"
)

// Describe renders the vocabulary as plain text for a model prompt: every
// class with its properties and the legal (source, property, target) triples.
func (s *Schema) Describe() string {
	var b strings.Builder

	b.WriteString("Classes:\n")
	for _, c := range s.classes {
		fmt.Fprintf(&b, "- %s (property prefix %q)", c.Name, c.Prefix)
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteByte('\n')
		for _, p := range c.DatatypeProperties {
			fmt.Fprintf(&b, "    - %s [%s]", p.Name, p.Type)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nRelationships (source -property-> target):\n")
	for _, c := range s.classes {
		for _, p := range c.ObjectProperties {
			fmt.Fprintf(&b, "- %s -%s-> %s", c.Name, p.Name, p.Range)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "\nEvery graph has exactly one %s node whose %s property holds the log line verbatim.\n",
		s.eventClass, s.messageProperty)

	return b.String()
}
