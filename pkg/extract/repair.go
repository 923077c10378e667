package extract

import "strings"

// FormatViolations renders violations as a bullet list, one per line.
func FormatViolations(violations []Violation) string {
	return formatViolations(violations, func(uri string) string { return uri })
}

// formatViolations names nodes through name so the model sees its own ids
// instead of minted URIs.
func formatViolations(violations []Violation, name func(string) string) string {
	var b strings.Builder
	for i, v := range violations {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(v.describe(name))
		if hint := repairHint(v.Kind); hint != "" {
			b.WriteString(" (")
			b.WriteString(hint)
			b.WriteString(")")
		}
	}
	return b.String()
}

func repairHint(kind ViolationKind) string {
	switch kind {
	case MissingEventNode:
		return "create exactly one event node holding the log event verbatim"
	case DuplicateURI:
		return "give every node its own id"
	case UnknownType:
		return "use only declared classes, properties and relationships"
	case BadPropertyPrefix:
		return "move the value to a property of the right class or drop it"
	case Disconnected:
		return "connect the node to the event node or remove it"
	}
	return ""
}
