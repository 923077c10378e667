package ontology

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueType is the declared type of a datatype property value.
type ValueType string

const (
	ValueString    ValueType = "string"
	ValueInteger   ValueType = "integer"
	ValueTimestamp ValueType = "timestamp"
)

// DatatypeProperty is a scalar-valued property declared on a class.
type DatatypeProperty struct {
	Name        string    `yaml:"name" json:"name"`
	Type        ValueType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// ObjectProperty is an edge label declared on a class (the domain) pointing
// to the Range class.
type ObjectProperty struct {
	Name        string `yaml:"name" json:"name"`
	Range       string `yaml:"range" json:"range"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Class is one ontology class together with the properties it may carry.
type Class struct {
	Name               string             `yaml:"name" json:"name"`
	Prefix             string             `yaml:"prefix" json:"prefix"`
	Description        string             `yaml:"description,omitempty" json:"description,omitempty"`
	DatatypeProperties []DatatypeProperty `yaml:"datatype_properties" json:"datatype_properties"`
	ObjectProperties   []ObjectProperty   `yaml:"object_properties" json:"object_properties"`

	datatypes map[string]*DatatypeProperty
	objects   map[string]*ObjectProperty
}

// Datatype returns the datatype property declared on the class under name.
func (c *Class) Datatype(name string) (*DatatypeProperty, bool) {
	p, ok := c.datatypes[name]
	return p, ok
}

// Object returns the object property declared on the class under name.
func (c *Class) Object(name string) (*ObjectProperty, bool) {
	p, ok := c.objects[name]
	return p, ok
}

type document struct {
	Namespace       string  `yaml:"namespace"`
	EventClass      string  `yaml:"event_class"`
	MessageProperty string  `yaml:"message_property"`
	Classes         []Class `yaml:"classes"`
}

// Schema is the loaded, immutable ontology. A Schema is safe for concurrent
// use by any number of extraction sessions.
type Schema struct {
	namespace       string
	eventClass      string
	messageProperty string
	classes         []*Class
	byName          map[string]*Class
}

// DefaultNamespace is used when the document does not declare one.
const DefaultNamespace = "http://example.com/lkgb/logs/"

// Load reads an ontology document from r.
func Load(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, parseErr("", "", err.Error())
	}
	return Parse(data)
}

// LoadFile reads an ontology document from the file at path.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaParse, err)
	}
	defer f.Close()

	return Load(f)
}

// Parse builds a Schema from a YAML ontology document. Any structural problem
// is reported as a *ParseError.
func Parse(data []byte) (*Schema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, parseErr("", "", err.Error())
	}

	if len(doc.Classes) == 0 {
		return nil, parseErr("", "", "no classes declared")
	}

	s := &Schema{
		namespace:       doc.Namespace,
		eventClass:      doc.EventClass,
		messageProperty: doc.MessageProperty,
		byName:          make(map[string]*Class, len(doc.Classes)),
	}
	if s.namespace == "" {
		s.namespace = DefaultNamespace
	}
	if !strings.HasSuffix(s.namespace, "/") && !strings.HasSuffix(s.namespace, "#") {
		s.namespace += "/"
	}
	if s.eventClass == "" {
		s.eventClass = "Event"
	}

	for i := range doc.Classes {
		c := &doc.Classes[i]
		if c.Name == "" {
			return nil, parseErr("", "", fmt.Sprintf("class #%d has no name", i+1))
		}
		if _, dup := s.byName[c.Name]; dup {
			return nil, parseErr(c.Name, "", "duplicate class")
		}
		if c.Prefix == "" {
			return nil, parseErr(c.Name, "", "empty property prefix")
		}

		c.datatypes = make(map[string]*DatatypeProperty, len(c.DatatypeProperties))
		for j := range c.DatatypeProperties {
			p := &c.DatatypeProperties[j]
			if err := checkPropertyName(c, p.Name, true); err != nil {
				return nil, err
			}
			switch p.Type {
			case ValueString, ValueInteger, ValueTimestamp:
			case "":
				p.Type = ValueString
			default:
				return nil, parseErr(c.Name, p.Name, fmt.Sprintf("unknown value type %q", p.Type))
			}
			c.datatypes[p.Name] = p
		}

		c.objects = make(map[string]*ObjectProperty, len(c.ObjectProperties))
		for j := range c.ObjectProperties {
			p := &c.ObjectProperties[j]
			if err := checkPropertyName(c, p.Name, false); err != nil {
				return nil, err
			}
			if p.Range == "" {
				return nil, parseErr(c.Name, p.Name, "object property has no range")
			}
			c.objects[p.Name] = p
		}

		s.classes = append(s.classes, c)
		s.byName[c.Name] = c
	}

	// ranges may point forward, so they are resolved after all classes are known
	for _, c := range s.classes {
		for _, p := range c.ObjectProperties {
			if _, ok := s.byName[p.Range]; !ok {
				return nil, parseErr(c.Name, p.Name, fmt.Sprintf("range %q is not a declared class", p.Range))
			}
		}
	}

	event, ok := s.byName[s.eventClass]
	if !ok {
		return nil, parseErr(s.eventClass, "", "event class is not declared")
	}
	if s.messageProperty == "" {
		s.messageProperty = event.Prefix + "Message"
	}
	msg, ok := event.datatypes[s.messageProperty]
	if !ok {
		return nil, parseErr(event.Name, s.messageProperty, "message property is not declared on the event class")
	}
	if msg.Type != ValueString {
		return nil, parseErr(event.Name, s.messageProperty, "message property must be a string")
	}

	return s, nil
}

// checkPropertyName rejects empty and duplicate names. Only datatype
// properties end up as node keys, so only they carry the class prefix.
func checkPropertyName(c *Class, name string, prefixed bool) error {
	if name == "" {
		return parseErr(c.Name, "", "property without name")
	}
	if prefixed && !strings.HasPrefix(name, c.Prefix) {
		return parseErr(c.Name, name, fmt.Sprintf("property does not start with prefix %q", c.Prefix))
	}
	if _, ok := c.datatypes[name]; ok {
		return parseErr(c.Name, name, "duplicate property")
	}
	if _, ok := c.objects[name]; ok {
		return parseErr(c.Name, name, "duplicate property")
	}
	return nil
}

// Namespace returns the base IRI all minted node URIs live under.
func (s *Schema) Namespace() string { return s.namespace }

// EventClass returns the name of the class every graph is rooted at.
func (s *Schema) EventClass() string { return s.eventClass }

// MessageProperty returns the event property that carries the raw log line.
func (s *Schema) MessageProperty() string { return s.messageProperty }

// Classes returns the classes in declaration order.
func (s *Schema) Classes() []*Class {
	return slices.Clone(s.classes)
}

// ClassNames returns the class names in declaration order.
func (s *Schema) ClassNames() []string {
	names := make([]string, 0, len(s.classes))
	for _, c := range s.classes {
		names = append(names, c.Name)
	}
	return names
}

// Class looks up a class by name.
func (s *Schema) Class(name string) (*Class, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// IsLegalProperty reports whether prop is a datatype property of class.
func (s *Schema) IsLegalProperty(class, prop string) bool {
	c, ok := s.byName[class]
	if !ok {
		return false
	}
	_, ok = c.datatypes[prop]
	return ok
}

// PropertyValueType returns the declared value type of a datatype property.
func (s *Schema) PropertyValueType(class, prop string) (ValueType, bool) {
	c, ok := s.byName[class]
	if !ok {
		return "", false
	}
	p, ok := c.datatypes[prop]
	if !ok {
		return "", false
	}
	return p.Type, true
}

// IsLegalEdge reports whether prop is declared on sourceClass with
// targetClass as its range.
func (s *Schema) IsLegalEdge(sourceClass, prop, targetClass string) bool {
	c, ok := s.byName[sourceClass]
	if !ok {
		return false
	}
	p, ok := c.objects[prop]
	if !ok {
		return false
	}
	return p.Range == targetClass
}

// HasPrefix reports whether prop carries the prefix of class.
func (s *Schema) HasPrefix(class, prop string) bool {
	c, ok := s.byName[class]
	if !ok {
		return false
	}
	return strings.HasPrefix(prop, c.Prefix)
}

// DatatypePropertyNames returns every datatype property name of the schema,
// sorted and without duplicates.
func (s *Schema) DatatypePropertyNames() []string {
	var names []string
	for _, c := range s.classes {
		for _, p := range c.DatatypeProperties {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// ObjectPropertyNames returns every object property name of the schema,
// sorted and without duplicates.
func (s *Schema) ObjectPropertyNames() []string {
	var names []string
	for _, c := range s.classes {
		for _, p := range c.ObjectProperties {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}
