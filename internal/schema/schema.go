// Package schema loads the target extraction schema and flattens it into the
// ordered list of leaf field paths requested from the extraction engine.
package schema

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/submission-intake/internal/fieldpath"
)

//go:embed default.yaml
var defaultYAML []byte

// Kind is the shape of a schema node.
type Kind string

const (
	KindField  Kind = "field"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Node is one element of the schema tree. Object children keep document order.
type Node struct {
	Kind        Kind
	Name        string
	Description string
	Children    []*Node
	Item        *Node
}

// Schema is the root object of the target schema.
type Schema struct {
	Root *Node
}

// Field is one flattened leaf.
type Field struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Default returns the embedded commercial property schema.
func Default() (*Schema, error) {
	return Parse(defaultYAML)
}

// Load reads a schema from path, or returns Default when path is empty.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Parse builds a Schema from YAML. A scalar value is a leaf, a mapping is an
// object and a single-item sequence is an array of that item.
func Parse(data []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "schema: parse yaml")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, eris.New("schema: empty document")
	}
	root, err := buildNode("", doc.Content[0])
	if err != nil {
		return nil, err
	}
	if root.Kind != KindObject {
		return nil, eris.New("schema: root must be a mapping")
	}
	if len(root.Children) == 0 {
		return nil, eris.New("schema: root has no fields")
	}
	return &Schema{Root: root}, nil
}

func buildNode(name string, n *yaml.Node) (*Node, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return &Node{Kind: KindField, Name: name, Description: n.Value}, nil
	case yaml.MappingNode:
		obj := &Node{Kind: KindObject, Name: name}
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if key == "" {
				return nil, eris.Errorf("schema: empty key under %q (line %d)", name, n.Content[i].Line)
			}
			if seen[key] {
				return nil, eris.Errorf("schema: duplicate key %q under %q", key, name)
			}
			seen[key] = true
			child, err := buildNode(key, n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.Children = append(obj.Children, child)
		}
		return obj, nil
	case yaml.SequenceNode:
		if len(n.Content) != 1 {
			return nil, eris.Errorf("schema: array %q must have exactly one item template (line %d)", name, n.Line)
		}
		item, err := buildNode(name, n.Content[0])
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindArray, Name: name, Item: item}, nil
	default:
		return nil, eris.Errorf("schema: unsupported node under %q (line %d)", name, n.Line)
	}
}

// Flatten returns every leaf path in document order. Arrays are represented
// by their first element.
func (s *Schema) Flatten() []Field {
	var out []Field
	walk(s.Root, fieldpath.Path{}, &out)
	return out
}

func walk(n *Node, at fieldpath.Path, out *[]Field) {
	switch n.Kind {
	case KindField:
		*out = append(*out, Field{Path: at.String(), Name: n.Name, Description: n.Description})
	case KindObject:
		for _, c := range n.Children {
			walk(c, at.Key(c.Name), out)
		}
	case KindArray:
		walk(n.Item, at.Index(0), out)
	}
}
