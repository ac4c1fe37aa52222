package tree

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/matijazezelj/arbor/pkg/models"
)

// Outline is one node of a YAML tree description:
//
//	- name: catalog
//	  children:
//	    - name: books
//	    - name: music
//	      disabled: true
type Outline struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Disabled    bool      `yaml:"disabled"`
	Children    []Outline `yaml:"children"`
}

// Size returns the number of nodes described, including o.
func (o Outline) Size() int {
	n := 1
	for _, c := range o.Children {
		n += c.Size()
	}
	return n
}

// ParseOutline reads either a single outline or a sequence of them.
func ParseOutline(r io.Reader) ([]Outline, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing outline: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var outlines []Outline
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&outlines); err != nil {
			return nil, fmt.Errorf("decoding outline: %w", err)
		}
	case yaml.MappingNode:
		var o Outline
		if err := root.Decode(&o); err != nil {
			return nil, fmt.Errorf("decoding outline: %w", err)
		}
		outlines = []Outline{o}
	default:
		return nil, fmt.Errorf("outline must be a mapping or a sequence (line %d)", root.Line)
	}

	if err := validateOutline(outlines, "$"); err != nil {
		return nil, err
	}
	return outlines, nil
}

func validateOutline(outlines []Outline, at string) error {
	for i, o := range outlines {
		where := fmt.Sprintf("%s[%d]", at, i)
		if o.Name == "" {
			return fmt.Errorf("outline %s: name is required", where)
		}
		if err := validateOutline(o.Children, where+".children"); err != nil {
			return err
		}
	}
	return nil
}

// nodePtr is satisfied by the pointer types of every encoding's node.
type nodePtr[T any] interface {
	*T
	models.Noder
}

// NewNode allocates an encoding's node carrying base as its payload.
func NewNode[T any, P nodePtr[T]](base models.Node) P {
	p := P(new(T))
	*p.Base() = base
	return p
}

// Import creates outlines depth-first through e, parents before children,
// and returns the number of nodes created. On error, nodes created so far
// are kept.
func Import[T any, P nodePtr[T]](ctx context.Context, e Engine[P], outlines []Outline) (int, error) {
	created := 0
	var create func(o Outline, parentID *int64) error
	create = func(o Outline, parentID *int64) error {
		n := NewNode[T, P](models.Node{Name: o.Name, Description: o.Description, Disabled: o.Disabled})
		n, err := e.Create(ctx, n, parentID)
		if err != nil {
			return fmt.Errorf("creating %q: %w", o.Name, err)
		}
		created++

		id := n.Base().ID
		for _, c := range o.Children {
			if err := create(c, &id); err != nil {
				return err
			}
		}
		return nil
	}

	for _, o := range outlines {
		if err := create(o, nil); err != nil {
			return created, err
		}
	}
	return created, nil
}
