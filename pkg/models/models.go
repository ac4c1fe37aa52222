package models

import (
	"fmt"
	"time"
)

// Kind identifies a tree encoding.
type Kind string

// Supported tree encodings.
const (
	KindAdjacency    Kind = "adjacency"
	KindClosure      Kind = "closure"
	KindMaterialized Kind = "materialized"
	KindNested       Kind = "nested"
	KindEnumeration  Kind = "enumeration"
)

// Kinds returns every supported encoding in a stable order.
func Kinds() []Kind {
	return []Kind{KindAdjacency, KindClosure, KindMaterialized, KindNested, KindEnumeration}
}

// ParseKind validates a user-supplied encoding name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown tree kind %q", s)
}

// Node is the payload and bookkeeping shared by every encoding.
type Node struct {
	ID          int64     `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Level       int       `json:"level" yaml:"level"`
	Disabled    bool      `json:"disabled" yaml:"disabled"`
	Deleted     bool      `json:"deleted" yaml:"deleted"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Base returns the shared part of a node.
func (n *Node) Base() *Node { return n }

// Noder is implemented by every encoding's node type through the embedded Node.
type Noder interface {
	Base() *Node
}

// AdjacencyNode stores a pointer to its parent. ParentID is nil for roots.
type AdjacencyNode struct {
	Node     `yaml:",inline"`
	ParentID *int64 `json:"parent_id" yaml:"parent_id"`
}

// ClosureNode carries no structural fields; structure lives in PathEntry rows.
type ClosureNode struct {
	Node `yaml:",inline"`
}

// PathEntry is one (ancestor, descendant, distance) fact of a closure table.
// Distance 0 is the self entry, 1 a direct parent.
type PathEntry struct {
	AncestorID   int64 `json:"ancestor_id" yaml:"ancestor_id"`
	DescendantID int64 `json:"descendant_id" yaml:"descendant_id"`
	Distance     int   `json:"distance" yaml:"distance"`
}

// MaterializedNode stores its lineage as fixed-width sibling ordinals, e.g. "001.002.003".
type MaterializedNode struct {
	Node `yaml:",inline"`
	Path string `json:"path" yaml:"path"`
}

// NestedSetNode stores the interval [Lft, Rgt] spanned by its subtree.
type NestedSetNode struct {
	Node `yaml:",inline"`
	Lft  int `json:"lft" yaml:"lft"`
	Rgt  int `json:"rgt" yaml:"rgt"`
}

// EnumeratedNode stores the ids of its ancestors, e.g. "/1/4/".
type EnumeratedNode struct {
	Node `yaml:",inline"`
	Path string `json:"path" yaml:"path"`
}

// Tree is one node of an assembled forest.
type Tree[N Noder] struct {
	Node     N          `json:"node" yaml:"node"`
	Children []*Tree[N] `json:"children" yaml:"children"`
}

// Size returns the number of nodes in the subtree, including the receiver.
func (t *Tree[N]) Size() int {
	n := 1
	for _, c := range t.Children {
		n += c.Size()
	}
	return n
}
