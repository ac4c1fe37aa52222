package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matijazezelj/arbor/pkg/models"
)

// Engine is the operation set shared by every tree encoding. N is the
// encoding's node pointer type.
//
// Structural fields (level, parent pointer, path, interval) are always
// derived by the engine; values supplied by the caller are ignored on
// Create and restored from storage on Update, as is the deleted flag.
type Engine[N models.Noder] interface {
	// Kind reports the encoding.
	Kind() models.Kind

	// Create inserts node as a root when parentID is nil, otherwise as the
	// last child of parentID.
	Create(ctx context.Context, node N, parentID *int64) (N, error)

	// Update rewrites the payload of an existing node.
	Update(ctx context.Context, node N) (N, error)

	// Delete removes a node. Engines refuse internal nodes with
	// ErrHasChildren, except NestedSetEngine which removes the subtree.
	Delete(ctx context.Context, id int64) error

	// Get returns a node or ErrNodeNotFound.
	Get(ctx context.Context, id int64) (N, error)

	// All returns every node.
	All(ctx context.Context) ([]N, error)

	// Children returns the direct children of parentID.
	Children(ctx context.Context, parentID int64) ([]N, error)

	// Descendants returns every node below id, excluding id.
	Descendants(ctx context.Context, id int64) ([]N, error)

	// Ancestors returns every node above id, excluding id.
	Ancestors(ctx context.Context, id int64) ([]N, error)

	// BuildTree assembles the stored rows into a forest.
	BuildTree(ctx context.Context) ([]*models.Tree[N], error)

	// Check verifies the encoding's structural invariants.
	Check(ctx context.Context) (*Report, error)
}

var (
	_ Engine[*models.AdjacencyNode]    = (*AdjacencyEngine)(nil)
	_ Engine[*models.ClosureNode]      = (*ClosureEngine)(nil)
	_ Engine[*models.MaterializedNode] = (*MaterializedEngine)(nil)
	_ Engine[*models.NestedSetNode]    = (*NestedSetEngine)(nil)
	_ Engine[*models.EnumeratedNode]   = (*EnumerationEngine)(nil)
)

func newTree[N models.Noder](n N) *models.Tree[N] {
	return &models.Tree[N]{Node: n, Children: []*models.Tree[N]{}}
}

// Walk visits every node of a forest depth-first, passing the parent's id
// (nil for roots).
func Walk[N models.Noder](forest []*models.Tree[N], fn func(node N, parentID *int64)) {
	var visit func(t *models.Tree[N], parentID *int64)
	visit = func(t *models.Tree[N], parentID *int64) {
		fn(t.Node, parentID)
		id := t.Node.Base().ID
		for _, c := range t.Children {
			visit(c, &id)
		}
	}
	for _, root := range forest {
		visit(root, nil)
	}
}

func ptr[T any](v T) *T { return &v }

// mutate runs fn while holding the tree's mutation lock and records metrics.
func (o options) mutate(ctx context.Context, kind models.Kind, op string, fn func() error) error {
	start := time.Now()

	unlock, err := o.locker.Lock(ctx)
	if err != nil {
		err = fmt.Errorf("acquiring %s tree lock: %w", kind, err)
		observe(kind, op, start, err)
		return err
	}
	defer unlock()

	err = fn()
	observe(kind, op, start, err)
	if err != nil {
		o.logger.Debug("tree mutation failed", "kind", kind, "op", op, "error", err)
	}
	return err
}

func notFound(kind models.Kind, id int64) error {
	return fmt.Errorf("%s node %d: %w", kind, id, ErrNodeNotFound)
}

func parentNotFound(kind models.Kind, id int64) error {
	return fmt.Errorf("%s parent %d: %w", kind, id, ErrParentNotFound)
}

func hasChildren(kind models.Kind, id int64) error {
	return fmt.Errorf("deleting %s node %d: %w", kind, id, ErrHasChildren)
}

var errNilNode = errors.New("node is nil")
