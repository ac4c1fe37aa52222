package tree

import (
	"context"
	"fmt"

	"github.com/matijazezelj/arbor/pkg/models"
)

// NestedSetEngine stores each subtree as the interval [lft, rgt]. Reads are
// range scans; every insert or delete shifts the endpoints to its right.
type NestedSetEngine struct {
	store NestedSetStore
	opts  options
}

// NewNestedSetEngine creates an engine over store.
func NewNestedSetEngine(store NestedSetStore, opts ...Option) *NestedSetEngine {
	return &NestedSetEngine{store: store, opts: buildOptions(opts)}
}

// Kind returns models.KindNested.
func (e *NestedSetEngine) Kind() models.Kind { return models.KindNested }

// Create dispatches to CreateRoot or CreateChild.
func (e *NestedSetEngine) Create(ctx context.Context, node *models.NestedSetNode, parentID *int64) (*models.NestedSetNode, error) {
	if parentID == nil {
		return e.CreateRoot(ctx, node)
	}
	return e.CreateChild(ctx, node, *parentID)
}

// CreateRoot inserts node at [1, 2]. It fails with ErrRootAlreadyExists
// when any level-0 node is stored.
func (e *NestedSetEngine) CreateRoot(ctx context.Context, node *models.NestedSetNode) (*models.NestedSetNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s NestedSetStore) error {
			all, err := s.SelectAll(ctx)
			if err != nil {
				return fmt.Errorf("loading nodes: %w", err)
			}
			for _, n := range all {
				if n.Level == 0 {
					return fmt.Errorf("%s root %d: %w", e.Kind(), n.ID, ErrRootAlreadyExists)
				}
			}

			node.Lft, node.Rgt, node.Level = 1, 2, 0
			if err := s.Insert(ctx, node); err != nil {
				return fmt.Errorf("inserting root: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.opts.logger.Debug("root created", "kind", e.Kind(), "id", node.ID)
	return node, nil
}

// CreateChild opens a gap of two at the parent's right endpoint and places
// node in it as the parent's last child.
func (e *NestedSetEngine) CreateChild(ctx context.Context, node *models.NestedSetNode, parentID int64) (*models.NestedSetNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var shifted [2]int64
	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s NestedSetStore) error {
			parent, err := s.SelectByID(ctx, parentID)
			if err != nil {
				return fmt.Errorf("loading parent: %w", err)
			}
			if parent == nil {
				return parentNotFound(e.Kind(), parentID)
			}

			r := parent.Rgt
			if shifted, err = shift(ctx, s, r, r, 2); err != nil {
				return err
			}

			node.Lft, node.Rgt, node.Level = r, r+1, parent.Level+1
			if err := s.Insert(ctx, node); err != nil {
				return fmt.Errorf("inserting node: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	recordShift(shifted)
	e.opts.logger.Debug("node created", "kind", e.Kind(), "id", node.ID, "parentID", parentID,
		"lft", node.Lft, "rgt", node.Rgt, "shiftedRgt", shifted[1], "shiftedLft", shifted[0])
	return node, nil
}

// shift moves rgt >= rgtFrom and lft > lftAfter by delta, in that order.
func shift(ctx context.Context, s NestedSetStore, rgtFrom, lftAfter, delta int) ([2]int64, error) {
	var n [2]int64
	var err error
	if n[1], err = s.ShiftRight(ctx, rgtFrom, delta); err != nil {
		return n, fmt.Errorf("shifting rgt: %w", err)
	}
	if n[0], err = s.ShiftLeft(ctx, lftAfter, delta); err != nil {
		return n, fmt.Errorf("shifting lft: %w", err)
	}
	return n, nil
}

func recordShift(n [2]int64) {
	shiftedRowsTotal.WithLabelValues("lft").Add(float64(n[0]))
	shiftedRowsTotal.WithLabelValues("rgt").Add(float64(n[1]))
}

// Update rewrites the payload of node. Interval and level are preserved.
func (e *NestedSetEngine) Update(ctx context.Context, node *models.NestedSetNode) (*models.NestedSetNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var updated *models.NestedSetNode
	err := e.opts.mutate(ctx, e.Kind(), "update", func() error {
		return e.store.Atomic(ctx, func(s NestedSetStore) error {
			old, err := s.SelectByID(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if old == nil {
				return notFound(e.Kind(), node.ID)
			}
			node.Lft, node.Rgt, node.Level = old.Lft, old.Rgt, old.Level
			node.CreatedAt, node.Deleted = old.CreatedAt, old.Deleted
			if err := s.Update(ctx, node); err != nil {
				return fmt.Errorf("updating node: %w", err)
			}
			updated, err = s.SelectByID(ctx, node.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes id and its whole subtree, then closes the gap so the
// remaining endpoints stay contiguous.
func (e *NestedSetEngine) Delete(ctx context.Context, id int64) error {
	var removed int
	var shifted [2]int64
	err := e.opts.mutate(ctx, e.Kind(), "delete", func() error {
		return e.store.Atomic(ctx, func(s NestedSetStore) error {
			node, err := s.SelectByID(ctx, id)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if node == nil {
				return notFound(e.Kind(), id)
			}

			descendants, err := s.SelectDescendants(ctx, id)
			if err != nil {
				return fmt.Errorf("loading descendants: %w", err)
			}
			for _, d := range descendants {
				if err := s.Delete(ctx, d.ID); err != nil {
					return fmt.Errorf("deleting descendant %d: %w", d.ID, err)
				}
			}
			if err := s.Delete(ctx, id); err != nil {
				return fmt.Errorf("deleting node: %w", err)
			}
			removed = len(descendants) + 1

			width := node.Rgt - node.Lft + 1
			shifted, err = shift(ctx, s, node.Rgt+1, node.Rgt, -width)
			return err
		})
	})
	if err != nil {
		return err
	}

	recordShift(shifted)
	e.opts.logger.Debug("subtree deleted", "kind", e.Kind(), "id", id, "removed", removed)
	return nil
}

// Get returns the node with the given id.
func (e *NestedSetEngine) Get(ctx context.Context, id int64) (*models.NestedSetNode, error) {
	n, err := e.store.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, notFound(e.Kind(), id)
	}
	return n, nil
}

// All returns every node in lft order.
func (e *NestedSetEngine) All(ctx context.Context) ([]*models.NestedSetNode, error) {
	return e.store.SelectAll(ctx)
}

// Children returns nodes one level below parentID inside its interval.
func (e *NestedSetEngine) Children(ctx context.Context, parentID int64) ([]*models.NestedSetNode, error) {
	if _, err := e.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return e.store.SelectByParentID(ctx, parentID)
}

// Descendants returns every node strictly inside id's interval.
func (e *NestedSetEngine) Descendants(ctx context.Context, id int64) ([]*models.NestedSetNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.SelectDescendants(ctx, id)
}

// Ancestors returns every node whose interval strictly encloses id's, root first.
func (e *NestedSetEngine) Ancestors(ctx context.Context, id int64) ([]*models.NestedSetNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.SelectAncestors(ctx, id)
}

// BuildTree walks nodes in lft order keeping the chain of open intervals on
// a stack. A node attaches to the innermost open interval one level up.
func (e *NestedSetEngine) BuildTree(ctx context.Context) ([]*models.Tree[*models.NestedSetNode], error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}

	roots := []*models.Tree[*models.NestedSetNode]{}
	var open []*models.Tree[*models.NestedSetNode]
	for _, n := range nodes {
		t := newTree(n)
		for len(open) > 0 && open[len(open)-1].Node.Rgt < n.Lft {
			open = open[:len(open)-1]
		}

		var parent *models.Tree[*models.NestedSetNode]
		for i := len(open) - 1; i >= 0; i-- {
			o := open[i].Node
			if o.Lft < n.Lft && o.Rgt > n.Rgt && o.Level == n.Level-1 {
				parent = open[i]
				break
			}
		}

		if parent != nil && n.Level > 0 {
			parent.Children = append(parent.Children, t)
		} else {
			roots = append(roots, t)
		}
		open = append(open, t)
	}
	return roots, nil
}

// Check verifies intervals, levels and endpoint contiguity.
func (e *NestedSetEngine) Check(ctx context.Context) (*Report, error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	return checkNested(nodes), nil
}
