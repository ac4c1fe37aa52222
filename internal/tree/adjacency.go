package tree

import (
	"context"
	"fmt"
	"slices"

	"github.com/matijazezelj/arbor/pkg/models"
)

// AdjacencyEngine stores each node with a pointer to its parent. Inserts
// touch one row; structural queries walk the pointers.
type AdjacencyEngine struct {
	store AdjacencyStore
	opts  options
}

// NewAdjacencyEngine creates an engine over store.
func NewAdjacencyEngine(store AdjacencyStore, opts ...Option) *AdjacencyEngine {
	return &AdjacencyEngine{store: store, opts: buildOptions(opts)}
}

// Kind returns models.KindAdjacency.
func (e *AdjacencyEngine) Kind() models.Kind { return models.KindAdjacency }

// Create inserts node under parentID, or as a root when parentID is nil.
func (e *AdjacencyEngine) Create(ctx context.Context, node *models.AdjacencyNode, parentID *int64) (*models.AdjacencyNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s AdjacencyStore) error {
			node.ParentID = nil
			node.Level = 0
			if parentID != nil {
				parent, err := s.SelectByID(ctx, *parentID)
				if err != nil {
					return fmt.Errorf("loading parent: %w", err)
				}
				if parent == nil {
					return parentNotFound(e.Kind(), *parentID)
				}
				node.ParentID = ptr(parent.ID)
				node.Level = parent.Level + 1
			}
			if err := s.Insert(ctx, node); err != nil {
				return fmt.Errorf("inserting node: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.opts.logger.Debug("node created", "kind", e.Kind(), "id", node.ID, "parentID", parentID, "level", node.Level)
	return node, nil
}

// Update rewrites the payload of node. A non-nil ParentID different from
// the stored one reparents the node and recomputes its level; descendant
// levels follow only when level cascading is enabled.
func (e *AdjacencyEngine) Update(ctx context.Context, node *models.AdjacencyNode) (*models.AdjacencyNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var updated *models.AdjacencyNode
	err := e.opts.mutate(ctx, e.Kind(), "update", func() error {
		return e.store.Atomic(ctx, func(s AdjacencyStore) error {
			old, err := s.SelectByID(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if old == nil {
				return notFound(e.Kind(), node.ID)
			}

			node.Level = old.Level
			node.CreatedAt, node.Deleted = old.CreatedAt, old.Deleted
			moved := node.ParentID != nil && (old.ParentID == nil || *node.ParentID != *old.ParentID)
			if !moved {
				node.ParentID = old.ParentID
			}

			var descendants []*models.AdjacencyNode
			if moved {
				if *node.ParentID == node.ID {
					return fmt.Errorf("moving %s node %d: %w", e.Kind(), node.ID, ErrInvalidMove)
				}
				parent, err := s.SelectByID(ctx, *node.ParentID)
				if err != nil {
					return fmt.Errorf("loading parent: %w", err)
				}
				if parent == nil {
					return parentNotFound(e.Kind(), *node.ParentID)
				}
				descendants, err = s.SelectDescendants(ctx, node.ID)
				if err != nil {
					return fmt.Errorf("loading descendants: %w", err)
				}
				if slices.ContainsFunc(descendants, func(d *models.AdjacencyNode) bool { return d.ID == parent.ID }) {
					return fmt.Errorf("moving %s node %d under %d: %w", e.Kind(), node.ID, parent.ID, ErrInvalidMove)
				}
				node.Level = parent.Level + 1
			}

			if err := s.Update(ctx, node); err != nil {
				return fmt.Errorf("updating node: %w", err)
			}

			if delta := node.Level - old.Level; e.opts.cascadeLevels && delta != 0 {
				for _, d := range descendants {
					if err := s.UpdateLevel(ctx, d.ID, d.Level+delta); err != nil {
						return fmt.Errorf("cascading level to %d: %w", d.ID, err)
					}
				}
				e.opts.logger.Debug("levels cascaded", "kind", e.Kind(), "id", node.ID, "descendants", len(descendants), "delta", delta)
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

// Delete removes a leaf node.
func (e *AdjacencyEngine) Delete(ctx context.Context, id int64) error {
	return e.opts.mutate(ctx, e.Kind(), "delete", func() error {
		return e.store.Atomic(ctx, func(s AdjacencyStore) error {
			node, err := s.SelectByID(ctx, id)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if node == nil {
				return notFound(e.Kind(), id)
			}
			children, err := s.SelectByParentID(ctx, id)
			if err != nil {
				return fmt.Errorf("loading children: %w", err)
			}
			if len(children) > 0 {
				return hasChildren(e.Kind(), id)
			}
			if err := s.Delete(ctx, id); err != nil {
				return fmt.Errorf("deleting node: %w", err)
			}
			return nil
		})
	})
}

// Get returns the node with the given id.
func (e *AdjacencyEngine) Get(ctx context.Context, id int64) (*models.AdjacencyNode, error) {
	n, err := e.store.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, notFound(e.Kind(), id)
	}
	return n, nil
}

// All returns every node ordered by level.
func (e *AdjacencyEngine) All(ctx context.Context) ([]*models.AdjacencyNode, error) {
	return e.store.SelectAll(ctx)
}

// Children returns the direct children of parentID.
func (e *AdjacencyEngine) Children(ctx context.Context, parentID int64) ([]*models.AdjacencyNode, error) {
	if _, err := e.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return e.store.SelectByParentID(ctx, parentID)
}

// Descendants delegates the recursive walk to storage.
func (e *AdjacencyEngine) Descendants(ctx context.Context, id int64) ([]*models.AdjacencyNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.SelectDescendants(ctx, id)
}

// Ancestors follows parent pointers upward and returns them root first.
func (e *AdjacencyEngine) Ancestors(ctx context.Context, id int64) ([]*models.AdjacencyNode, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{n.ID: true}
	var ancestors []*models.AdjacencyNode
	for n.ParentID != nil && !seen[*n.ParentID] {
		parent, err := e.store.SelectByID(ctx, *n.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		seen[parent.ID] = true
		ancestors = append(ancestors, parent)
		n = parent
	}

	slices.Reverse(ancestors)
	return ancestors, nil
}

// BuildTree attaches every node to its parent in one pass. Nodes whose
// parent cannot be resolved become roots.
func (e *AdjacencyEngine) BuildTree(ctx context.Context) ([]*models.Tree[*models.AdjacencyNode], error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}

	trees := make(map[int64]*models.Tree[*models.AdjacencyNode], len(nodes))
	for _, n := range nodes {
		trees[n.ID] = newTree(n)
	}

	roots := []*models.Tree[*models.AdjacencyNode]{}
	for _, n := range nodes {
		t := trees[n.ID]
		if n.ParentID != nil {
			if parent, ok := trees[*n.ParentID]; ok {
				parent.Children = append(parent.Children, t)
				continue
			}
		}
		roots = append(roots, t)
	}
	return roots, nil
}

// Check verifies parent pointers and levels.
func (e *AdjacencyEngine) Check(ctx context.Context) (*Report, error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	return checkAdjacency(nodes), nil
}
