package tree

import (
	"context"
	"fmt"

	"github.com/matijazezelj/arbor/pkg/models"
)

// ClosureEngine stores one path entry per (ancestor, descendant) pair so
// that subtree and lineage queries are single lookups.
type ClosureEngine struct {
	store ClosureStore
	opts  options
}

// NewClosureEngine creates an engine over store.
func NewClosureEngine(store ClosureStore, opts ...Option) *ClosureEngine {
	return &ClosureEngine{store: store, opts: buildOptions(opts)}
}

// Kind returns models.KindClosure.
func (e *ClosureEngine) Kind() models.Kind { return models.KindClosure }

// Create inserts node and its self entry, plus one entry per ancestor of
// parentID with the distance incremented by one.
func (e *ClosureEngine) Create(ctx context.Context, node *models.ClosureNode, parentID *int64) (*models.ClosureNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var entries int
	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s ClosureStore) error {
			node.Level = 0
			var lineage []models.PathEntry
			if parentID != nil {
				parent, err := s.SelectByID(ctx, *parentID)
				if err != nil {
					return fmt.Errorf("loading parent: %w", err)
				}
				if parent == nil {
					return parentNotFound(e.Kind(), *parentID)
				}
				node.Level = parent.Level + 1

				lineage, err = s.SelectAncestorPaths(ctx, parent.ID)
				if err != nil {
					return fmt.Errorf("loading parent lineage: %w", err)
				}
			}

			if err := s.Insert(ctx, node); err != nil {
				return fmt.Errorf("inserting node: %w", err)
			}

			paths := make([]models.PathEntry, 0, len(lineage)+1)
			paths = append(paths, models.PathEntry{AncestorID: node.ID, DescendantID: node.ID})
			for _, p := range lineage {
				paths = append(paths, models.PathEntry{
					AncestorID:   p.AncestorID,
					DescendantID: node.ID,
					Distance:     p.Distance + 1,
				})
			}
			if err := s.BatchInsertPaths(ctx, paths); err != nil {
				return fmt.Errorf("inserting paths: %w", err)
			}
			entries = len(paths)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.opts.logger.Debug("node created", "kind", e.Kind(), "id", node.ID, "parentID", parentID, "paths", entries)
	return node, nil
}

// Update rewrites the payload of node. Level is preserved.
func (e *ClosureEngine) Update(ctx context.Context, node *models.ClosureNode) (*models.ClosureNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var updated *models.ClosureNode
	err := e.opts.mutate(ctx, e.Kind(), "update", func() error {
		return e.store.Atomic(ctx, func(s ClosureStore) error {
			old, err := s.SelectByID(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if old == nil {
				return notFound(e.Kind(), node.ID)
			}
			node.Level = old.Level
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

// Delete removes a leaf node together with every path entry naming it.
func (e *ClosureEngine) Delete(ctx context.Context, id int64) error {
	return e.opts.mutate(ctx, e.Kind(), "delete", func() error {
		return e.store.Atomic(ctx, func(s ClosureStore) error {
			node, err := s.SelectByID(ctx, id)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if node == nil {
				return notFound(e.Kind(), id)
			}
			children, err := s.SelectChildIDs(ctx, id)
			if err != nil {
				return fmt.Errorf("loading children: %w", err)
			}
			if len(children) > 0 {
				return hasChildren(e.Kind(), id)
			}
			if err := s.Delete(ctx, id); err != nil {
				return fmt.Errorf("deleting node: %w", err)
			}
			if err := s.DeletePathsByNodeID(ctx, id); err != nil {
				return fmt.Errorf("deleting paths: %w", err)
			}
			return nil
		})
	})
}

// Get returns the node with the given id.
func (e *ClosureEngine) Get(ctx context.Context, id int64) (*models.ClosureNode, error) {
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
func (e *ClosureEngine) All(ctx context.Context) ([]*models.ClosureNode, error) {
	return e.store.SelectAll(ctx)
}

// Children resolves distance-1 entries below parentID.
func (e *ClosureEngine) Children(ctx context.Context, parentID int64) ([]*models.ClosureNode, error) {
	if _, err := e.Get(ctx, parentID); err != nil {
		return nil, err
	}
	ids, err := e.store.SelectChildIDs(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return e.store.SelectByIDs(ctx, ids)
}

// Descendants resolves every entry with id as ancestor, the self entry aside.
func (e *ClosureEngine) Descendants(ctx context.Context, id int64) ([]*models.ClosureNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := e.store.SelectDescendantIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store.SelectByIDs(ctx, without(ids, id))
}

// Ancestors resolves every entry with id as descendant, the self entry
// aside, root first.
func (e *ClosureEngine) Ancestors(ctx context.Context, id int64) ([]*models.ClosureNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := e.store.SelectAncestorIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store.SelectByIDs(ctx, without(ids, id))
}

// BuildTree links nodes through their distance-1 entries.
func (e *ClosureEngine) BuildTree(ctx context.Context) ([]*models.Tree[*models.ClosureNode], error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.SelectPathsByDistance(ctx, 1)
	if err != nil {
		return nil, err
	}

	parentOf := make(map[int64]int64, len(edges))
	for _, p := range edges {
		parentOf[p.DescendantID] = p.AncestorID
	}

	trees := make(map[int64]*models.Tree[*models.ClosureNode], len(nodes))
	for _, n := range nodes {
		trees[n.ID] = newTree(n)
	}

	roots := []*models.Tree[*models.ClosureNode]{}
	for _, n := range nodes {
		t := trees[n.ID]
		if pid, ok := parentOf[n.ID]; ok {
			if parent, ok := trees[pid]; ok {
				parent.Children = append(parent.Children, t)
				continue
			}
		}
		roots = append(roots, t)
	}
	return roots, nil
}

// Check verifies that the path entries are exactly the transitive closure
// of the distance-1 entries.
func (e *ClosureEngine) Check(ctx context.Context) (*Report, error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := e.store.SelectAllPaths(ctx)
	if err != nil {
		return nil, err
	}
	return checkClosure(nodes, paths), nil
}

func without(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
