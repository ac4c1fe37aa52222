package tree

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matijazezelj/arbor/pkg/models"
)

const enumerationSep = "/"

// EnumerationEngine stores each node's ancestor ids as a delimited path,
// "/" for roots and "/1/4/" for a node below 4 below 1.
type EnumerationEngine struct {
	store EnumerationStore
	opts  options
}

// NewEnumerationEngine creates an engine over store.
func NewEnumerationEngine(store EnumerationStore, opts ...Option) *EnumerationEngine {
	return &EnumerationEngine{store: store, opts: buildOptions(opts)}
}

// Kind returns models.KindEnumeration.
func (e *EnumerationEngine) Kind() models.Kind { return models.KindEnumeration }

// Create inserts node as a root or below parentID.
func (e *EnumerationEngine) Create(ctx context.Context, node *models.EnumeratedNode, parentID *int64) (*models.EnumeratedNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s EnumerationStore) error {
			node.Path, node.Level = enumerationSep, 0
			if parentID != nil {
				parent, err := s.SelectByID(ctx, *parentID)
				if err != nil {
					return fmt.Errorf("loading parent: %w", err)
				}
				if parent == nil {
					return parentNotFound(e.Kind(), *parentID)
				}
				node.Path = childPath(parent)
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

	e.opts.logger.Debug("node created", "kind", e.Kind(), "id", node.ID, "path", node.Path)
	return node, nil
}

func childPath(parent *models.EnumeratedNode) string {
	return parent.Path + strconv.FormatInt(parent.ID, 10) + enumerationSep
}

// pathIDs parses "/1/4/" into [1 4].
func pathIDs(path string) ([]int64, error) {
	trimmed := strings.Trim(path, enumerationSep)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, enumerationSep)
	ids := make([]int64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing path %q: %w", path, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Update rewrites the payload of node. Path and level are preserved.
func (e *EnumerationEngine) Update(ctx context.Context, node *models.EnumeratedNode) (*models.EnumeratedNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var updated *models.EnumeratedNode
	err := e.opts.mutate(ctx, e.Kind(), "update", func() error {
		return e.store.Atomic(ctx, func(s EnumerationStore) error {
			old, err := s.SelectByID(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if old == nil {
				return notFound(e.Kind(), node.ID)
			}
			node.Path, node.Level = old.Path, old.Level
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

// Delete removes a leaf node.
func (e *EnumerationEngine) Delete(ctx context.Context, id int64) error {
	return e.opts.mutate(ctx, e.Kind(), "delete", func() error {
		return e.store.Atomic(ctx, func(s EnumerationStore) error {
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
func (e *EnumerationEngine) Get(ctx context.Context, id int64) (*models.EnumeratedNode, error) {
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
func (e *EnumerationEngine) All(ctx context.Context) ([]*models.EnumeratedNode, error) {
	return e.store.SelectAll(ctx)
}

// Children returns nodes whose path is parentID's path extended by parentID.
func (e *EnumerationEngine) Children(ctx context.Context, parentID int64) ([]*models.EnumeratedNode, error) {
	if _, err := e.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return e.store.SelectByParentID(ctx, parentID)
}

// Descendants returns every node whose path mentions id.
func (e *EnumerationEngine) Descendants(ctx context.Context, id int64) ([]*models.EnumeratedNode, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.SelectDescendants(ctx, id)
}

// Ancestors resolves the ids listed in id's path, root first.
func (e *EnumerationEngine) Ancestors(ctx context.Context, id int64) ([]*models.EnumeratedNode, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := pathIDs(n.Path)
	if err != nil {
		return nil, err
	}
	return e.store.SelectByIDs(ctx, ids)
}

// BuildTree attaches each node to the last id of its path.
func (e *EnumerationEngine) BuildTree(ctx context.Context) ([]*models.Tree[*models.EnumeratedNode], error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}

	trees := make(map[int64]*models.Tree[*models.EnumeratedNode], len(nodes))
	for _, n := range nodes {
		trees[n.ID] = newTree(n)
	}

	roots := []*models.Tree[*models.EnumeratedNode]{}
	for _, n := range nodes {
		t := trees[n.ID]
		if ids, err := pathIDs(n.Path); err == nil && len(ids) > 0 {
			if parent, ok := trees[ids[len(ids)-1]]; ok {
				parent.Children = append(parent.Children, t)
				continue
			}
		}
		roots = append(roots, t)
	}
	return roots, nil
}

// Check verifies that each path is its parent's path plus the parent id.
func (e *EnumerationEngine) Check(ctx context.Context) (*Report, error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	return checkEnumeration(nodes), nil
}
