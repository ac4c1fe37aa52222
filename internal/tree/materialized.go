package tree

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matijazezelj/arbor/pkg/models"
)

// MaterializedEngine stores each node's lineage as a string of fixed-width
// sibling ordinals. The root holds the root segment; a child appends the
// separator and its ordinal to the parent's path.
type MaterializedEngine struct {
	store MaterializedStore
	opts  options
}

// NewMaterializedEngine creates an engine over store.
func NewMaterializedEngine(store MaterializedStore, opts ...Option) *MaterializedEngine {
	return &MaterializedEngine{store: store, opts: buildOptions(opts)}
}

// Kind returns models.KindMaterialized.
func (e *MaterializedEngine) Kind() models.Kind { return models.KindMaterialized }

// Create inserts node as the root, or as the next ordinal below parentID.
// Only one root exists; a second one fails with ErrRootAlreadyExists.
func (e *MaterializedEngine) Create(ctx context.Context, node *models.MaterializedNode, parentID *int64) (*models.MaterializedNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	err := e.opts.mutate(ctx, e.Kind(), "create", func() error {
		return e.store.Atomic(ctx, func(s MaterializedStore) error {
			if parentID == nil {
				existing, err := s.SelectByPath(ctx, e.opts.rootSegment)
				if err != nil {
					return fmt.Errorf("loading root: %w", err)
				}
				if existing != nil {
					return fmt.Errorf("%s root %d: %w", e.Kind(), existing.ID, ErrRootAlreadyExists)
				}
				node.Path = e.opts.rootSegment
				node.Level = 0
			} else {
				parent, err := s.SelectByID(ctx, *parentID)
				if err != nil {
					return fmt.Errorf("loading parent: %w", err)
				}
				if parent == nil {
					return parentNotFound(e.Kind(), *parentID)
				}
				segment, err := e.nextSegment(ctx, s, parent)
				if err != nil {
					return err
				}
				node.Path = parent.Path + e.opts.separator + segment
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

// nextSegment picks the ordinal after both the sibling count and the
// highest ordinal in use, so a deleted middle sibling never causes reuse
// of a live path.
func (e *MaterializedEngine) nextSegment(ctx context.Context, s MaterializedStore, parent *models.MaterializedNode) (string, error) {
	siblings, err := s.SelectByParentID(ctx, parent.ID)
	if err != nil {
		return "", fmt.Errorf("loading siblings: %w", err)
	}

	ordinal := len(siblings) + 1
	for _, sib := range siblings {
		if n, ok := e.lastSegment(sib.Path); ok && n >= ordinal {
			ordinal = n + 1
		}
	}

	if limit := maxOrdinal(e.opts.segmentWidth); ordinal > limit {
		return "", fmt.Errorf("child %d of %s node %d exceeds %d: %w", ordinal, e.Kind(), parent.ID, limit, ErrSegmentOverflow)
	}
	return fmt.Sprintf("%0*d", e.opts.segmentWidth, ordinal), nil
}

func (e *MaterializedEngine) lastSegment(path string) (int, bool) {
	i := strings.LastIndex(path, e.opts.separator)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(path[i+len(e.opts.separator):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func maxOrdinal(width int) int {
	limit := 1
	for range width {
		limit *= 10
	}
	return limit - 1
}

// Update rewrites the payload of node. Path and level are preserved.
func (e *MaterializedEngine) Update(ctx context.Context, node *models.MaterializedNode) (*models.MaterializedNode, error) {
	if node == nil {
		return nil, errNilNode
	}

	var updated *models.MaterializedNode
	err := e.opts.mutate(ctx, e.Kind(), "update", func() error {
		return e.store.Atomic(ctx, func(s MaterializedStore) error {
			old, err := s.SelectByID(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if old == nil {
				return notFound(e.Kind(), node.ID)
			}
			node.Path = old.Path
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

// Delete removes a node with no path extending its own.
func (e *MaterializedEngine) Delete(ctx context.Context, id int64) error {
	return e.opts.mutate(ctx, e.Kind(), "delete", func() error {
		return e.store.Atomic(ctx, func(s MaterializedStore) error {
			node, err := s.SelectByID(ctx, id)
			if err != nil {
				return fmt.Errorf("loading node: %w", err)
			}
			if node == nil {
				return notFound(e.Kind(), id)
			}
			below, err := s.SelectByPathPrefix(ctx, node.Path+e.opts.separator)
			if err != nil {
				return fmt.Errorf("loading descendants: %w", err)
			}
			if len(below) > 0 {
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
func (e *MaterializedEngine) Get(ctx context.Context, id int64) (*models.MaterializedNode, error) {
	n, err := e.store.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, notFound(e.Kind(), id)
	}
	return n, nil
}

// All returns every node in path order.
func (e *MaterializedEngine) All(ctx context.Context) ([]*models.MaterializedNode, error) {
	return e.store.SelectAll(ctx)
}

// Children returns nodes one level below parentID sharing its path prefix.
func (e *MaterializedEngine) Children(ctx context.Context, parentID int64) ([]*models.MaterializedNode, error) {
	if _, err := e.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return e.store.SelectByParentID(ctx, parentID)
}

// Descendants returns every node whose path extends id's path.
func (e *MaterializedEngine) Descendants(ctx context.Context, id int64) ([]*models.MaterializedNode, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store.SelectByPathPrefix(ctx, n.Path+e.opts.separator)
}

// Ancestors returns every node whose path is a proper prefix of id's path.
func (e *MaterializedEngine) Ancestors(ctx context.Context, id int64) ([]*models.MaterializedNode, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store.SelectAncestorsByPath(ctx, n.Path, e.opts.separator)
}

// BuildTree attaches each node to the node holding its path minus the last
// segment.
func (e *MaterializedEngine) BuildTree(ctx context.Context) ([]*models.Tree[*models.MaterializedNode], error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*models.Tree[*models.MaterializedNode], len(nodes))
	for _, n := range nodes {
		byPath[n.Path] = newTree(n)
	}

	roots := []*models.Tree[*models.MaterializedNode]{}
	for _, n := range nodes {
		t := byPath[n.Path]
		if i := strings.LastIndex(n.Path, e.opts.separator); i >= 0 && n.Level > 0 {
			if parent, ok := byPath[n.Path[:i]]; ok {
				parent.Children = append(parent.Children, t)
				continue
			}
		}
		roots = append(roots, t)
	}
	return roots, nil
}

// Check verifies path shape, parent paths and levels.
func (e *MaterializedEngine) Check(ctx context.Context) (*Report, error) {
	nodes, err := e.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	return checkMaterialized(nodes, e.opts.rootSegment, e.opts.separator, e.opts.segmentWidth), nil
}
