package tree

import (
	"context"

	"github.com/matijazezelj/arbor/pkg/models"
)

// Storage collaborators. Each engine depends on exactly the primitives its
// algorithms need. Lookups by id return (nil, nil) when the row is absent.
//
// Atomic runs fn against a copy of the store bound to one transaction: every
// write fn issues commits together or not at all. A store already bound to a
// transaction runs fn inline.

// AdjacencyStore persists parent-pointer nodes.
type AdjacencyStore interface {
	Atomic(ctx context.Context, fn func(AdjacencyStore) error) error

	Insert(ctx context.Context, n *models.AdjacencyNode) error
	Update(ctx context.Context, n *models.AdjacencyNode) error
	Delete(ctx context.Context, id int64) error
	SelectByID(ctx context.Context, id int64) (*models.AdjacencyNode, error)
	SelectAll(ctx context.Context) ([]*models.AdjacencyNode, error)
	SelectByParentID(ctx context.Context, parentID int64) ([]*models.AdjacencyNode, error)
	// SelectDescendants resolves the subtree below id recursively in storage.
	SelectDescendants(ctx context.Context, id int64) ([]*models.AdjacencyNode, error)
	// UpdateLevel rewrites only the level column.
	UpdateLevel(ctx context.Context, id int64, level int) error
}

// ClosureStore persists closure-table nodes and their path entries.
type ClosureStore interface {
	Atomic(ctx context.Context, fn func(ClosureStore) error) error

	Insert(ctx context.Context, n *models.ClosureNode) error
	Update(ctx context.Context, n *models.ClosureNode) error
	Delete(ctx context.Context, id int64) error
	SelectByID(ctx context.Context, id int64) (*models.ClosureNode, error)
	SelectByIDs(ctx context.Context, ids []int64) ([]*models.ClosureNode, error)
	SelectAll(ctx context.Context) ([]*models.ClosureNode, error)

	InsertPath(ctx context.Context, p models.PathEntry) error
	BatchInsertPaths(ctx context.Context, paths []models.PathEntry) error
	// DeletePathsByNodeID removes entries naming id as ancestor or descendant.
	DeletePathsByNodeID(ctx context.Context, id int64) error
	// SelectAncestorPaths returns entries whose descendant is id, self entry included.
	SelectAncestorPaths(ctx context.Context, descendantID int64) ([]models.PathEntry, error)
	SelectAncestorIDs(ctx context.Context, descendantID int64) ([]int64, error)
	SelectDescendantIDs(ctx context.Context, ancestorID int64) ([]int64, error)
	SelectChildIDs(ctx context.Context, parentID int64) ([]int64, error)
	SelectPathsByDistance(ctx context.Context, distance int) ([]models.PathEntry, error)
	SelectAllPaths(ctx context.Context) ([]models.PathEntry, error)
}

// MaterializedStore persists nodes keyed by an ordinal path.
type MaterializedStore interface {
	Atomic(ctx context.Context, fn func(MaterializedStore) error) error

	Insert(ctx context.Context, n *models.MaterializedNode) error
	Update(ctx context.Context, n *models.MaterializedNode) error
	Delete(ctx context.Context, id int64) error
	SelectByID(ctx context.Context, id int64) (*models.MaterializedNode, error)
	SelectByPath(ctx context.Context, path string) (*models.MaterializedNode, error)
	SelectAll(ctx context.Context) ([]*models.MaterializedNode, error)
	SelectByParentID(ctx context.Context, parentID int64) ([]*models.MaterializedNode, error)
	// SelectByPathPrefix returns nodes whose path starts with prefix.
	SelectByPathPrefix(ctx context.Context, prefix string) ([]*models.MaterializedNode, error)
	// SelectAncestorsByPath returns nodes whose path followed by separator
	// is a prefix of path, root first.
	SelectAncestorsByPath(ctx context.Context, path, separator string) ([]*models.MaterializedNode, error)
}

// NestedSetStore persists nodes keyed by an interval.
type NestedSetStore interface {
	Atomic(ctx context.Context, fn func(NestedSetStore) error) error

	Insert(ctx context.Context, n *models.NestedSetNode) error
	Update(ctx context.Context, n *models.NestedSetNode) error
	Delete(ctx context.Context, id int64) error
	SelectByID(ctx context.Context, id int64) (*models.NestedSetNode, error)
	SelectAll(ctx context.Context) ([]*models.NestedSetNode, error)
	SelectByParentID(ctx context.Context, parentID int64) ([]*models.NestedSetNode, error)
	SelectDescendants(ctx context.Context, id int64) ([]*models.NestedSetNode, error)
	SelectAncestors(ctx context.Context, id int64) ([]*models.NestedSetNode, error)
	// ShiftLeft adds delta to lft of every node with lft > threshold.
	ShiftLeft(ctx context.Context, threshold, delta int) (int64, error)
	// ShiftRight adds delta to rgt of every node with rgt >= threshold.
	ShiftRight(ctx context.Context, threshold, delta int) (int64, error)
}

// EnumerationStore persists nodes keyed by their ancestor id list.
type EnumerationStore interface {
	Atomic(ctx context.Context, fn func(EnumerationStore) error) error

	Insert(ctx context.Context, n *models.EnumeratedNode) error
	Update(ctx context.Context, n *models.EnumeratedNode) error
	Delete(ctx context.Context, id int64) error
	SelectByID(ctx context.Context, id int64) (*models.EnumeratedNode, error)
	SelectByIDs(ctx context.Context, ids []int64) ([]*models.EnumeratedNode, error)
	SelectAll(ctx context.Context) ([]*models.EnumeratedNode, error)
	SelectByParentID(ctx context.Context, parentID int64) ([]*models.EnumeratedNode, error)
	SelectDescendants(ctx context.Context, id int64) ([]*models.EnumeratedNode, error)
}
