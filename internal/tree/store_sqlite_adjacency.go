package tree

import (
	"context"
	"database/sql"
	"errors"

	"github.com/matijazezelj/arbor/pkg/models"
)

const adjacencyColumns = baseColumns + `, parent_id`

type sqliteAdjacency struct{ conn }

func (s *sqliteAdjacency) Atomic(ctx context.Context, fn func(AdjacencyStore) error) error {
	return s.atomic(ctx, func(c conn) error { return fn(&sqliteAdjacency{c}) })
}

func (s *sqliteAdjacency) Insert(ctx context.Context, n *models.AdjacencyNode) error {
	return s.insert(ctx, &n.Node, `
		INSERT INTO adjacency_nodes (parent_id, name, description, level, disabled, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ParentID, n.Name, n.Description, n.Level, n.Disabled, n.Deleted)
}

func (s *sqliteAdjacency) Update(ctx context.Context, n *models.AdjacencyNode) error {
	_, err := s.exec(ctx, `
		UPDATE adjacency_nodes
		SET parent_id = ?, name = ?, description = ?, level = ?, disabled = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`, n.ParentID, n.Name, n.Description, n.Level, n.Disabled, n.Deleted, s.stamp(), n.ID)
	return err
}

func (s *sqliteAdjacency) UpdateLevel(ctx context.Context, id int64, level int) error {
	_, err := s.exec(ctx, `UPDATE adjacency_nodes SET level = ? WHERE id = ?`, level, id)
	return err
}

func (s *sqliteAdjacency) Delete(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM adjacency_nodes WHERE id = ?`, id)
	return err
}

func (s *sqliteAdjacency) SelectByID(ctx context.Context, id int64) (*models.AdjacencyNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+adjacencyColumns+` FROM adjacency_nodes WHERE id = ?`, id)
	return scanAdjacency(row)
}

func (s *sqliteAdjacency) SelectAll(ctx context.Context) ([]*models.AdjacencyNode, error) {
	return queryNodes(ctx, s.q, scanAdjacency, `SELECT `+adjacencyColumns+` FROM adjacency_nodes ORDER BY level, id`)
}

func (s *sqliteAdjacency) SelectByParentID(ctx context.Context, parentID int64) ([]*models.AdjacencyNode, error) {
	return queryNodes(ctx, s.q, scanAdjacency, `SELECT `+adjacencyColumns+` FROM adjacency_nodes WHERE parent_id = ? ORDER BY id`, parentID)
}

// SelectDescendants walks the parent pointers with a recursive CTE. UNION
// (not UNION ALL) stops the walk on a corrupted, cyclic table.
func (s *sqliteAdjacency) SelectDescendants(ctx context.Context, id int64) ([]*models.AdjacencyNode, error) {
	return queryNodes(ctx, s.q, scanAdjacency, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM adjacency_nodes WHERE parent_id = ?
			UNION
			SELECT n.id FROM adjacency_nodes n JOIN subtree ON n.parent_id = subtree.id
		)
		SELECT `+adjacencyColumns+` FROM adjacency_nodes
		WHERE id IN (SELECT id FROM subtree) AND id <> ?
		ORDER BY level, id
	`, id, id)
}

func scanAdjacency(row rowScanner) (*models.AdjacencyNode, error) {
	var n models.AdjacencyNode
	var ts timestamps
	var parentID sql.NullInt64

	err := row.Scan(append(baseDest(&n.Node, &ts), &parentID)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := ts.apply(&n.Node); err != nil {
		return nil, err
	}
	if parentID.Valid {
		n.ParentID = ptr(parentID.Int64)
	}
	return &n, nil
}
