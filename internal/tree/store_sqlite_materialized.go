package tree

import (
	"context"
	"database/sql"
	"errors"

	"github.com/matijazezelj/arbor/pkg/models"
)

const materializedColumns = baseColumns + `, path`

type sqliteMaterialized struct{ conn }

func (s *sqliteMaterialized) Atomic(ctx context.Context, fn func(MaterializedStore) error) error {
	return s.atomic(ctx, func(c conn) error { return fn(&sqliteMaterialized{c}) })
}

func (s *sqliteMaterialized) Insert(ctx context.Context, n *models.MaterializedNode) error {
	return s.insert(ctx, &n.Node, `
		INSERT INTO materialized_nodes (path, name, description, level, disabled, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Path, n.Name, n.Description, n.Level, n.Disabled, n.Deleted)
}

func (s *sqliteMaterialized) Update(ctx context.Context, n *models.MaterializedNode) error {
	_, err := s.exec(ctx, `
		UPDATE materialized_nodes
		SET path = ?, name = ?, description = ?, level = ?, disabled = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`, n.Path, n.Name, n.Description, n.Level, n.Disabled, n.Deleted, s.stamp(), n.ID)
	return err
}

func (s *sqliteMaterialized) Delete(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM materialized_nodes WHERE id = ?`, id)
	return err
}

func (s *sqliteMaterialized) SelectByID(ctx context.Context, id int64) (*models.MaterializedNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+materializedColumns+` FROM materialized_nodes WHERE id = ?`, id)
	return scanMaterialized(row)
}

func (s *sqliteMaterialized) SelectByPath(ctx context.Context, path string) (*models.MaterializedNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+materializedColumns+` FROM materialized_nodes WHERE path = ?`, path)
	return scanMaterialized(row)
}

func (s *sqliteMaterialized) SelectAll(ctx context.Context) ([]*models.MaterializedNode, error) {
	return queryNodes(ctx, s.q, scanMaterialized, `SELECT `+materializedColumns+` FROM materialized_nodes ORDER BY path`)
}

// SelectByParentID matches one level below the parent under its path.
// Segments are fixed width, so the prefix test cannot match a cousin.
func (s *sqliteMaterialized) SelectByParentID(ctx context.Context, parentID int64) ([]*models.MaterializedNode, error) {
	return queryNodes(ctx, s.q, scanMaterialized, `
		SELECT `+materializedColumns+` FROM materialized_nodes
		WHERE level = (SELECT level + 1 FROM materialized_nodes WHERE id = ?)
		  AND substr(path, 1, (SELECT length(path) FROM materialized_nodes WHERE id = ?)) =
		      (SELECT path FROM materialized_nodes WHERE id = ?)
		ORDER BY path
	`, parentID, parentID, parentID)
}

// SelectByPathPrefix compares with substr rather than LIKE so that
// separators such as "_" or "%" are matched literally.
func (s *sqliteMaterialized) SelectByPathPrefix(ctx context.Context, prefix string) ([]*models.MaterializedNode, error) {
	return queryNodes(ctx, s.q, scanMaterialized, `
		SELECT `+materializedColumns+` FROM materialized_nodes
		WHERE substr(path, 1, length(?)) = ? AND path <> ?
		ORDER BY path
	`, prefix, prefix, prefix)
}

func (s *sqliteMaterialized) SelectAncestorsByPath(ctx context.Context, path, separator string) ([]*models.MaterializedNode, error) {
	return queryNodes(ctx, s.q, scanMaterialized, `
		SELECT `+materializedColumns+` FROM materialized_nodes
		WHERE substr(?, 1, length(path) + length(?)) = path || ?
		ORDER BY path
	`, path, separator, separator)
}

func scanMaterialized(row rowScanner) (*models.MaterializedNode, error) {
	var n models.MaterializedNode
	var ts timestamps

	if err := row.Scan(append(baseDest(&n.Node, &ts), &n.Path)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := ts.apply(&n.Node); err != nil {
		return nil, err
	}
	return &n, nil
}
