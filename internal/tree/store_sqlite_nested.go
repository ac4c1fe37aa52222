package tree

import (
	"context"
	"database/sql"
	"errors"

	"github.com/matijazezelj/arbor/pkg/models"
)

const nestedColumns = baseColumns + `, lft, rgt`

type sqliteNested struct{ conn }

func (s *sqliteNested) Atomic(ctx context.Context, fn func(NestedSetStore) error) error {
	return s.atomic(ctx, func(c conn) error { return fn(&sqliteNested{c}) })
}

func (s *sqliteNested) Insert(ctx context.Context, n *models.NestedSetNode) error {
	return s.insert(ctx, &n.Node, `
		INSERT INTO nested_nodes (lft, rgt, name, description, level, disabled, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Lft, n.Rgt, n.Name, n.Description, n.Level, n.Disabled, n.Deleted)
}

func (s *sqliteNested) Update(ctx context.Context, n *models.NestedSetNode) error {
	_, err := s.exec(ctx, `
		UPDATE nested_nodes
		SET lft = ?, rgt = ?, name = ?, description = ?, level = ?, disabled = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`, n.Lft, n.Rgt, n.Name, n.Description, n.Level, n.Disabled, n.Deleted, s.stamp(), n.ID)
	return err
}

func (s *sqliteNested) Delete(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM nested_nodes WHERE id = ?`, id)
	return err
}

func (s *sqliteNested) SelectByID(ctx context.Context, id int64) (*models.NestedSetNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+nestedColumns+` FROM nested_nodes WHERE id = ?`, id)
	return scanNested(row)
}

func (s *sqliteNested) SelectAll(ctx context.Context) ([]*models.NestedSetNode, error) {
	return queryNodes(ctx, s.q, scanNested, `SELECT `+nestedColumns+` FROM nested_nodes ORDER BY lft`)
}

func (s *sqliteNested) SelectByParentID(ctx context.Context, parentID int64) ([]*models.NestedSetNode, error) {
	return queryNodes(ctx, s.q, scanNested, `
		SELECT `+nestedColumns+` FROM nested_nodes
		WHERE lft > (SELECT lft FROM nested_nodes WHERE id = ?)
		  AND rgt < (SELECT rgt FROM nested_nodes WHERE id = ?)
		  AND level = (SELECT level + 1 FROM nested_nodes WHERE id = ?)
		ORDER BY lft
	`, parentID, parentID, parentID)
}

func (s *sqliteNested) SelectDescendants(ctx context.Context, id int64) ([]*models.NestedSetNode, error) {
	return queryNodes(ctx, s.q, scanNested, `
		SELECT `+nestedColumns+` FROM nested_nodes
		WHERE lft > (SELECT lft FROM nested_nodes WHERE id = ?)
		  AND rgt < (SELECT rgt FROM nested_nodes WHERE id = ?)
		ORDER BY lft
	`, id, id)
}

func (s *sqliteNested) SelectAncestors(ctx context.Context, id int64) ([]*models.NestedSetNode, error) {
	return queryNodes(ctx, s.q, scanNested, `
		SELECT `+nestedColumns+` FROM nested_nodes
		WHERE lft < (SELECT lft FROM nested_nodes WHERE id = ?)
		  AND rgt > (SELECT rgt FROM nested_nodes WHERE id = ?)
		ORDER BY lft
	`, id, id)
}

func (s *sqliteNested) ShiftLeft(ctx context.Context, threshold, delta int) (int64, error) {
	return s.exec(ctx, `UPDATE nested_nodes SET lft = lft + ? WHERE lft > ?`, delta, threshold)
}

func (s *sqliteNested) ShiftRight(ctx context.Context, threshold, delta int) (int64, error) {
	return s.exec(ctx, `UPDATE nested_nodes SET rgt = rgt + ? WHERE rgt >= ?`, delta, threshold)
}

func scanNested(row rowScanner) (*models.NestedSetNode, error) {
	var n models.NestedSetNode
	var ts timestamps

	if err := row.Scan(append(baseDest(&n.Node, &ts), &n.Lft, &n.Rgt)...); err != nil {
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
