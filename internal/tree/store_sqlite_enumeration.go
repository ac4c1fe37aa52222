package tree

import (
	"context"
	"database/sql"
	"errors"

	"github.com/matijazezelj/arbor/pkg/models"
)

const enumeratedColumns = baseColumns + `, path`

type sqliteEnumeration struct{ conn }

func (s *sqliteEnumeration) Atomic(ctx context.Context, fn func(EnumerationStore) error) error {
	return s.atomic(ctx, func(c conn) error { return fn(&sqliteEnumeration{c}) })
}

func (s *sqliteEnumeration) Insert(ctx context.Context, n *models.EnumeratedNode) error {
	return s.insert(ctx, &n.Node, `
		INSERT INTO enumerated_nodes (path, name, description, level, disabled, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Path, n.Name, n.Description, n.Level, n.Disabled, n.Deleted)
}

func (s *sqliteEnumeration) Update(ctx context.Context, n *models.EnumeratedNode) error {
	_, err := s.exec(ctx, `
		UPDATE enumerated_nodes
		SET path = ?, name = ?, description = ?, level = ?, disabled = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`, n.Path, n.Name, n.Description, n.Level, n.Disabled, n.Deleted, s.stamp(), n.ID)
	return err
}

func (s *sqliteEnumeration) Delete(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM enumerated_nodes WHERE id = ?`, id)
	return err
}

func (s *sqliteEnumeration) SelectByID(ctx context.Context, id int64) (*models.EnumeratedNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+enumeratedColumns+` FROM enumerated_nodes WHERE id = ?`, id)
	return scanEnumerated(row)
}

func (s *sqliteEnumeration) SelectByIDs(ctx context.Context, ids []int64) ([]*models.EnumeratedNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryNodes(ctx, s.q, scanEnumerated,
		`SELECT `+enumeratedColumns+` FROM enumerated_nodes WHERE id IN (`+placeholders(len(ids))+`) ORDER BY level, id`,
		int64Args(ids)...)
}

func (s *sqliteEnumeration) SelectAll(ctx context.Context) ([]*models.EnumeratedNode, error) {
	return queryNodes(ctx, s.q, scanEnumerated, `SELECT `+enumeratedColumns+` FROM enumerated_nodes ORDER BY level, id`)
}

func (s *sqliteEnumeration) SelectByParentID(ctx context.Context, parentID int64) ([]*models.EnumeratedNode, error) {
	return queryNodes(ctx, s.q, scanEnumerated, `
		SELECT `+enumeratedColumns+` FROM enumerated_nodes
		WHERE path = (SELECT path || id || '/' FROM enumerated_nodes WHERE id = ?)
		ORDER BY id
	`, parentID)
}

func (s *sqliteEnumeration) SelectDescendants(ctx context.Context, id int64) ([]*models.EnumeratedNode, error) {
	return queryNodes(ctx, s.q, scanEnumerated, `
		SELECT `+enumeratedColumns+` FROM enumerated_nodes
		WHERE instr(path, '/' || ? || '/') > 0
		ORDER BY level, id
	`, id)
}

func scanEnumerated(row rowScanner) (*models.EnumeratedNode, error) {
	var n models.EnumeratedNode
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
