package tree

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/matijazezelj/arbor/pkg/models"
)

type sqliteClosure struct{ conn }

func (s *sqliteClosure) Atomic(ctx context.Context, fn func(ClosureStore) error) error {
	return s.atomic(ctx, func(c conn) error { return fn(&sqliteClosure{c}) })
}

func (s *sqliteClosure) Insert(ctx context.Context, n *models.ClosureNode) error {
	return s.insert(ctx, &n.Node, `
		INSERT INTO closure_nodes (name, description, level, disabled, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.Name, n.Description, n.Level, n.Disabled, n.Deleted)
}

func (s *sqliteClosure) Update(ctx context.Context, n *models.ClosureNode) error {
	_, err := s.exec(ctx, `
		UPDATE closure_nodes
		SET name = ?, description = ?, level = ?, disabled = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`, n.Name, n.Description, n.Level, n.Disabled, n.Deleted, s.stamp(), n.ID)
	return err
}

func (s *sqliteClosure) Delete(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM closure_nodes WHERE id = ?`, id)
	return err
}

func (s *sqliteClosure) SelectByID(ctx context.Context, id int64) (*models.ClosureNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+baseColumns+` FROM closure_nodes WHERE id = ?`, id)
	return scanClosure(row)
}

func (s *sqliteClosure) SelectByIDs(ctx context.Context, ids []int64) ([]*models.ClosureNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryNodes(ctx, s.q, scanClosure,
		`SELECT `+baseColumns+` FROM closure_nodes WHERE id IN (`+placeholders(len(ids))+`) ORDER BY level, id`,
		int64Args(ids)...)
}

func (s *sqliteClosure) SelectAll(ctx context.Context) ([]*models.ClosureNode, error) {
	return queryNodes(ctx, s.q, scanClosure, `SELECT `+baseColumns+` FROM closure_nodes ORDER BY level, id`)
}

func (s *sqliteClosure) InsertPath(ctx context.Context, p models.PathEntry) error {
	_, err := s.exec(ctx, `INSERT INTO closure_paths (ancestor_id, descendant_id, distance) VALUES (?, ?, ?)`,
		p.AncestorID, p.DescendantID, p.Distance)
	return err
}

// BatchInsertPaths writes every entry with one statement.
func (s *sqliteClosure) BatchInsertPaths(ctx context.Context, paths []models.PathEntry) error {
	if len(paths) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO closure_paths (ancestor_id, descendant_id, distance) VALUES `)
	args := make([]any, 0, len(paths)*3)
	for i, p := range paths {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, p.AncestorID, p.DescendantID, p.Distance)
	}

	_, err := s.exec(ctx, b.String(), args...)
	return err
}

func (s *sqliteClosure) DeletePathsByNodeID(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM closure_paths WHERE ancestor_id = ? OR descendant_id = ?`, id, id)
	return err
}

func (s *sqliteClosure) SelectAncestorPaths(ctx context.Context, descendantID int64) ([]models.PathEntry, error) {
	return s.queryPaths(ctx, `
		SELECT ancestor_id, descendant_id, distance FROM closure_paths
		WHERE descendant_id = ? ORDER BY distance DESC
	`, descendantID)
}

func (s *sqliteClosure) SelectAncestorIDs(ctx context.Context, descendantID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT ancestor_id FROM closure_paths WHERE descendant_id = ? ORDER BY distance DESC`, descendantID)
}

func (s *sqliteClosure) SelectDescendantIDs(ctx context.Context, ancestorID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT descendant_id FROM closure_paths WHERE ancestor_id = ? ORDER BY distance, descendant_id`, ancestorID)
}

func (s *sqliteClosure) SelectChildIDs(ctx context.Context, parentID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT descendant_id FROM closure_paths WHERE ancestor_id = ? AND distance = 1 ORDER BY descendant_id`, parentID)
}

func (s *sqliteClosure) SelectPathsByDistance(ctx context.Context, distance int) ([]models.PathEntry, error) {
	return s.queryPaths(ctx, `
		SELECT ancestor_id, descendant_id, distance FROM closure_paths
		WHERE distance = ? ORDER BY descendant_id
	`, distance)
}

func (s *sqliteClosure) SelectAllPaths(ctx context.Context) ([]models.PathEntry, error) {
	return s.queryPaths(ctx, `
		SELECT ancestor_id, descendant_id, distance FROM closure_paths
		ORDER BY ancestor_id, distance, descendant_id
	`)
}

func (s *sqliteClosure) queryPaths(ctx context.Context, query string, args ...any) ([]models.PathEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var paths []models.PathEntry
	for rows.Next() {
		var p models.PathEntry
		if err := rows.Scan(&p.AncestorID, &p.DescendantID, &p.Distance); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func scanClosure(row rowScanner) (*models.ClosureNode, error) {
	var n models.ClosureNode
	var ts timestamps

	if err := row.Scan(baseDest(&n.Node, &ts)...); err != nil {
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
