package tree

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matijazezelj/arbor/pkg/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS adjacency_nodes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id   INTEGER,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level       INTEGER NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjacency_parent ON adjacency_nodes(parent_id);

CREATE TABLE IF NOT EXISTS closure_nodes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level       INTEGER NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS closure_paths (
    ancestor_id   INTEGER NOT NULL,
    descendant_id INTEGER NOT NULL,
    distance      INTEGER NOT NULL,
    PRIMARY KEY (ancestor_id, descendant_id)
);

CREATE INDEX IF NOT EXISTS idx_closure_descendant ON closure_paths(descendant_id);
CREATE INDEX IF NOT EXISTS idx_closure_distance ON closure_paths(ancestor_id, distance);

CREATE TABLE IF NOT EXISTS materialized_nodes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level       INTEGER NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nested_nodes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    lft         INTEGER NOT NULL,
    rgt         INTEGER NOT NULL,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level       INTEGER NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nested_lft ON nested_nodes(lft);
CREATE INDEX IF NOT EXISTS idx_nested_rgt ON nested_nodes(rgt);

CREATE TABLE IF NOT EXISTS enumerated_nodes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT NOT NULL,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    level       INTEGER NOT NULL,
    disabled    INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enumerated_path ON enumerated_nodes(path);
`

// baseColumns are the columns every node table shares, in scan order.
const baseColumns = `id, name, description, level, disabled, deleted, created_at, updated_at`

var tables = map[models.Kind]string{
	models.KindAdjacency:    "adjacency_nodes",
	models.KindClosure:      "closure_nodes",
	models.KindMaterialized: "materialized_nodes",
	models.KindNested:       "nested_nodes",
	models.KindEnumeration:  "enumerated_nodes",
}

// SQLiteStore holds every encoding's tables in one SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// ":memory:" opens a private in-memory database on a single connection.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

	if dbPath == ":memory:" {
		db, err := sql.Open("sqlite", ":memory:?"+pragmas)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
		return &SQLiteStore{db: db, now: time.Now}, nil
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?"+pragmas+"&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Init creates the database schema if it doesn't exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Counts returns the number of nodes stored per encoding.
func (s *SQLiteStore) Counts(ctx context.Context) (map[models.Kind]int, error) {
	counts := make(map[models.Kind]int, len(tables))
	for kind, table := range tables {
		var c int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&c); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[kind] = c
	}
	return counts, nil
}

// Backup writes a consistent snapshot of the database to dst, which must
// not exist yet.
func (s *SQLiteStore) Backup(ctx context.Context, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Adjacency returns the parent-pointer collaborator.
func (s *SQLiteStore) Adjacency() AdjacencyStore { return &sqliteAdjacency{s.conn()} }

// Closure returns the closure-table collaborator.
func (s *SQLiteStore) Closure() ClosureStore { return &sqliteClosure{s.conn()} }

// Materialized returns the materialized-path collaborator.
func (s *SQLiteStore) Materialized() MaterializedStore { return &sqliteMaterialized{s.conn()} }

// Nested returns the nested-set collaborator.
func (s *SQLiteStore) Nested() NestedSetStore { return &sqliteNested{s.conn()} }

// Enumeration returns the path-enumeration collaborator.
func (s *SQLiteStore) Enumeration() EnumerationStore { return &sqliteEnumeration{s.conn()} }

func (s *SQLiteStore) conn() conn {
	return conn{db: s.db, q: s.db, now: s.now}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn is either bound to the pool (db set) or to one transaction (db nil).
type conn struct {
	db  *sql.DB
	q   querier
	now func() time.Time
}

func (c conn) atomic(ctx context.Context, fn func(conn) error) error {
	if c.db == nil {
		return fn(c)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(conn{q: tx, now: c.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c conn) stamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

func (c conn) insert(ctx context.Context, n *models.Node, query string, args ...any) error {
	ts := c.now().UTC()
	stamp := ts.Format(time.RFC3339Nano)
	args = append(args, stamp, stamp)

	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	n.ID = id
	n.CreatedAt = ts
	n.UpdatedAt = ts
	return nil
}

func (c conn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c conn) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

// timestamps receives the two text timestamp columns and applies them to a Node.
type timestamps struct {
	created, updated string
}

func (t *timestamps) apply(n *models.Node) error {
	var err error
	if n.CreatedAt, err = time.Parse(time.RFC3339Nano, t.created); err != nil {
		return fmt.Errorf("node %d: parsing created_at %q: %w", n.ID, t.created, err)
	}
	if n.UpdatedAt, err = time.Parse(time.RFC3339Nano, t.updated); err != nil {
		return fmt.Errorf("node %d: parsing updated_at %q: %w", n.ID, t.updated, err)
	}
	return nil
}

func baseDest(n *models.Node, ts *timestamps) []any {
	return []any{&n.ID, &n.Name, &n.Description, &n.Level, &n.Disabled, &n.Deleted, &ts.created, &ts.updated}
}

// queryNodes runs query and scans each row with scan. It is shared by all
// node tables; scan must return nil, nil only for sql.ErrNoRows.
func queryNodes[N any](ctx context.Context, q querier, scan func(rowScanner) (*N, error), query string, args ...any) ([]*N, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var nodes []*N
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
