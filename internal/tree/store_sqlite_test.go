package tree

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matijazezelj/arbor/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func named(name string) models.Node {
	return models.Node{Name: name, Description: name + " node"}
}

// creator returns a helper that creates a node named name under parent
// and returns its id.
func creator[T any, P nodePtr[T]](t *testing.T, e Engine[P]) func(name string, parent *int64) int64 {
	return func(name string, parent *int64) int64 {
		t.Helper()
		n, err := e.Create(context.Background(), NewNode[T, P](named(name)), parent)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		return n.Base().ID
	}
}

func ids[N models.Noder](nodes []N) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.Base().ID
	}
	return out
}

func TestNewSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arbor.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	// Init is idempotent.
	if err := store.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	e := NewNestedSetEngine(store.Nested())
	create := creator[models.NestedSetNode](t, e)
	root := create("root", nil)
	create("leaf", &root)

	dst := filepath.Join(t.TempDir(), "backups", "arbor.db")
	if err := store.Backup(ctx, dst); err != nil {
		t.Fatal(err)
	}
	if err := store.Backup(ctx, dst); err == nil {
		t.Error("expected error backing up over an existing file")
	}

	copied, err := NewSQLiteStore(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer copied.Close() //nolint:errcheck // best-effort cleanup

	counts, err := copied.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.KindNested] != 2 {
		t.Errorf("nested count in backup = %d, want 2", counts[models.KindNested])
	}
}

func TestInsertSetsIDAndTimestamps(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	s := store.Adjacency()
	n := &models.AdjacencyNode{Node: named("root")}
	if err := s.Insert(ctx, n); err != nil {
		t.Fatal(err)
	}
	if n.ID == 0 {
		t.Fatal("ID not assigned")
	}

	got, err := s.SelectByID(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected node, got nil")
	}
	if !got.CreatedAt.Equal(fixed) || !got.UpdatedAt.Equal(fixed) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, fixed)
	}
	if got.ParentID != nil {
		t.Errorf("ParentID = %v, want nil", *got.ParentID)
	}
	if got.Description != "root node" {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestSelectByID_Missing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Adjacency().SelectByID(ctx, 42)
	if err != nil || a != nil {
		t.Errorf("adjacency: got %v, %v; want nil, nil", a, err)
	}
	c, err := store.Closure().SelectByID(ctx, 42)
	if err != nil || c != nil {
		t.Errorf("closure: got %v, %v; want nil, nil", c, err)
	}
	m, err := store.Materialized().SelectByID(ctx, 42)
	if err != nil || m != nil {
		t.Errorf("materialized: got %v, %v; want nil, nil", m, err)
	}
	n, err := store.Nested().SelectByID(ctx, 42)
	if err != nil || n != nil {
		t.Errorf("nested: got %v, %v; want nil, nil", n, err)
	}
	e, err := store.Enumeration().SelectByID(ctx, 42)
	if err != nil || e != nil {
		t.Errorf("enumeration: got %v, %v; want nil, nil", e, err)
	}
}

func TestSelectByID_MalformedTimestamp(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		table string
		load  func(t *testing.T, store *SQLiteStore) (int64, func() error)
	}{
		{"adjacency_nodes", func(t *testing.T, store *SQLiteStore) (int64, func() error) {
			e := NewAdjacencyEngine(store.Adjacency())
			id := creator[models.AdjacencyNode](t, e)("root", nil)
			return id, func() error { _, err := e.Get(ctx, id); return err }
		}},
		{"closure_nodes", func(t *testing.T, store *SQLiteStore) (int64, func() error) {
			e := NewClosureEngine(store.Closure())
			id := creator[models.ClosureNode](t, e)("root", nil)
			return id, func() error { _, err := e.Get(ctx, id); return err }
		}},
		{"materialized_nodes", func(t *testing.T, store *SQLiteStore) (int64, func() error) {
			e := NewMaterializedEngine(store.Materialized())
			id := creator[models.MaterializedNode](t, e)("root", nil)
			return id, func() error { _, err := e.Get(ctx, id); return err }
		}},
		{"nested_nodes", func(t *testing.T, store *SQLiteStore) (int64, func() error) {
			e := NewNestedSetEngine(store.Nested())
			id := creator[models.NestedSetNode](t, e)("root", nil)
			return id, func() error { _, err := e.Get(ctx, id); return err }
		}},
		{"enumerated_nodes", func(t *testing.T, store *SQLiteStore) (int64, func() error) {
			e := NewEnumerationEngine(store.Enumeration())
			id := creator[models.EnumeratedNode](t, e)("root", nil)
			return id, func() error { _, err := e.Get(ctx, id); return err }
		}},
	}
	for _, tt := range tests {
		for _, column := range []string{"created_at", "updated_at"} {
			t.Run(tt.table+"/"+column, func(t *testing.T) {
				store := newTestStore(t)
				id, get := tt.load(t, store)
				if err := get(); err != nil {
					t.Fatalf("before corruption: %v", err)
				}

				query := "UPDATE " + tt.table + " SET " + column + " = 'yesterday' WHERE id = ?"
				if _, err := store.db.ExecContext(ctx, query, id); err != nil {
					t.Fatal(err)
				}
				err := get()
				if err == nil {
					t.Fatal("expected error for malformed timestamp")
				}
				if !strings.Contains(err.Error(), column) {
					t.Errorf("error %q does not name %s", err, column)
				}
			})
		}
	}
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Nested().Atomic(ctx, func(s NestedSetStore) error {
		if err := s.Insert(ctx, &models.NestedSetNode{Node: named("r"), Lft: 1, Rgt: 2}); err != nil {
			return err
		}
		if _, err := s.ShiftRight(ctx, 1, 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	all, err := store.Nested().SelectAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected rollback, found %d rows", len(all))
	}
}

func TestAtomic_NestedRunsInline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Enumeration().Atomic(ctx, func(outer EnumerationStore) error {
		return outer.Atomic(ctx, func(inner EnumerationStore) error {
			return inner.Insert(ctx, &models.EnumeratedNode{Node: named("r"), Path: "/"})
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.KindEnumeration] != 1 {
		t.Errorf("enumeration count = %d, want 1", counts[models.KindEnumeration])
	}
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adj := creator[models.AdjacencyNode](t, NewAdjacencyEngine(store.Adjacency()))
	root := adj("root", nil)
	adj("a", &root)
	creator[models.ClosureNode](t, NewClosureEngine(store.Closure()))("root", nil)

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[models.Kind]int{
		models.KindAdjacency:    2,
		models.KindClosure:      1,
		models.KindMaterialized: 0,
		models.KindNested:       0,
		models.KindEnumeration:  0,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("counts[%s] = %d, want %d", k, counts[k], v)
		}
	}
}

func TestShiftReturnsRowsMoved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := store.Nested()

	for _, n := range []*models.NestedSetNode{
		{Node: named("r"), Lft: 1, Rgt: 6},
		{Node: named("a"), Lft: 2, Rgt: 3},
		{Node: named("b"), Lft: 4, Rgt: 5},
	} {
		if err := s.Insert(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	// rgt >= 5 matches b and r
	moved, err := s.ShiftRight(ctx, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Errorf("ShiftRight moved %d rows, want 2", moved)
	}

	// lft > 2 matches only b
	moved, err = s.ShiftLeft(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 1 {
		t.Errorf("ShiftLeft moved %d rows, want 1", moved)
	}
}

func TestClosurePaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := store.Closure()

	paths := []models.PathEntry{
		{AncestorID: 1, DescendantID: 1, Distance: 0},
		{AncestorID: 2, DescendantID: 2, Distance: 0},
		{AncestorID: 3, DescendantID: 3, Distance: 0},
		{AncestorID: 1, DescendantID: 2, Distance: 1},
		{AncestorID: 2, DescendantID: 3, Distance: 1},
		{AncestorID: 1, DescendantID: 3, Distance: 2},
	}
	if err := s.BatchInsertPaths(ctx, paths); err != nil {
		t.Fatal(err)
	}

	anc, err := s.SelectAncestorIDs(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(anc, want) {
		t.Errorf("ancestors of 3 = %v, want %v", anc, want)
	}

	desc, err := s.SelectDescendantIDs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(desc, want) {
		t.Errorf("descendants of 1 = %v, want %v", desc, want)
	}

	children, err := s.SelectChildIDs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{2}; !equalIDs(children, want) {
		t.Errorf("children of 1 = %v, want %v", children, want)
	}

	if err := s.DeletePathsByNodeID(ctx, 2); err != nil {
		t.Fatal(err)
	}
	all, err := s.SelectAllPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// (1,1) (3,3) (1,3) survive
	if len(all) != 3 {
		t.Errorf("remaining paths = %v, want 3 entries", all)
	}
}

func TestMaterializedPrefixIsLiteral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := store.Materialized()

	for i, path := range []string{"001", "001_001", "001x001", "001_001_001"} {
		n := &models.MaterializedNode{Node: named(path), Path: path}
		n.Level = i
		if err := s.Insert(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SelectByPathPrefix(ctx, "001_")
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, n := range got {
		paths = append(paths, n.Path)
	}
	if len(paths) != 2 || paths[0] != "001_001" || paths[1] != "001_001_001" {
		t.Errorf("prefix 001_ matched %v", paths)
	}

	anc, err := s.SelectAncestorsByPath(ctx, "001_001_001", "_")
	if err != nil {
		t.Fatal(err)
	}
	if len(anc) != 2 || anc[0].Path != "001" || anc[1].Path != "001_001" {
		t.Errorf("ancestors = %v", anc)
	}
}

func TestEnumerationDescendantsMatchWholeIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := store.Enumeration()

	for _, path := range []string{"/", "/1/", "/11/", "/2/1/"} {
		if err := s.Insert(ctx, &models.EnumeratedNode{Node: named(path), Path: path}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SelectDescendants(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("descendants of 1 = %d rows, want 2", len(got))
	}
	for _, n := range got {
		if n.Path == "/11/" {
			t.Error("path /11/ must not match id 1")
		}
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
