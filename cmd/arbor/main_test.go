package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matijazezelj/arbor/internal/tree"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"Error", slog.LevelError, false},
		{"invalid", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLogLevel(%q) expected error", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("parseLogLevel(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) expected error", bad)
		}
	}
}

// arbor runs the CLI against db and returns what it printed.
func arbor(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustArbor(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, err := arbor(t, db, args...)
	if err != nil {
		t.Fatalf("arbor %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "arbor.db")
}

func TestNestedCommands(t *testing.T) {
	db := testDB(t)

	out := mustArbor(t, db, "nested", "create", "--name", "root")
	if !strings.Contains(out, "[1, 2]") {
		t.Errorf("create root output:\n%s", out)
	}
	out = mustArbor(t, db, "nested", "create", "--name", "child", "--parent", "1")
	if !strings.Contains(out, "[2, 3]") {
		t.Errorf("create child output:\n%s", out)
	}
	mustArbor(t, db, "nested", "create", "--name", "grandchild", "--parent", "2")

	out = mustArbor(t, db, "nested", "get", "1")
	if !strings.Contains(out, "[1, 6]") {
		t.Errorf("root interval not widened:\n%s", out)
	}

	out = mustArbor(t, db, "nested", "ancestors", "3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "1 ") || !strings.HasPrefix(lines[2], "2 ") {
		t.Errorf("ancestors output:\n%s", out)
	}

	out = mustArbor(t, db, "nested", "tree", "--format", "json")
	if !strings.Contains(out, `"grandchild"`) {
		t.Errorf("tree json output:\n%s", out)
	}

	out = mustArbor(t, db, "nested", "check")
	if !strings.Contains(out, "no violations") {
		t.Errorf("check output:\n%s", out)
	}

	if _, err := arbor(t, db, "nested", "create", "--name", "second"); !errors.Is(err, tree.ErrRootAlreadyExists) {
		t.Errorf("second root error = %v, want ErrRootAlreadyExists", err)
	}

	mustArbor(t, db, "nested", "delete", "2")
	out = mustArbor(t, db, "nested", "list")
	if strings.Count(strings.TrimSpace(out), "\n") != 1 {
		t.Errorf("expected only the root after subtree delete:\n%s", out)
	}
}

func TestMaterializedUsesConfiguredFormat(t *testing.T) {
	db := testDB(t)
	cfg := filepath.Join(t.TempDir(), "arbor.yaml")
	yaml := "tree:\n  materialized:\n    root: \"1\"\n    separator: \"/\"\n    width: 2\n"
	if err := os.WriteFile(cfg, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	mustArbor(t, db, "--config", cfg, "materialized", "create", "--name", "root")
	out := mustArbor(t, db, "--config", cfg, "materialized", "create", "--name", "child", "--parent", "1")
	if !strings.Contains(out, "(1/01)") {
		t.Errorf("child output:\n%s", out)
	}
}

func TestAdjacencyUpdateMovesNode(t *testing.T) {
	db := testDB(t)
	mustArbor(t, db, "adjacency", "create", "--name", "root")
	mustArbor(t, db, "adjacency", "create", "--name", "a", "--parent", "1")
	mustArbor(t, db, "adjacency", "create", "--name", "b", "--parent", "1")

	out := mustArbor(t, db, "adjacency", "update", "3", "--parent", "2", "--description", "moved")
	if !strings.Contains(out, "(parent 2)") {
		t.Errorf("update output:\n%s", out)
	}

	if _, err := arbor(t, db, "adjacency", "update", "2", "--parent", "3"); !errors.Is(err, tree.ErrInvalidMove) {
		t.Errorf("cycle error = %v, want ErrInvalidMove", err)
	}

	if _, err := arbor(t, db, "adjacency", "delete", "1"); !errors.Is(err, tree.ErrHasChildren) {
		t.Errorf("delete root error = %v, want ErrHasChildren", err)
	}
}

func TestImportCommand(t *testing.T) {
	db := testDB(t)
	outline := filepath.Join(t.TempDir(), "outline.yaml")
	content := "name: catalog\nchildren:\n  - name: books\n    children:\n      - name: poetry\n  - name: music\n"
	if err := os.WriteFile(outline, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustArbor(t, db, "closure", "import", outline)
	if !strings.Contains(out, "Imported 4 closure node(s)") {
		t.Errorf("import output:\n%s", out)
	}

	out = mustArbor(t, db, "closure", "descendants", "1")
	for _, name := range []string{"books", "poetry", "music"} {
		if !strings.Contains(out, name) {
			t.Errorf("descendants missing %s:\n%s", name, out)
		}
	}
}

func TestCheckAll(t *testing.T) {
	db := testDB(t)
	for _, kind := range []string{"adjacency", "closure", "materialized", "nested", "enumeration"} {
		mustArbor(t, db, kind, "create", "--name", "root")
		mustArbor(t, db, kind, "create", "--name", "leaf", "--parent", "1")
	}

	out := mustArbor(t, db, "check", "--no-alerts")
	for _, kind := range []string{"adjacency", "closure", "materialized", "nested", "enumeration"} {
		if !strings.Contains(out, kind) {
			t.Errorf("summary missing %s:\n%s", kind, out)
		}
	}

	// corrupt the nested set behind the engine's back
	store, err := tree.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Nested().ShiftRight(context.Background(), 1, 10); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	if _, err := arbor(t, db, "check", "--no-alerts"); !errors.Is(err, errViolations) {
		t.Errorf("check error = %v, want errViolations", err)
	}
	out, err = arbor(t, db, "nested", "check")
	if !errors.Is(err, errViolations) {
		t.Errorf("nested check error = %v, want errViolations", err)
	}
	if !strings.Contains(out, "RULE") {
		t.Errorf("violations table missing:\n%s", out)
	}
}

func TestDBStatsAndBackup(t *testing.T) {
	db := testDB(t)
	mustArbor(t, db, "enumeration", "create", "--name", "root")
	mustArbor(t, db, "enumeration", "create", "--name", "leaf", "--parent", "1")

	out := mustArbor(t, db, "db", "stats")
	if !strings.Contains(out, "Nodes: 2") {
		t.Errorf("stats output:\n%s", out)
	}

	backup := filepath.Join(t.TempDir(), "backup.db")
	out = mustArbor(t, db, "db", "backup", backup)
	if !strings.Contains(out, "Backed up") {
		t.Errorf("backup output:\n%s", out)
	}
	out = mustArbor(t, backup, "enumeration", "list")
	if !strings.Contains(out, "leaf") {
		t.Errorf("backup missing nodes:\n%s", out)
	}

	// an existing target is replaced only when forced
	mustArbor(t, db, "db", "backup", "--force", backup)
}

func TestSyncRequiresMirror(t *testing.T) {
	db := testDB(t)
	if _, err := arbor(t, db, "nested", "sync"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("sync error = %v, want mirror disabled", err)
	}
}

func TestVersion(t *testing.T) {
	out := mustArbor(t, testDB(t), "version")
	if out != "arbor dev\n" {
		t.Errorf("version = %q", out)
	}
}

func TestInvalidLogFormat(t *testing.T) {
	if _, err := arbor(t, testDB(t), "--log-format", "xml", "version"); err == nil {
		t.Error("expected error for invalid --log-format")
	}
}
