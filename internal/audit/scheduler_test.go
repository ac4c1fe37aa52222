package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/matijazezelj/arbor/internal/alert"
	"github.com/matijazezelj/arbor/internal/tree"
	"github.com/matijazezelj/arbor/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeChecker struct {
	kind   models.Kind
	report *tree.Report
	err    error
}

func (f fakeChecker) Kind() models.Kind { return f.kind }

func (f fakeChecker) Check(context.Context) (*tree.Report, error) { return f.report, f.err }

type recordingAlerter struct {
	mu     sync.Mutex
	events []alert.Event
	err    error
}

func (r *recordingAlerter) Name() string { return "recording" }

func (r *recordingAlerter) Send(_ context.Context, e alert.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestNewScheduler_ValidDuration(t *testing.T) {
	tests := []struct {
		interval string
		wantErr  bool
	}{
		{"6h", false},
		{"30m", false},
		{"1h30m", false},
		{"1m", false},
		{"30s", true}, // below 1m minimum
		{"invalid", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			_, err := NewScheduler(nil, nil, tt.interval, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewScheduler(%q) error = %v, wantErr %v", tt.interval, err, tt.wantErr)
			}
		})
	}
}

func TestRunOnce(t *testing.T) {
	broken := &tree.Report{
		Kind:  models.KindNested,
		Nodes: 3,
		Violations: []tree.Violation{
			{NodeID: 2, Rule: "width", Detail: "width 4 encloses 0 nodes"},
		},
	}
	checkers := []Checker{
		fakeChecker{kind: models.KindAdjacency, report: &tree.Report{Kind: models.KindAdjacency, Nodes: 5}},
		fakeChecker{kind: models.KindNested, report: broken},
		fakeChecker{kind: models.KindClosure, err: errors.New("database is locked")},
	}
	rec := &recordingAlerter{}

	reports := RunOnce(context.Background(), checkers, rec, testLogger())
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2 (failed check skipped)", len(reports))
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}

	ev := rec.events[0]
	if ev.EventType != "tree_integrity" || ev.Severity != "critical" {
		t.Errorf("event = %s/%s", ev.EventType, ev.Severity)
	}
	if ev.Tree.Kind != "nested" || ev.Tree.Nodes != 3 {
		t.Errorf("tree = %+v", ev.Tree)
	}
	if len(ev.Violations) != 1 || ev.Violations[0].NodeID != 2 {
		t.Errorf("violations = %+v", ev.Violations)
	}
	if ev.Message != "nested tree has 1 integrity violation" {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestRunOnce_AlertFailureDoesNotStop(t *testing.T) {
	bad := func(kind models.Kind) Checker {
		return fakeChecker{kind: kind, report: &tree.Report{Kind: kind, Violations: []tree.Violation{{Rule: "level"}}}}
	}
	rec := &recordingAlerter{err: errors.New("webhook down")}

	reports := RunOnce(context.Background(), []Checker{bad(models.KindAdjacency), bad(models.KindEnumeration)}, rec, testLogger())
	if len(reports) != 2 || len(rec.events) != 2 {
		t.Errorf("reports=%d events=%d, want 2 and 2", len(reports), len(rec.events))
	}
}

func TestRunOnce_RealEngine(t *testing.T) {
	store, err := tree.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}

	e := tree.NewNestedSetEngine(store.Nested())
	root, err := e.CreateRoot(ctx, &models.NestedSetNode{Node: models.Node{Name: "root"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateChild(ctx, &models.NestedSetNode{Node: models.Node{Name: "a"}}, root.ID); err != nil {
		t.Fatal(err)
	}

	rec := &recordingAlerter{}
	RunOnce(ctx, []Checker{e}, rec, testLogger())
	if len(rec.events) != 0 {
		t.Fatalf("healthy tree raised %d events", len(rec.events))
	}

	// corrupt the interval of the root behind the engine's back
	if _, err := store.Nested().ShiftRight(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	RunOnce(ctx, []Checker{e}, rec, testLogger())
	if len(rec.events) != 1 {
		t.Fatalf("corrupt tree raised %d events, want 1", len(rec.events))
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler(nil, nil, "1h", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	s.Stop()
}
