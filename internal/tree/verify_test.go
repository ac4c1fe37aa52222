package tree

import (
	"testing"

	"github.com/matijazezelj/arbor/pkg/models"
)

func rules(r *Report) map[string]int {
	out := map[string]int{}
	for _, v := range r.Violations {
		out[v.Rule]++
	}
	return out
}

func TestCheckAdjacency_Cycle(t *testing.T) {
	nodes := []*models.AdjacencyNode{
		{Node: models.Node{ID: 1, Level: 0}},
		{Node: models.Node{ID: 2, Level: 1}, ParentID: ptr(int64(3))},
		{Node: models.Node{ID: 3, Level: 2}, ParentID: ptr(int64(2))},
	}
	r := checkAdjacency(nodes)
	if got := rules(r)["cycle"]; got != 2 {
		t.Errorf("cycle violations = %d, want 2: %+v", got, r.Violations)
	}
}

func TestCheckClosure_StaleEntry(t *testing.T) {
	nodes := []*models.ClosureNode{
		{Node: models.Node{ID: 1, Level: 0}},
		{Node: models.Node{ID: 2, Level: 1}},
	}
	paths := []models.PathEntry{
		{AncestorID: 1, DescendantID: 1},
		{AncestorID: 2, DescendantID: 2},
		{AncestorID: 1, DescendantID: 2, Distance: 1},
		{AncestorID: 7, DescendantID: 2, Distance: 3},
	}
	r := checkClosure(nodes, paths)
	if len(r.Violations) != 1 || r.Violations[0].Rule != "closure" || r.Violations[0].NodeID != 2 {
		t.Errorf("violations = %+v, want one stale closure entry on 2", r.Violations)
	}
}

func TestCheckClosure_WrongDistance(t *testing.T) {
	nodes := []*models.ClosureNode{
		{Node: models.Node{ID: 1, Level: 0}},
		{Node: models.Node{ID: 2, Level: 1}},
		{Node: models.Node{ID: 3, Level: 2}},
	}
	paths := []models.PathEntry{
		{AncestorID: 1, DescendantID: 1},
		{AncestorID: 2, DescendantID: 2},
		{AncestorID: 3, DescendantID: 3},
		{AncestorID: 1, DescendantID: 2, Distance: 1},
		{AncestorID: 2, DescendantID: 3, Distance: 1},
		{AncestorID: 1, DescendantID: 3, Distance: 1},
	}
	r := checkClosure(nodes, paths)
	got := rules(r)
	if got["closure"] == 0 || got["parent-entry"] == 0 {
		t.Errorf("violations = %+v", r.Violations)
	}
}

func TestCheckMaterialized(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*models.MaterializedNode
		rule  string
	}{
		{
			name:  "valid",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "001"}, {Node: models.Node{ID: 2, Level: 1}, Path: "001.001"}},
		},
		{
			name:  "bad root",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "002"}},
			rule:  "root-path",
		},
		{
			name:  "missing parent",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "001"}, {Node: models.Node{ID: 2, Level: 2}, Path: "001.004.001"}},
			rule:  "parent-path",
		},
		{
			name:  "short segment",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "001"}, {Node: models.Node{ID: 2, Level: 1}, Path: "001.01"}},
			rule:  "segment",
		},
		{
			name:  "wrong level",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "001"}, {Node: models.Node{ID: 2, Level: 3}, Path: "001.001"}},
			rule:  "level",
		},
		{
			name:  "duplicate",
			nodes: []*models.MaterializedNode{{Node: models.Node{ID: 1}, Path: "001"}, {Node: models.Node{ID: 2}, Path: "001"}},
			rule:  "duplicate-path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkMaterialized(tt.nodes, DefaultRootSegment, DefaultSeparator, DefaultSegmentWidth)
			if tt.rule == "" {
				if !r.OK() {
					t.Errorf("unexpected violations: %+v", r.Violations)
				}
				return
			}
			if rules(r)[tt.rule] == 0 {
				t.Errorf("expected %s violation, got %+v", tt.rule, r.Violations)
			}
		})
	}
}

func TestCheckNested(t *testing.T) {
	valid := []*models.NestedSetNode{
		{Node: models.Node{ID: 1, Level: 0}, Lft: 1, Rgt: 6},
		{Node: models.Node{ID: 2, Level: 1}, Lft: 2, Rgt: 3},
		{Node: models.Node{ID: 3, Level: 1}, Lft: 4, Rgt: 5},
	}
	if r := checkNested(valid); !r.OK() {
		t.Fatalf("valid set has violations: %+v", r.Violations)
	}

	tests := []struct {
		name  string
		nodes []*models.NestedSetNode
		rule  string
	}{
		{
			name: "gap in endpoints",
			nodes: []*models.NestedSetNode{
				{Node: models.Node{ID: 1, Level: 0}, Lft: 1, Rgt: 8},
				{Node: models.Node{ID: 2, Level: 1}, Lft: 2, Rgt: 3},
			},
			rule: "endpoints",
		},
		{
			name: "inverted",
			nodes: []*models.NestedSetNode{
				{Node: models.Node{ID: 1, Level: 0}, Lft: 2, Rgt: 1},
			},
			rule: "interval",
		},
		{
			name: "overlap",
			nodes: []*models.NestedSetNode{
				{Node: models.Node{ID: 1, Level: 0}, Lft: 1, Rgt: 3},
				{Node: models.Node{ID: 2, Level: 0}, Lft: 2, Rgt: 4},
			},
			rule: "overlap",
		},
		{
			name: "level skips",
			nodes: []*models.NestedSetNode{
				{Node: models.Node{ID: 1, Level: 0}, Lft: 1, Rgt: 4},
				{Node: models.Node{ID: 2, Level: 2}, Lft: 2, Rgt: 3},
			},
			rule: "parent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkNested(tt.nodes)
			if rules(r)[tt.rule] == 0 {
				t.Errorf("expected %s violation, got %+v", tt.rule, r.Violations)
			}
		})
	}
}

func TestReportViolationsNeverNil(t *testing.T) {
	r := checkEnumeration(nil)
	if r.Violations == nil {
		t.Error("Violations should be an empty slice for JSON output")
	}
	if !r.OK() {
		t.Error("empty table should be OK")
	}
}
