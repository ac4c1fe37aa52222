package tree

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/matijazezelj/arbor/pkg/models"
)

// Report is the outcome of an engine's structural check.
type Report struct {
	Kind       models.Kind `json:"kind" yaml:"kind"`
	Nodes      int         `json:"nodes" yaml:"nodes"`
	Violations []Violation `json:"violations" yaml:"violations"`
}

// Violation is one broken invariant. NodeID is 0 for table-wide rules.
type Violation struct {
	NodeID int64  `json:"node_id" yaml:"node_id"`
	Rule   string `json:"rule" yaml:"rule"`
	Detail string `json:"detail" yaml:"detail"`
}

// OK reports whether no violations were found.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

func (r *Report) add(id int64, rule, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{NodeID: id, Rule: rule, Detail: fmt.Sprintf(format, args...)})
}

func (r *Report) sorted() *Report {
	slices.SortStableFunc(r.Violations, func(a, b Violation) int {
		return cmp.Or(cmp.Compare(a.NodeID, b.NodeID), cmp.Compare(a.Rule, b.Rule))
	})
	if r.Violations == nil {
		r.Violations = []Violation{}
	}
	return r
}

func checkAdjacency(nodes []*models.AdjacencyNode) *Report {
	r := &Report{Kind: models.KindAdjacency, Nodes: len(nodes)}

	byID := make(map[int64]*models.AdjacencyNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	for _, n := range nodes {
		if n.ParentID == nil {
			if n.Level != 0 {
				r.add(n.ID, "level", "root has level %d", n.Level)
			}
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			r.add(n.ID, "orphan", "parent %d does not exist", *n.ParentID)
			continue
		}
		// A reparent without level cascade leaves descendants one step
		// behind; that drift is reported here like any other.
		if n.Level != parent.Level+1 {
			r.add(n.ID, "level", "level %d under parent level %d (stale after a move without level cascade)", n.Level, parent.Level)
		}
	}

	for _, n := range nodes {
		seen := map[int64]bool{}
		for cur := n; cur.ParentID != nil; {
			next, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			if next.ID == n.ID {
				r.add(n.ID, "cycle", "node is its own ancestor")
				break
			}
			if seen[next.ID] {
				break
			}
			seen[next.ID] = true
			cur = next
		}
	}
	return r.sorted()
}

func checkClosure(nodes []*models.ClosureNode, paths []models.PathEntry) *Report {
	r := &Report{Kind: models.KindClosure, Nodes: len(nodes)}

	type pair struct{ anc, desc int64 }
	actual := make(map[pair]int, len(paths))
	selfEntries := map[int64]int{}
	parents := map[int64][]int64{}
	for _, p := range paths {
		actual[pair{p.AncestorID, p.DescendantID}] = p.Distance
		switch p.Distance {
		case 0:
			if p.AncestorID == p.DescendantID {
				selfEntries[p.DescendantID]++
			}
		case 1:
			parents[p.DescendantID] = append(parents[p.DescendantID], p.AncestorID)
		}
	}

	expected := make(map[pair]int, len(paths))
	for _, n := range nodes {
		if selfEntries[n.ID] != 1 {
			r.add(n.ID, "self-entry", "found %d self entries", selfEntries[n.ID])
		}

		ps := parents[n.ID]
		switch {
		case n.Level == 0 && len(ps) > 0:
			r.add(n.ID, "parent-entry", "root has parent entries %v", ps)
		case n.Level > 0 && len(ps) != 1:
			r.add(n.ID, "parent-entry", "expected one parent entry, found %v", ps)
		}

		expected[pair{n.ID, n.ID}] = 0
		depth, cur := 0, n.ID
		seen := map[int64]bool{n.ID: true}
		for len(parents[cur]) > 0 {
			cur = parents[cur][0]
			if seen[cur] {
				break
			}
			seen[cur] = true
			depth++
			expected[pair{cur, n.ID}] = depth
		}
		if n.Level != depth {
			r.add(n.ID, "level", "level %d at depth %d", n.Level, depth)
		}
	}

	for k, d := range expected {
		if got, ok := actual[k]; !ok || got != d {
			r.add(k.desc, "closure", "missing entry (%d, %d, %d)", k.anc, k.desc, d)
		}
	}
	for k, d := range actual {
		if _, ok := expected[k]; !ok {
			r.add(k.desc, "closure", "stale entry (%d, %d, %d)", k.anc, k.desc, d)
		}
	}
	return r.sorted()
}

func checkMaterialized(nodes []*models.MaterializedNode, root, sep string, width int) *Report {
	r := &Report{Kind: models.KindMaterialized, Nodes: len(nodes)}

	byPath := make(map[string]*models.MaterializedNode, len(nodes))
	for _, n := range nodes {
		if other, ok := byPath[n.Path]; ok {
			r.add(n.ID, "duplicate-path", "path %q also held by %d", n.Path, other.ID)
			continue
		}
		byPath[n.Path] = n
	}

	for _, n := range nodes {
		if depth := strings.Count(n.Path, sep); n.Level != depth {
			r.add(n.ID, "level", "level %d for path %q", n.Level, n.Path)
		}
		if n.Level == 0 {
			if n.Path != root {
				r.add(n.ID, "root-path", "root path %q, want %q", n.Path, root)
			}
			continue
		}

		i := strings.LastIndex(n.Path, sep)
		if i < 0 {
			r.add(n.ID, "parent-path", "path %q has no parent segment", n.Path)
			continue
		}
		if _, ok := byPath[n.Path[:i]]; !ok {
			r.add(n.ID, "parent-path", "no node holds parent path %q", n.Path[:i])
		}
		if seg := n.Path[i+len(sep):]; !validSegment(seg, width) {
			r.add(n.ID, "segment", "segment %q is not %d digits", seg, width)
		}
	}
	return r.sorted()
}

func validSegment(seg string, width int) bool {
	if len(seg) != width {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func checkNested(nodes []*models.NestedSetNode) *Report {
	r := &Report{Kind: models.KindNested, Nodes: len(nodes)}

	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b *models.NestedSetNode) int { return cmp.Compare(a.Lft, b.Lft) })

	endpoints := make([]int, 0, 2*len(sorted))
	for _, n := range sorted {
		endpoints = append(endpoints, n.Lft, n.Rgt)
	}
	slices.Sort(endpoints)
	for i, v := range endpoints {
		if v != i+1 {
			r.add(0, "endpoints", "endpoint %d found where %d was expected", v, i+1)
			break
		}
	}

	var open []*models.NestedSetNode
	for i, n := range sorted {
		if n.Lft >= n.Rgt {
			r.add(n.ID, "interval", "lft %d is not below rgt %d", n.Lft, n.Rgt)
			continue
		}

		inside := 0
		for _, m := range sorted[i+1:] {
			if m.Lft >= n.Rgt {
				break
			}
			if m.Rgt > n.Rgt {
				r.add(n.ID, "overlap", "interval [%d, %d] crosses node %d [%d, %d]", n.Lft, n.Rgt, m.ID, m.Lft, m.Rgt)
				continue
			}
			inside++
		}
		if width := n.Rgt - n.Lft + 1; width != 2*(inside+1) {
			r.add(n.ID, "width", "width %d encloses %d nodes", width, inside)
		}

		for len(open) > 0 && open[len(open)-1].Rgt < n.Lft {
			open = open[:len(open)-1]
		}
		var enclosing *models.NestedSetNode
		if len(open) > 0 && open[len(open)-1].Rgt > n.Rgt {
			enclosing = open[len(open)-1]
		}
		switch {
		case n.Level == 0 && enclosing != nil:
			r.add(n.ID, "parent", "root inside node %d", enclosing.ID)
		case n.Level > 0 && enclosing == nil:
			r.add(n.ID, "parent", "no enclosing interval at level %d", n.Level-1)
		case n.Level > 0 && enclosing.Level != n.Level-1:
			r.add(n.ID, "parent", "innermost enclosing node %d has level %d", enclosing.ID, enclosing.Level)
		}
		open = append(open, n)
	}
	return r.sorted()
}

func checkEnumeration(nodes []*models.EnumeratedNode) *Report {
	r := &Report{Kind: models.KindEnumeration, Nodes: len(nodes)}

	byID := make(map[int64]*models.EnumeratedNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	for _, n := range nodes {
		ids, err := pathIDs(n.Path)
		if err != nil || !strings.HasPrefix(n.Path, enumerationSep) || !strings.HasSuffix(n.Path, enumerationSep) {
			r.add(n.ID, "parent-path", "malformed path %q", n.Path)
			continue
		}
		if n.Level != len(ids) {
			r.add(n.ID, "level", "level %d for path %q", n.Level, n.Path)
		}
		if len(ids) == 0 {
			continue
		}
		parent, ok := byID[ids[len(ids)-1]]
		if !ok {
			r.add(n.ID, "parent-path", "parent %d does not exist", ids[len(ids)-1])
			continue
		}
		if want := childPath(parent); n.Path != want {
			r.add(n.ID, "parent-path", "path %q, want %q", n.Path, want)
		}
	}
	return r.sorted()
}
