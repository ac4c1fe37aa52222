package tree

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
	"gopkg.in/yaml.v3"

	"github.com/matijazezelj/arbor/pkg/models"
)

// Export formats.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatDOT     = "dot"
	FormatMermaid = "mermaid"
)

// Formats lists the formats accepted by Export.
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML, FormatDOT, FormatMermaid}
}

// Export renders forest in the named format.
func Export[N models.Noder](kind models.Kind, forest []*models.Tree[N], format string) (string, error) {
	switch format {
	case FormatText, "":
		return RenderText(forest), nil
	case FormatJSON:
		return ExportJSON(forest)
	case FormatYAML:
		return ExportYAML(forest)
	case FormatDOT:
		return ExportDOT(kind, forest), nil
	case FormatMermaid:
		return ExportMermaid(forest), nil
	default:
		return "", fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
}

// ExportJSON returns the forest as indented JSON.
func ExportJSON[N models.Noder](forest []*models.Tree[N]) (string, error) {
	if forest == nil {
		forest = []*models.Tree[N]{}
	}
	b, err := json.MarshalIndent(forest, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportYAML returns the forest as a YAML sequence.
func ExportYAML[N models.Noder](forest []*models.Tree[N]) (string, error) {
	if forest == nil {
		forest = []*models.Tree[N]{}
	}
	b, err := yaml.Marshal(forest)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportDOT returns the forest in Graphviz DOT format with edges pointing
// from parent to child.
func ExportDOT[N models.Noder](kind models.Kind, forest []*models.Tree[N]) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph arbor_%s {\n", kind)
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box, style=filled];\n\n")

	var edges []string
	Walk(forest, func(n N, parentID *int64) {
		base := n.Base()
		fmt.Fprintf(&b, "  \"%d\" [label=\"%s\\n%s\", fillcolor=%q];\n",
			base.ID, dotEscape(base.Name), Locator(n), levelColor(base.Level))
		if parentID != nil {
			edges = append(edges, fmt.Sprintf("  \"%d\" -> \"%d\";\n", *parentID, base.ID))
		}
	})

	if len(edges) > 0 {
		b.WriteString("\n")
		for _, e := range edges {
			b.WriteString(e)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid returns the forest as a top-down Mermaid flowchart.
func ExportMermaid[N models.Noder](forest []*models.Tree[N]) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	Walk(forest, func(n N, parentID *int64) {
		base := n.Base()
		fmt.Fprintf(&b, "  n%d[\"%s\"]\n", base.ID, mermaidEscape(base.Name))
		if parentID != nil {
			fmt.Fprintf(&b, "  n%d --> n%d\n", *parentID, base.ID)
		}
	})
	return b.String()
}

// RenderText draws the forest as an indented tree.
func RenderText[N models.Noder](forest []*models.Tree[N]) string {
	root := treeprint.New()
	var add func(branch treeprint.Tree, t *models.Tree[N])
	add = func(branch treeprint.Tree, t *models.Tree[N]) {
		label := fmt.Sprintf("%s #%d %s", t.Node.Base().Name, t.Node.Base().ID, Locator(t.Node))
		if len(t.Children) == 0 {
			branch.AddNode(strings.TrimSpace(label))
			return
		}
		sub := branch.AddBranch(strings.TrimSpace(label))
		for _, c := range t.Children {
			add(sub, c)
		}
	}
	for _, t := range forest {
		add(root, t)
	}
	return root.String()
}

// Locator returns the structural field that identifies n within its encoding,
// e.g. "(001.002)" or "[2, 5]". Closure nodes have none.
func Locator(n any) string {
	switch v := n.(type) {
	case *models.AdjacencyNode:
		if v.ParentID == nil {
			return "(root)"
		}
		return fmt.Sprintf("(parent %d)", *v.ParentID)
	case *models.MaterializedNode:
		return fmt.Sprintf("(%s)", v.Path)
	case *models.NestedSetNode:
		return fmt.Sprintf("[%d, %d]", v.Lft, v.Rgt)
	case *models.EnumeratedNode:
		return fmt.Sprintf("(%s)", v.Path)
	default:
		return ""
	}
}

func levelColor(level int) string {
	palette := []string{"#F9E79F", "#AED6F1", "#A3E4D7", "#D7BDE2", "#F5CBA7", "#D5D8DC"}
	if level < 0 {
		level = 0
	}
	if level >= len(palette) {
		level = len(palette) - 1
	}
	return palette[level]
}

func dotEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func mermaidEscape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
