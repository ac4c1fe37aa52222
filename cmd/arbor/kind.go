package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matijazezelj/arbor/internal/tree"
	"github.com/matijazezelj/arbor/pkg/models"
)

func kindCmds() []*cobra.Command {
	return []*cobra.Command{
		kindCmd[models.AdjacencyNode](models.KindAdjacency,
			"Adjacency list: each node points at its parent",
			func(a *app) tree.Engine[*models.AdjacencyNode] { return a.adjacency() }),
		kindCmd[models.ClosureNode](models.KindClosure,
			"Closure table: every ancestor/descendant pair is stored",
			func(a *app) tree.Engine[*models.ClosureNode] { return a.closure() }),
		kindCmd[models.MaterializedNode](models.KindMaterialized,
			"Materialized path: fixed-width sibling ordinals, e.g. 001.002",
			func(a *app) tree.Engine[*models.MaterializedNode] { return a.materialized() }),
		kindCmd[models.NestedSetNode](models.KindNested,
			"Nested set: each subtree spans an interval [lft, rgt]",
			func(a *app) tree.Engine[*models.NestedSetNode] { return a.nested() }),
		kindCmd[models.EnumeratedNode](models.KindEnumeration,
			"Path enumeration: ancestor ids as a path, e.g. /1/4/",
			func(a *app) tree.Engine[*models.EnumeratedNode] { return a.enumeration() }),
	}
}

type nodePtr[T any] interface {
	*T
	models.Noder
}

func kindCmd[T any, P nodePtr[T]](kind models.Kind, short string, open func(*app) tree.Engine[P]) *cobra.Command {
	return kindCLI[T, P]{kind: kind, short: short, open: open}.command()
}

// kindCLI builds the command group of one encoding. T is the node type.
type kindCLI[T any, P nodePtr[T]] struct {
	kind  models.Kind
	short string
	open  func(*app) tree.Engine[P]
}

func (k kindCLI[T, P]) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(k.kind),
		Short: k.short,
	}
	cmd.AddCommand(
		k.createCmd(),
		k.updateCmd(),
		k.deleteCmd(),
		k.getCmd(),
		k.listCmd(),
		k.relativesCmd("children", "List the direct children of a node", tree.Engine[P].Children),
		k.relativesCmd("descendants", "List every node below a node", tree.Engine[P].Descendants),
		k.relativesCmd("ancestors", "List every node above a node, root first", tree.Engine[P].Ancestors),
		k.treeCmd(),
		k.checkCmd(),
		k.importCmd(),
		k.syncCmd(),
	)
	return cmd
}

// run opens the database and hands fn the engine.
func (k kindCLI[T, P]) run(fn func(ctx context.Context, out io.Writer, a *app, e tree.Engine[P], args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck // best-effort cleanup
		return fn(ctx, cmd.OutOrStdout(), a, k.open(a), args)
	}
}

func (k kindCLI[T, P]) createCmd() *cobra.Command {
	var name, description string
	var disabled bool
	var parent int64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a root, or a child with --parent",
	}
	cmd.RunE = k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], _ []string) error {
		var parentID *int64
		if cmd.Flags().Changed("parent") {
			parentID = &parent
		}
		n := tree.NewNode[T, P](models.Node{Name: name, Description: description, Disabled: disabled})
		n, err := e.Create(ctx, n, parentID)
		if err != nil {
			return err
		}
		return printNodes(out, []P{n})
	})

	cmd.Flags().StringVar(&name, "name", "", "node name")
	cmd.Flags().StringVar(&description, "description", "", "node description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "mark the node disabled")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent node id (omit for a root)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (k kindCLI[T, P]) updateCmd() *cobra.Command {
	var name, description string
	var disabled bool
	var parent int64

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a node's payload",
		Args:  cobra.ExactArgs(1),
	}
	if k.kind == models.KindAdjacency {
		cmd.Short = "Change a node's payload, or move it with --parent"
	}
	cmd.RunE = k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		n, err := e.Get(ctx, id)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		base := n.Base()
		if flags.Changed("name") {
			base.Name = name
		}
		if flags.Changed("description") {
			base.Description = description
		}
		if flags.Changed("disabled") {
			base.Disabled = disabled
		}
		if adj, ok := any(n).(*models.AdjacencyNode); ok && flags.Changed("parent") {
			adj.ParentID = &parent
		}

		n, err = e.Update(ctx, n)
		if err != nil {
			return err
		}
		return printNodes(out, []P{n})
	})

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "mark the node disabled")
	if k.kind == models.KindAdjacency {
		cmd.Flags().Int64Var(&parent, "parent", 0, "move the node under this parent")
	}
	return cmd
}

func (k kindCLI[T, P]) deleteCmd() *cobra.Command {
	short := "Delete a leaf node"
	if k.kind == models.KindNested {
		short = "Delete a node and its subtree"
	}
	return &cobra.Command{
		Use:   "delete <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := e.Delete(ctx, id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Deleted %s node %d\n", k.kind, id)
			return nil
		}),
	}
}

func (k kindCLI[T, P]) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one node",
		Args:  cobra.ExactArgs(1),
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			n, err := e.Get(ctx, id)
			if err != nil {
				return err
			}
			return printNodes(out, []P{n})
		}),
	}
}

func (k kindCLI[T, P]) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every node",
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], _ []string) error {
			nodes, err := e.All(ctx)
			if err != nil {
				return err
			}
			return printNodes(out, nodes)
		}),
	}
}

func (k kindCLI[T, P]) relativesCmd(use, short string, query func(tree.Engine[P], context.Context, int64) ([]P, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			nodes, err := query(e, ctx, id)
			if err != nil {
				return err
			}
			return printNodes(out, nodes)
		}),
	}
}

func (k kindCLI[T, P]) treeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the whole forest",
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], _ []string) error {
			forest, err := e.BuildTree(ctx)
			if err != nil {
				return err
			}
			rendered, err := tree.Export(k.kind, forest, format)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(out, rendered)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", tree.FormatText, "output format (text, json, yaml, dot, mermaid)")
	return cmd
}

func (k kindCLI[T, P]) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the tree's structural invariants",
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], _ []string) error {
			report, err := e.Check(ctx)
			if err != nil {
				return err
			}
			if err := printReport(out, report); err != nil {
				return err
			}
			if !report.OK() {
				return errViolations
			}
			return nil
		}),
	}
}

func (k kindCLI[T, P]) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create nodes from a YAML outline (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: k.run(func(ctx context.Context, out io.Writer, _ *app, e tree.Engine[P], args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0]) // #nosec G304 -- path from user CLI arg
				if err != nil {
					return fmt.Errorf("opening outline: %w", err)
				}
				defer f.Close() //nolint:errcheck // best-effort cleanup
				r = f
			}

			outlines, err := tree.ParseOutline(r)
			if err != nil {
				return err
			}
			created, err := tree.Import[T, P](ctx, e, outlines)
			_, _ = fmt.Fprintf(out, "Imported %d %s node(s)\n", created, k.kind)
			return err
		}),
	}
}

func (k kindCLI[T, P]) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the tree's projection in the graph database",
		RunE: k.run(func(ctx context.Context, out io.Writer, a *app, e tree.Engine[P], _ []string) error {
			mirror, err := a.mirror()
			if err != nil {
				return err
			}
			if mirror == nil {
				return fmt.Errorf("graph mirror disabled (set storage.memgraph.enabled)")
			}
			defer mirror.Close() //nolint:errcheck // best-effort cleanup

			forest, err := e.BuildTree(ctx)
			if err != nil {
				return err
			}
			synced, err := tree.SyncForest(ctx, mirror, k.kind, forest)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Synced %d %s node(s) to %s\n", synced, k.kind, a.cfg.Storage.Memgraph.URI)
			return nil
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return id, nil
}

func printNodes[N models.Noder](out io.Writer, nodes []N) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tLEVEL\tLOCATOR\tDISABLED")
	for _, n := range nodes {
		b := n.Base()
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\n", b.ID, b.Name, b.Level, tree.Locator(n), b.Disabled)
	}
	return w.Flush()
}

func printReport(out io.Writer, r *tree.Report) error {
	if r.OK() {
		_, err := fmt.Fprintf(out, "%s: %d node(s), no violations\n", r.Kind, r.Nodes)
		return err
	}

	_, _ = fmt.Fprintf(out, "%s: %d node(s), %d violation(s)\n", r.Kind, r.Nodes, len(r.Violations))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NODE\tRULE\tDETAIL")
	for _, v := range r.Violations {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", v.NodeID, v.Rule, v.Detail)
	}
	return w.Flush()
}
