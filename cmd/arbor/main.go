package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matijazezelj/arbor/internal/alert"
	"github.com/matijazezelj/arbor/internal/audit"
	"github.com/matijazezelj/arbor/internal/config"
	"github.com/matijazezelj/arbor/internal/lock"
	"github.com/matijazezelj/arbor/internal/server"
	"github.com/matijazezelj/arbor/internal/tree"
	"github.com/matijazezelj/arbor/pkg/models"
)

var (
	version   = "dev"
	cfgFile   string
	dbPath    string
	logFormat string
	logLevel  string
	logger    *slog.Logger
)

// errViolations makes check commands exit non-zero after printing their report.
var errViolations = errors.New("integrity violations found")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "arbor",
		Short:         "arbor: hierarchical data in a flat relational store",
		Long:          "Store, query and verify trees in SQLite using five encodings: adjacency list, closure table, materialized path, nested set and path enumeration.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			opts := &slog.HandlerOptions{Level: level}
			switch logFormat {
			case "json":
				logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
			case "text":
				logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
			default:
				return fmt.Errorf("invalid --log-format %q (use: text, json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./arbor.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(kindCmds()...)
	root.AddCommand(
		checkCmd(),
		serveCmd(),
		dbCmd(),
		versionCmd(),
		completionCmd(),
	)
	return root
}

// app is an opened database plus the engine options derived from config.
type app struct {
	store *tree.SQLiteStore
	cfg   *config.Config
	path  string
	opts  []tree.Option
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	path := cfg.Storage.Path
	if dbPath != "" {
		path = dbPath
	}

	store, err := tree.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	// one locker for every engine so a process holds at most one writer
	var locker lock.Locker = lock.NewMutex()
	if cfg.Storage.LockFile != "" {
		locker = lock.NewFileLocker(cfg.Storage.LockFile)
	}

	m := cfg.Tree.Materialized
	return &app{
		store: store,
		cfg:   cfg,
		path:  path,
		opts: []tree.Option{
			tree.WithLogger(logger),
			tree.WithLocker(locker),
			tree.WithPathFormat(m.Root, m.Separator, m.Width),
			tree.WithLevelCascade(cfg.Tree.Adjacency.CascadeLevels),
		},
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) adjacency() *tree.AdjacencyEngine {
	return tree.NewAdjacencyEngine(a.store.Adjacency(), a.opts...)
}

func (a *app) closure() *tree.ClosureEngine {
	return tree.NewClosureEngine(a.store.Closure(), a.opts...)
}

func (a *app) materialized() *tree.MaterializedEngine {
	return tree.NewMaterializedEngine(a.store.Materialized(), a.opts...)
}

func (a *app) nested() *tree.NestedSetEngine {
	return tree.NewNestedSetEngine(a.store.Nested(), a.opts...)
}

func (a *app) enumeration() *tree.EnumerationEngine {
	return tree.NewEnumerationEngine(a.store.Enumeration(), a.opts...)
}

func (a *app) checkers() []audit.Checker {
	return []audit.Checker{a.adjacency(), a.closure(), a.materialized(), a.nested(), a.enumeration()}
}

// mirror connects to the configured graph database, or returns nil when
// none is enabled.
func (a *app) mirror() (*tree.Mirror, error) {
	mg := a.cfg.Storage.Memgraph
	if !mg.Enabled {
		return nil, nil
	}
	return tree.NewMirror(mg.URI, mg.Username, mg.Password, logger)
}

func buildAlerter(cfg *config.Config) *alert.Multi {
	var alerters []alert.Alerter
	if cfg.Alerts.Stdout.Enabled {
		alerters = append(alerters, alert.NewStdoutAlerter())
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Headers))
	}
	return alert.NewMulti(alerters...)
}

// --- check ---

func checkCmd() *cobra.Command {
	var noAlerts bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the structural integrity of every tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // best-effort cleanup

			var alerter alert.Alerter
			if multi := buildAlerter(a.cfg); !noAlerts && multi.Len() > 0 {
				alerter = multi
			}

			checkers := a.checkers()
			reports := make([]*tree.Report, len(checkers))
			g, gctx := errgroup.WithContext(ctx)
			for i, c := range checkers {
				g.Go(func() error {
					got := audit.RunOnce(gctx, []audit.Checker{c}, alerter, logger)
					if len(got) == 0 {
						return fmt.Errorf("checking %s tree failed", c.Kind())
					}
					reports[i] = got[0]
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "KIND\tNODES\tVIOLATIONS")
			failed := false
			for _, r := range reports {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", r.Kind, r.Nodes, len(r.Violations))
				failed = failed || !r.OK()
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed {
				return errViolations
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "only print the summary, do not send alerts")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var listen string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			cfg := a.cfg

			if listen == "" {
				listen = cfg.Server.Listen
			}

			srv := server.New(a.store, logger, listen, readOnly || cfg.Server.ReadOnly, cfg.Server.APIToken, cfg.Server.CORSOrigin)
			srv.SetVersion(version)
			server.Register[models.AdjacencyNode](srv, a.adjacency())
			server.Register[models.ClosureNode](srv, a.closure())
			server.Register[models.MaterializedNode](srv, a.materialized())
			server.Register[models.NestedSetNode](srv, a.nested())
			server.Register[models.EnumeratedNode](srv, a.enumeration())

			mirror, err := a.mirror()
			if err != nil {
				logger.Warn("graph mirror unavailable, sync routes disabled", "error", err)
			} else if mirror != nil {
				srv.SetMirror(mirror)
				defer mirror.Close() //nolint:errcheck // best-effort cleanup
			}

			// Scheduled integrity checks
			if cfg.Audit.Interval != "" {
				sched, err := audit.NewScheduler(a.checkers(), buildAlerter(cfg), cfg.Audit.Interval, logger)
				if err != nil {
					logger.Error("invalid audit interval", "error", err)
				} else {
					sched.Start(ctx)
					defer sched.Stop()
				}
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			err = srv.Start(ctx)
			_ = a.Close()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config or :8080)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "disable mutating API routes")
	return cmd
}

// --- db ---

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}
	cmd.AddCommand(dbStatsCmd(), dbBackupCmd())
	return cmd
}

func dbStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // best-effort cleanup

			sizeStr := "unknown"
			if info, err := os.Stat(a.path); err == nil {
				sizeStr = formatBytes(info.Size())
			}

			counts, err := a.store.Counts(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, c := range counts {
				total += c
			}
			_, _ = fmt.Fprintf(out, "Database: %s (%s)\n\n", a.path, sizeStr)
			_, _ = fmt.Fprintf(out, "Nodes: %d\n", total)
			for _, k := range models.Kinds() {
				_, _ = fmt.Fprintf(out, "  %-20s %d\n", k, counts[k])
			}
			return nil
		},
	}
}

func dbBackupCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "backup <output-path>",
		Short: "Write a consistent snapshot of the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dstPath := args[0]
			out := cmd.OutOrStdout()

			if _, err := os.Stat(dstPath); err == nil {
				if !force {
					_, _ = fmt.Fprintf(out, "File %s already exists. Overwrite? [y/N]: ", dstPath)
					reader := bufio.NewReader(cmd.InOrStdin())
					answer, _ := reader.ReadString('\n')
					answer = strings.TrimSpace(strings.ToLower(answer))
					if answer != "y" && answer != "yes" {
						_, _ = fmt.Fprintln(out, "Aborted.")
						return nil
					}
				}
				if err := os.Remove(dstPath); err != nil {
					return fmt.Errorf("removing existing backup: %w", err)
				}
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // best-effort cleanup

			if err := a.store.Backup(ctx, dstPath); err != nil {
				return err
			}

			size := "unknown size"
			if info, err := os.Stat(dstPath); err == nil {
				size = formatBytes(info.Size())
			}
			_, _ = fmt.Fprintf(out, "Backed up %s to %s (%s)\n", a.path, dstPath, size)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing backup without asking")
	return cmd
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "arbor %s\n", version)
		},
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (use: debug, info, warn, error)", s)
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for arbor.

To load completions:

Bash:
  $ source <(arbor completion bash)

Zsh:
  $ arbor completion zsh > "${fpath[1]}/_arbor"

Fish:
  $ arbor completion fish | source

PowerShell:
  PS> arbor completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
