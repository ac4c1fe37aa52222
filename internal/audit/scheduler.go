package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matijazezelj/arbor/internal/alert"
	"github.com/matijazezelj/arbor/internal/tree"
	"github.com/matijazezelj/arbor/pkg/models"
)

// Checker is the part of a tree engine the scheduler needs.
type Checker interface {
	Kind() models.Kind
	Check(ctx context.Context) (*tree.Report, error)
}

// Scheduler periodically checks tree integrity and alerts on violations.
type Scheduler struct {
	checkers []Checker
	alerter  alert.Alerter
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler that checks every engine on the given
// interval. The interval string is parsed with time.ParseDuration (e.g. "6h", "30m").
func NewScheduler(checkers []Checker, alerter alert.Alerter, interval string, logger *slog.Logger) (*Scheduler, error) {
	d, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("invalid audit interval %q: %w", interval, err)
	}
	if d < 1*time.Minute {
		return nil, fmt.Errorf("audit interval must be at least 1m, got %s", d)
	}
	return &Scheduler{
		checkers: checkers,
		alerter:  alerter,
		interval: d,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the periodic audit loop. Call Stop() to terminate.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("tree audit scheduler started", "interval", s.interval.String(), "engines", len(s.checkers))

		for {
			select {
			case <-ticker.C:
				s.logger.Info("starting scheduled tree audit")
				RunOnce(ctx, s.checkers, s.alerter, s.logger)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// RunOnce checks every engine, sends one event per engine with violations
// and returns the reports. Engines whose check fails are logged and skipped.
func RunOnce(ctx context.Context, checkers []Checker, alerter alert.Alerter, logger *slog.Logger) []*tree.Report {
	reports := make([]*tree.Report, 0, len(checkers))
	for _, c := range checkers {
		report, err := c.Check(ctx)
		if err != nil {
			logger.Warn("tree check failed", "kind", c.Kind(), "error", err)
			continue
		}
		reports = append(reports, report)

		if report.OK() {
			logger.Debug("tree check passed", "kind", report.Kind, "nodes", report.Nodes)
			continue
		}
		logger.Warn("tree integrity violations", "kind", report.Kind, "violations", len(report.Violations))

		if alerter == nil {
			continue
		}
		if err := alerter.Send(ctx, Event(report)); err != nil {
			logger.Warn("failed to send audit alert", "kind", report.Kind, "error", err)
		}
	}
	return reports
}

// Event converts a failed report into an alert event.
func Event(report *tree.Report) alert.Event {
	violations := make([]alert.Violation, len(report.Violations))
	for i, v := range report.Violations {
		violations[i] = alert.Violation{NodeID: v.NodeID, Rule: v.Rule, Detail: v.Detail}
	}

	noun := "violations"
	if len(violations) == 1 {
		noun = "violation"
	}
	return alert.Event{
		Source:     "arbor",
		EventType:  "tree_integrity",
		Severity:   "critical",
		Tree:       alert.Tree{Kind: string(report.Kind), Nodes: report.Nodes},
		Violations: violations,
		Message:    fmt.Sprintf("%s tree has %d integrity %s", report.Kind, len(violations), noun),
		Timestamp:  time.Now(),
	}
}
