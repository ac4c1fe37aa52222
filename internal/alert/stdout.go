package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// maxPrinted caps the violations listed per event.
const maxPrinted = 5

// StdoutAlerter prints events to stdout.
type StdoutAlerter struct {
	out io.Writer
}

// NewStdoutAlerter creates a new stdout alerter.
func NewStdoutAlerter() *StdoutAlerter {
	return &StdoutAlerter{out: os.Stdout}
}

// Name returns "stdout".
func (s *StdoutAlerter) Name() string {
	return "stdout"
}

// Send prints the event to stdout.
func (s *StdoutAlerter) Send(_ context.Context, event Event) error {
	icon := severityIcon(event.Severity)
	ts := event.Timestamp.Format(time.RFC3339)

	fmt.Fprintf(s.out, "%s [%s] %s %s: %s\n", icon, ts, event.EventType, event.Tree.Kind, event.Message)

	for i, v := range event.Violations {
		if i == maxPrinted {
			fmt.Fprintf(s.out, "   ... and %d more\n", len(event.Violations)-maxPrinted)
			break
		}
		fmt.Fprintf(s.out, "   node %d %s: %s\n", v.NodeID, v.Rule, v.Detail)
	}

	return nil
}

func severityIcon(severity string) string {
	switch severity {
	case "critical":
		return "[CRIT]"
	case "warning":
		return "[WARN]"
	case "info":
		return "[INFO]"
	default:
		return "[----]"
	}
}
