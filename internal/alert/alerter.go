package alert

import (
	"context"
	"time"
)

// Event represents an alert event sent to alerting backends.
type Event struct {
	Source     string      `json:"source"`
	EventType  string      `json:"event_type"`
	Severity   string      `json:"severity"`
	Tree       Tree        `json:"tree"`
	Violations []Violation `json:"violations,omitempty"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Tree identifies the encoding an event is about.
type Tree struct {
	Kind  string `json:"kind"`
	Nodes int    `json:"nodes"`
}

// Violation is one failed integrity rule carried by an event.
type Violation struct {
	NodeID int64  `json:"node_id"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Alerter defines the interface for sending alert events.
type Alerter interface {
	// Name returns the alerter identifier.
	Name() string

	// Send dispatches an event to the alerting backend.
	Send(ctx context.Context, event Event) error
}

// Multi sends events to multiple alerters.
type Multi struct {
	alerters []Alerter
}

// NewMulti creates a multi-alerter that dispatches to all backends.
func NewMulti(alerters ...Alerter) *Multi {
	return &Multi{alerters: alerters}
}

// Name returns "multi".
func (m *Multi) Name() string {
	return "multi"
}

// Len reports how many backends are configured.
func (m *Multi) Len() int {
	return len(m.alerters)
}

// Send dispatches the event to all configured alerters.
func (m *Multi) Send(ctx context.Context, event Event) error {
	var lastErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
