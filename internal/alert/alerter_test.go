package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		Source:    "test",
		EventType: "tree_integrity",
		Severity:  "critical",
		Tree:      Tree{Kind: "nested", Nodes: 12},
		Violations: []Violation{
			{NodeID: 4, Rule: "width", Detail: "width 4 encloses 0 nodes"},
		},
		Message:   "nested tree has 1 integrity violation",
		Timestamp: time.Now(),
	}
}

func TestWebhookAlerter_Success(t *testing.T) {
	var (
		received Event
		header   http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(server.URL, nil)
	err := alerter.Send(context.Background(), testEvent())
	if err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]string{
		"Content-Type":  "application/json",
		"X-Arbor-Event": "tree_integrity",
		"X-Arbor-Tree":  "nested",
	} {
		if got := header.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if received.EventType != "tree_integrity" || received.Severity != "critical" {
		t.Errorf("event_type/severity = %q/%q", received.EventType, received.Severity)
	}
	if received.Tree.Kind != "nested" || received.Tree.Nodes != 12 {
		t.Errorf("tree = %+v", received.Tree)
	}
	if len(received.Violations) != 1 || received.Violations[0].NodeID != 4 || received.Violations[0].Rule != "width" {
		t.Errorf("violations = %+v", received.Violations)
	}
}

func TestWebhookAlerter_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusInternalServerError, "boom\n", "status 500 for nested alert: boom"},
		{"unauthorized", http.StatusUnauthorized, "bad token", "status 401 for nested alert: bad token"},
		{"not modified", http.StatusNotModified, "", "status 304"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewWebhookAlerter(server.URL, nil).Send(context.Background(), testEvent())
			if err == nil {
				t.Fatalf("expected error for %d response", tt.status)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestWebhookAlerter_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom") != "value" {
			t.Errorf("X-Custom = %q, want value", r.Header.Get("X-Custom"))
		}
		if r.Header.Get("Authorization") != "Bearer token123" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	headers := map[string]string{
		"X-Custom":      "value",
		"Authorization": "Bearer token123",
	}
	alerter := NewWebhookAlerter(server.URL, headers)
	if err := alerter.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
}

func TestWebhookAlerter_Name(t *testing.T) {
	a := NewWebhookAlerter("http://example.com", nil)
	if a.Name() != "webhook" {
		t.Errorf("name = %q, want webhook", a.Name())
	}
}

func TestStdoutAlerter_Name(t *testing.T) {
	a := NewStdoutAlerter()
	if a.Name() != "stdout" {
		t.Errorf("name = %q, want stdout", a.Name())
	}
}

func TestStdoutAlerter_Send(t *testing.T) {
	var buf bytes.Buffer
	a := &StdoutAlerter{out: &buf}

	ev := testEvent()
	for i := range 7 {
		ev.Violations = append(ev.Violations, Violation{NodeID: int64(10 + i), Rule: "parent"})
	}
	if err := a.Send(context.Background(), ev); err != nil {
		t.Fatalf("stdout send error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "[CRIT]") {
		t.Errorf("missing severity icon: %q", out)
	}
	if !strings.Contains(out, "node 4 width") {
		t.Errorf("missing first violation: %q", out)
	}
	if !strings.Contains(out, "and 3 more") {
		t.Errorf("long violation lists should be truncated: %q", out)
	}
}

func TestMulti_DispatchesAll(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh1 := NewWebhookAlerter(server.URL, nil)
	wh2 := NewWebhookAlerter(server.URL, nil)
	multi := NewMulti(wh1, wh2)

	err := multi.Send(context.Background(), testEvent())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("multi dispatched to %d, want 2", count)
	}
}

func TestMulti_ReturnsLastError(t *testing.T) {
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failServer.Close()

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	wh1 := NewWebhookAlerter(okServer.URL, nil)
	wh2 := NewWebhookAlerter(failServer.URL, nil)
	multi := NewMulti(wh1, wh2)

	err := multi.Send(context.Background(), testEvent())
	if err == nil {
		t.Error("expected error from failing alerter")
	}
}

func TestMulti_Len(t *testing.T) {
	m := NewMulti(NewStdoutAlerter(), NewWebhookAlerter("http://example.com", nil))
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if m.Name() != "multi" {
		t.Errorf("Name = %q", m.Name())
	}
}
