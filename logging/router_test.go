package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"rewind/logging"
	loggingrollback "rewind/logging/rollback"
	"rewind/logging/sinks"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestRouterFiltersBySeverityAndAddsFields(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"mode": "synctest"}
	memory := sinks.NewMemorySink()
	clock := fixedClock{now: time.Unix(1_700_000_000, 0)}

	router, err := logging.NewRouter(clock, cfg, nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	loggingrollback.StateSaved(ctx, router, 3, loggingrollback.StateSavedPayload{Checksum: 7, Kinds: 2}, nil)
	loggingrollback.SessionError(ctx, router, 4, loggingrollback.SessionErrorPayload{Error: "boom"}, nil)
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the warning to pass the info threshold, got %d events", len(events))
	}
	event := events[0]
	if event.Type != loggingrollback.EventSessionError || event.Frame != 4 {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Extra["mode"] != "synctest" {
		t.Fatalf("expected router fields on the event, got %v", event.Extra)
	}
	if !event.Time.Equal(clock.now) {
		t.Fatalf("expected the router clock to stamp the event, got %v", event.Time)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	loggingrollback.SessionReset(context.Background(), router, 0, nil)
	if got := len(memory.Events()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

type failingSink struct{ writes int }

func (s *failingSink) Write(logging.Event) error {
	s.writes++
	return errors.New("disk full")
}

func (s *failingSink) Close(context.Context) error { return nil }

func TestRouterPausesFailingSink(t *testing.T) {
	failing := &failingSink{}
	memory := sinks.NewMemorySink()
	var fallback bytes.Buffer
	clock := fixedClock{now: time.Unix(1_700_000_000, 0)}
	router, err := logging.NewRouter(clock, logging.DefaultConfig(), log.New(&fallback, "", 0), []logging.NamedSink{
		{Name: "failing", Sink: failing},
		{Name: "memory", Sink: memory},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		loggingrollback.SessionError(ctx, router, int64(i), loggingrollback.SessionErrorPayload{Error: "boom"}, nil)
	}
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if failing.writes != 1 {
		t.Fatalf("expected the sink to be paused after its first failure, got %d writes", failing.writes)
	}
	if got := len(memory.Events()); got != 3 {
		t.Fatalf("expected the healthy sink to receive every event, got %d", got)
	}
	if stats := router.Stats(); stats.EventsTotal != 3 || stats.DroppedTotal != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	out := fallback.String()
	if !strings.Contains(out, "sink failing failed: disk full") || !strings.Contains(out, "dropped 2 events") {
		t.Fatalf("unexpected fallback output %q", out)
	}
}

func TestJSONSinkWritesPayload(t *testing.T) {
	var buf bytes.Buffer
	sink := sinks.NewJSON(&buf, 0)
	event := logging.Event{
		Type:     loggingrollback.EventChecksumMismatch,
		Frame:    9,
		Severity: logging.SeverityError,
		Category: logging.CategoryRollback,
		Payload:  loggingrollback.ChecksumMismatchPayload{CurrentFrame: 9, Frames: []int32{7, 8}},
	}
	if err := sink.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if !strings.Contains(buf.String(), `"frames":[7,8]`) {
		t.Fatalf("expected the payload in the output, got %s", buf.String())
	}
}

func TestMetricsSnapshotIsACopy(t *testing.T) {
	var metrics logging.Metrics
	metrics.TelemetryAdd("driver.saves", 2)
	metrics.TelemetryAdd("driver.saves", 3)
	metrics.TelemetryStore("driver.confirmed_frame", 11)

	snap := metrics.Snapshot()
	snap["driver.saves"] = 0
	again := metrics.Snapshot()
	if again["driver.saves"] != 5 || again["driver.confirmed_frame"] != 11 {
		t.Fatalf("unexpected metrics %v", again)
	}
}
