package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rewind/internal/telemetry"
	"rewind/logging"
	loggingrollback "rewind/logging/rollback"
	loggingSinks "rewind/logging/sinks"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := loadFrom(t, map[string]string{
		"REWIND_TICK_RATE":     "120",
		"REWIND_FRAME_LIMIT":   "30",
		"REWIND_LISTEN_ADDR":   "127.0.0.1:0",
		"REWIND_LOG_SINKS":     "json",
		"REWIND_LOG_JSON_PATH": filepath.Join(t.TempDir(), "rewind.log"),
		"REWIND_LOG_SEVERITY":  "debug",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func TestRunSyncTestStopsAtFrameLimit(t *testing.T) {
	cfg := testConfig(t)
	memory := loggingSinks.NewMemorySink()
	reg := prometheus.NewRegistry()
	var last atomic.Uint32

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Run(ctx, cfg,
		WithLogger(telemetry.LoggerFunc(t.Logf)),
		WithSinks(logging.NamedSink{Name: "memory", Sink: memory}),
		WithPrometheusRegistry(reg),
		WithFrameObserver(func(g *Game) { last.Store(g.Snapshot().Frame) }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the frame limit to stop the run before the deadline")
	}
	if got := last.Load(); got < 30 {
		t.Fatalf("expected at least 30 frames, got %d", got)
	}

	var saves, mismatches int
	for _, event := range memory.Events() {
		switch event.Type {
		case loggingrollback.EventStateSaved:
			saves++
		case loggingrollback.EventChecksumMismatch:
			mismatches++
		}
	}
	if saves == 0 {
		t.Fatalf("expected save events to reach the memory sink")
	}
	if mismatches != 0 {
		t.Fatalf("expected a deterministic run, got %d mismatches", mismatches)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected the driver to have reported metrics")
	}
}

func TestRunServesHealthAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.FrameLimit = 0

	ready := make(chan struct{})
	var (
		once atomic.Bool
		addr atomic.Value
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg,
			WithLogger(telemetry.LoggerFunc(func(format string, args ...any) {
				if strings.HasPrefix(format, "rewind %s listening on") && once.CompareAndSwap(false, true) {
					addr.Store(args[1])
					close(ready)
				}
			})),
		)
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}
	base := "http://" + addr.Load().(net.Addr).String()

	for path, want := range map[string]string{"/healthz": "ok events=", "/metrics": "rewind_events_total"} {
		var body string
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			body = fetch(t, base+path)
			if strings.Contains(body, want) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s to contain %q, got %q", path, want, body)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(data)
}

func TestBuildSinksRejectsUnknownNames(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{"console", "syslog"}
	if _, _, err := buildSinks(cfg); err == nil {
		t.Fatalf("expected an error for an unknown sink")
	}
}
