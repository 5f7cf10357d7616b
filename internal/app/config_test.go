package app

import (
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"

	"rewind/internal/session"
	"rewind/logging"
)

func loadFrom(t *testing.T, vars map[string]string) (Config, error) {
	t.Helper()
	return loadConfig(env.Options{Environment: vars})
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ModeSyncTest {
		t.Fatalf("expected synctest mode, got %q", cfg.Mode)
	}
	if cfg.TickRate != 60 || cfg.MaxPrediction != 8 || cfg.CheckDistance != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Players) != 2 {
		t.Fatalf("expected two default players, got %v", cfg.Players)
	}
	if cfg.LogFlush != time.Second {
		t.Fatalf("expected 1s flush, got %v", cfg.LogFlush)
	}
}

func TestLoadConfigP2P(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"REWIND_MODE":        "P2P",
		"REWIND_PEER_ID":     "a",
		"REWIND_PLAYERS":     "local,b",
		"REWIND_PEER_ADDRS":  "b=ws://10.0.0.2:8080/rollback",
		"REWIND_SPECTATORS":  "watcher, ",
		"REWIND_LOG_SINKS":   "console,json",
		"ENABLE_PPROF_TRACE": "true",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ModeP2P {
		t.Fatalf("expected mode to be normalised, got %q", cfg.Mode)
	}

	players := cfg.SessionPlayers()
	want := []session.Player{session.Local(), session.Remote("b")}
	if len(players) != len(want) || players[0] != want[0] || players[1] != want[1] {
		t.Fatalf("unexpected players: %+v", players)
	}

	addrs, err := cfg.PeerAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addrs["b"] != "ws://10.0.0.2:8080/rollback" {
		t.Fatalf("unexpected peer addresses: %v", addrs)
	}

	spectators := cfg.SpectatorPeers()
	if len(spectators) != 1 || spectators[0] != "watcher" {
		t.Fatalf("unexpected spectators: %v", spectators)
	}
	if !cfg.Observability().EnablePprofTrace {
		t.Fatalf("expected pprof to be enabled")
	}
	if !cfg.LoggingConfig().HasSink("json") {
		t.Fatalf("expected the json sink to be enabled")
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]string
		want string
	}{
		{name: "unknown mode", vars: map[string]string{"REWIND_MODE": "lan"}, want: "unknown mode"},
		{name: "bad tick rate", vars: map[string]string{"REWIND_TICK_RATE": "0"}, want: "tick rate"},
		{name: "unparseable tick rate", vars: map[string]string{"REWIND_TICK_RATE": "fast"}, want: "parse env"},
		{name: "remote player in synctest", vars: map[string]string{"REWIND_PLAYERS": "local,b"}, want: "synctest players"},
		{name: "p2p without peer id", vars: map[string]string{"REWIND_MODE": "p2p", "REWIND_PLAYERS": "local,b"}, want: "REWIND_PEER_ID"},
		{name: "p2p naming itself", vars: map[string]string{"REWIND_MODE": "p2p", "REWIND_PEER_ID": "a", "REWIND_PLAYERS": "a,b"}, want: "names this peer"},
		{name: "malformed peer address", vars: map[string]string{"REWIND_PEER_ADDRS": "b"}, want: "id=ws://"},
		{name: "spectator without host", vars: map[string]string{"REWIND_MODE": "spectator", "REWIND_PEER_ID": "s"}, want: "REWIND_HOST"},
		{name: "negative frame limit", vars: map[string]string{"REWIND_FRAME_LIMIT": "-1"}, want: "frame limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFrom(t, tc.vars)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSpectatorHostAddress(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"REWIND_MODE":    "spectator",
		"REWIND_PEER_ID": "watcher",
		"REWIND_HOST":    "a=ws://localhost:8080/rollback",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	host, addr, err := cfg.HostAddress()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "a" || addr != "ws://localhost:8080/rollback" {
		t.Fatalf("unexpected host %q at %q", host, addr)
	}
}

func TestLoggingConfigSeverity(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{"REWIND_LOG_SEVERITY": "debug", "REWIND_LOG_JSON_PATH": "/tmp/rewind.log"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logCfg := cfg.LoggingConfig()
	if logCfg.MinimumSeverity != logging.SeverityDebug {
		t.Fatalf("expected debug severity, got %v", logCfg.MinimumSeverity)
	}
	if logCfg.JSON.FilePath != "/tmp/rewind.log" {
		t.Fatalf("unexpected json path %q", logCfg.JSON.FilePath)
	}
	if logCfg.Fields["mode"] != ModeSyncTest {
		t.Fatalf("expected the mode field, got %v", logCfg.Fields)
	}
}
