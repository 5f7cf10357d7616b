package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"rewind/internal/observability"
	"rewind/internal/session"
	"rewind/logging"
)

// Session modes.
const (
	ModeSyncTest  = "synctest"
	ModeP2P       = "p2p"
	ModeSpectator = "spectator"
)

// LocalPlayer is the REWIND_PLAYERS entry that marks a player driven by this
// process. Any other entry names the peer that owns the player.
const LocalPlayer = "local"

// Config is read from the environment by LoadConfig.
type Config struct {
	Mode     string `env:"REWIND_MODE" envDefault:"synctest"`
	TickRate int    `env:"REWIND_TICK_RATE" envDefault:"60"`
	Seed     string `env:"REWIND_SEED" envDefault:"rewind"`
	// FrameLimit stops the run after that many frames. Zero runs until the
	// context ends.
	FrameLimit int `env:"REWIND_FRAME_LIMIT"`

	Players        []string `env:"REWIND_PLAYERS" envSeparator:"," envDefault:"local,local"`
	MaxPrediction  int      `env:"REWIND_MAX_PREDICTION" envDefault:"8"`
	CheckDistance  int      `env:"REWIND_CHECK_DISTANCE" envDefault:"2"`
	InputDelay     int      `env:"REWIND_INPUT_DELAY"`
	DesyncInterval int      `env:"REWIND_DESYNC_INTERVAL" envDefault:"10"`

	PeerID string `env:"REWIND_PEER_ID"`
	// ListenAddr serves peers, metrics, health and pprof.
	ListenAddr string   `env:"REWIND_LISTEN_ADDR" envDefault:":8080"`
	PeerAddrs  []string `env:"REWIND_PEER_ADDRS" envSeparator:","`
	Spectators []string `env:"REWIND_SPECTATORS" envSeparator:","`
	Host       string   `env:"REWIND_HOST"`

	LogSinks    []string      `env:"REWIND_LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogSeverity string        `env:"REWIND_LOG_SEVERITY" envDefault:"info"`
	LogJSONPath string        `env:"REWIND_LOG_JSON_PATH"`
	LogFlush    time.Duration `env:"REWIND_LOG_FLUSH" envDefault:"1s"`

	EnablePprofTrace bool `env:"ENABLE_PPROF_TRACE"`
}

// LoadConfig parses the process environment and validates the result.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency in cfg.
func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return errors.New("config: tick rate must be positive")
	}
	if c.FrameLimit < 0 {
		return errors.New("config: frame limit must not be negative")
	}
	if _, err := c.PeerAddresses(); err != nil {
		return err
	}
	switch c.Mode {
	case ModeSyncTest:
		if len(c.Players) == 0 {
			return errors.New("config: synctest needs at least one player")
		}
		for _, p := range c.Players {
			if p != LocalPlayer {
				return fmt.Errorf("config: synctest players must all be %q, got %q", LocalPlayer, p)
			}
		}
	case ModeP2P:
		if len(c.Players) == 0 {
			return errors.New("config: p2p needs at least one player")
		}
		if err := c.validatePeerID(); err != nil {
			return err
		}
		for _, p := range c.Players {
			if p == c.PeerID {
				return fmt.Errorf("config: player %q names this peer; use %q", p, LocalPlayer)
			}
		}
	case ModeSpectator:
		if err := c.validatePeerID(); err != nil {
			return err
		}
		if c.Host == "" {
			return errors.New("config: spectator needs REWIND_HOST")
		}
		if _, _, err := splitPeerAddr(c.Host); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	return nil
}

func (c Config) validatePeerID() error {
	if c.PeerID == "" || c.PeerID == LocalPlayer {
		return fmt.Errorf("config: %s needs a REWIND_PEER_ID other than %q", c.Mode, LocalPlayer)
	}
	return nil
}

// SessionPlayers converts the player list into session players.
func (c Config) SessionPlayers() []session.Player {
	players := make([]session.Player, len(c.Players))
	for i, p := range c.Players {
		if p == LocalPlayer {
			players[i] = session.Local()
		} else {
			players[i] = session.Remote(session.PeerID(p))
		}
	}
	return players
}

// SpectatorPeers returns the configured spectator IDs.
func (c Config) SpectatorPeers() []session.PeerID {
	peers := make([]session.PeerID, 0, len(c.Spectators))
	for _, s := range c.Spectators {
		if s = strings.TrimSpace(s); s != "" {
			peers = append(peers, session.PeerID(s))
		}
	}
	return peers
}

// PeerAddresses parses REWIND_PEER_ADDRS entries of the form id=ws://host/path.
func (c Config) PeerAddresses() (map[session.PeerID]string, error) {
	out := make(map[session.PeerID]string, len(c.PeerAddrs))
	for _, entry := range c.PeerAddrs {
		id, addr, err := splitPeerAddr(entry)
		if err != nil {
			return nil, err
		}
		out[id] = addr
	}
	return out, nil
}

// HostAddress parses REWIND_HOST.
func (c Config) HostAddress() (session.PeerID, string, error) {
	return splitPeerAddr(c.Host)
}

func splitPeerAddr(entry string) (session.PeerID, string, error) {
	id, addr, ok := strings.Cut(strings.TrimSpace(entry), "=")
	if !ok || id == "" || addr == "" {
		return "", "", fmt.Errorf("config: peer address %q must look like id=ws://host/rollback", entry)
	}
	return session.PeerID(id), addr, nil
}

// LoggingConfig builds the router configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = c.LogSinks
	cfg.MinimumSeverity = logging.ParseSeverity(c.LogSeverity)
	cfg.JSON.FilePath = c.LogJSONPath
	if c.LogFlush > 0 {
		cfg.JSON.FlushInterval = c.LogFlush
	}
	cfg.Fields = map[string]any{"mode": c.Mode, "peer": c.PeerID}
	return cfg
}

// Observability returns the opt-in diagnostics toggles.
func (c Config) Observability() observability.Config {
	return observability.Config{EnablePprofTrace: c.EnablePprofTrace}
}
