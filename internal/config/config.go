// Package config loads and validates the MLAG core's configuration knobs
// (spec.md §6) using a koanf-layered defaults -> YAML file -> environment
// stack, the way the rest of this codebase's daemons are configured.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MLAGD_"

// Sentinel validation errors, mirroring this codebase's config package.
var (
	ErrInvalidReloadDelay      = errors.New("config: reload_delay_ms out of range [0, 300000]")
	ErrInvalidKeepalive        = errors.New("config: keepalive_interval_s out of range [1, 30]")
	ErrInvalidVLAN             = errors.New("config: vlan_id out of range [1, 4095]")
	ErrTooManyIPLs             = errors.New("config: ipl_count exceeds MAX_IPLS")
	ErrTooManyPeers            = errors.New("config: peer_count exceeds MAX_PEERS")
	ErrMissingLocalIP          = errors.New("config: local_ip is required")
	ErrIPv6Unsupported         = errors.New("config: ipv6 addresses are not supported for the ipl link")
	ErrInvalidTCPPort          = errors.New("config: tcp_port out of range [1, 65535]")
	ErrInvalidHTTPAddr         = errors.New("config: metrics_addr must be set when metrics are enabled")
)

// IPLConfig configures one inter-peer link (spec.md §3 IPL record, §6).
type IPLConfig struct {
	PortID  int    `koanf:"port_id"`
	LocalIP string `koanf:"local_ip"`
	PeerIP  string `koanf:"peer_ip"`
	VLANID  int    `koanf:"vlan_id"`
}

// PeerConfig configures one statically known peer (spec.md §3 peer record).
type PeerConfig struct {
	PeerIP   string `koanf:"peer_ip"`
	SystemID string `koanf:"system_id"`
	IPLID    int    `koanf:"ipl_id"`
}

// TransportConfig configures the C4 peer transport.
type TransportConfig struct {
	TCPPort           int `koanf:"tcp_port"`
	ReconnectIntervalMS int `koanf:"reconnect_interval_ms"`
}

// MetricsConfig configures the ambient Prometheus/health HTTP surface.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogConfig configures the ambient slog logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Config is the MLAG core's full configuration, matching spec.md §6's
// knobs plus the ambient stack this implementation adds.
type Config struct {
	ReloadDelayMS      int             `koanf:"reload_delay_ms"`
	KeepaliveIntervalS int             `koanf:"keepalive_interval_s"`
	LocalIP            string          `koanf:"local_ip"`
	LocalSystemID      string          `koanf:"local_system_id"`
	IGMPEnabled        bool            `koanf:"igmp_enabled"`
	LACPEnabled        bool            `koanf:"lacp_enabled"`
	IPLs               []IPLConfig     `koanf:"ipls"`
	Peers              []PeerConfig    `koanf:"peers"`
	Transport          TransportConfig `koanf:"transport"`
	Metrics            MetricsConfig   `koanf:"metrics"`
	Log                LogConfig       `koanf:"log"`
}

// DefaultConfig returns a Config populated with spec.md §6's defaults.
func DefaultConfig() *Config {
	return &Config{
		ReloadDelayMS:      30_000,
		KeepaliveIntervalS: 1,
		Transport: TransportConfig{
			TCPPort:             7654,
			ReconnectIntervalMS: 500,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9110",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, then an optional YAML file at path, then
// MLAGD_-prefixed environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	m := map[string]any{
		"reload_delay_ms":       defaults.ReloadDelayMS,
		"keepalive_interval_s":  defaults.KeepaliveIntervalS,
		"transport.tcp_port":    defaults.Transport.TCPPort,
		"transport.reconnect_interval_ms": defaults.Transport.ReconnectIntervalMS,
		"metrics.enabled": defaults.Metrics.Enabled,
		"metrics.addr":    defaults.Metrics.Addr,
		"log.level":       defaults.Log.Level,
		"log.format":      defaults.Log.Format,
	}
	return k.Load(confmap.Provider(m, "."), nil)
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate enforces every range invariant spec.md §6 names at the
// configuration boundary, mapping violations to sentinel errors.
func Validate(cfg *Config) error {
	if cfg.ReloadDelayMS < 0 || cfg.ReloadDelayMS > 300_000 {
		return ErrInvalidReloadDelay
	}
	if cfg.KeepaliveIntervalS < 1 || cfg.KeepaliveIntervalS > 30 {
		return ErrInvalidKeepalive
	}
	if cfg.Transport.TCPPort < 1 || cfg.Transport.TCPPort > 65535 {
		return ErrInvalidTCPPort
	}
	if len(cfg.IPLs) > maxIPLsConst {
		return ErrTooManyIPLs
	}
	if len(cfg.Peers) > maxPeersConst {
		return ErrTooManyPeers
	}
	for _, ipl := range cfg.IPLs {
		if ipl.VLANID < 1 || ipl.VLANID > 4095 {
			return ErrInvalidVLAN
		}
		if err := checkIPv4Only(ipl.LocalIP); err != nil {
			return err
		}
		if err := checkIPv4Only(ipl.PeerIP); err != nil {
			return err
		}
	}
	for _, p := range cfg.Peers {
		if err := checkIPv4Only(p.PeerIP); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return ErrInvalidHTTPAddr
	}
	return nil
}

// maxIPLsConst/maxPeersConst mirror registry.MaxIPLs/MaxPeers without an
// import cycle (config must not depend on registry).
const (
	maxIPLsConst  = 4
	maxPeersConst = 2
)

func checkIPv4Only(addr string) error {
	if addr == "" {
		return nil
	}
	if strings.Contains(addr, ":") {
		return ErrIPv6Unsupported
	}
	return nil
}

// ParseLogLevel maps a textual level to a slog.Level, defaulting to Info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ReloadDelay returns the configured reload delay as a time.Duration.
func (c *Config) ReloadDelay() time.Duration {
	return time.Duration(c.ReloadDelayMS) * time.Millisecond
}

// ReconnectInterval returns the configured reconnect interval.
func (c *Config) ReconnectInterval() time.Duration {
	if c.Transport.ReconnectIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Transport.ReconnectIntervalMS) * time.Millisecond
}
