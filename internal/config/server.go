package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/protocol"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the complete configuration of robotserver.
type ServerConfig struct {
	Server        ServerListen        `yaml:"server"`
	Keys          []KeyEntry          `yaml:"keys"`
	Logging       LoggingInfo         `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerListen holds the TCP listen address and the protocol timeouts.
type ServerListen struct {
	Listen            string        `yaml:"listen"`             // default: "0.0.0.0:3999"
	IdleTimeout       time.Duration `yaml:"idle_timeout"`       // default: 1s
	RechargingTimeout time.Duration `yaml:"recharging_timeout"` // default: 5s
}

// KeyEntry overrides one (server_key, client_key) pair of the handshake key
// table. Omitted entirely, the spec's bit-exact 5-entry table is used.
type KeyEntry struct {
	ServerKey uint16 `yaml:"server_key"`
	ClientKey uint16 `yaml:"client_key"`
}

// LoggingInfo configures the base logger and per-session log archival.
type LoggingInfo struct {
	Level                string `yaml:"level"`  // debug|info|warn|error, default: info
	Format               string `yaml:"format"` // json|text, default: json
	File                 string `yaml:"file"`
	SessionLogDir        string `yaml:"session_log_dir"`
	SessionLogCompression string `yaml:"session_log_compression"` // gzip|pgzip|zstd|none, default: gzip
}

// ObservabilityConfig configures the read-only HTTP observability surface.
type ObservabilityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`        // default: "127.0.0.1:9848"
	AllowOrigins  []string      `yaml:"allow_origins"` // IP or CIDR (deny-by-default)
	StatsInterval time.Duration `yaml:"stats_interval"` // default: 15s, cron expression built from this

	// ParsedCIDRs is filled in by validate(); does not come from YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// KeyTable returns the effective handshake key table: the override from
// config if present, otherwise the spec's bit-exact default table.
func (c *ServerConfig) KeyTable() [5]protocol.Key {
	if len(c.Keys) == 0 {
		return protocol.KeyTable
	}
	var table [5]protocol.Key
	for i := range table {
		table[i] = protocol.Key{
			ServerKey: c.Keys[i].ServerKey,
			ClientKey: c.Keys[i].ClientKey,
		}
	}
	return table
}

// LoadServerConfig reads and validates the YAML configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:3999"
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 1 * time.Second
	}
	if c.Server.RechargingTimeout <= 0 {
		c.Server.RechargingTimeout = 5 * time.Second
	}

	if len(c.Keys) != 0 && len(c.Keys) != 5 {
		return fmt.Errorf("keys must have exactly 5 entries when overriding the default table, got %d", len(c.Keys))
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.SessionLogCompression == "" {
		c.Logging.SessionLogCompression = "gzip"
	}
	c.Logging.SessionLogCompression = strings.ToLower(strings.TrimSpace(c.Logging.SessionLogCompression))
	switch c.Logging.SessionLogCompression {
	case "gzip", "pgzip", "zstd", "none":
	default:
		return fmt.Errorf("logging.session_log_compression must be one of gzip, pgzip, zstd, none, got %q", c.Logging.SessionLogCompression)
	}

	if c.Observability.Enabled {
		if c.Observability.Listen == "" {
			c.Observability.Listen = "127.0.0.1:9848"
		}
		if c.Observability.StatsInterval <= 0 {
			c.Observability.StatsInterval = 15 * time.Second
		}
		if len(c.Observability.AllowOrigins) == 0 {
			return fmt.Errorf("observability.allow_origins is required when observability is enabled (deny-by-default)")
		}
		for _, origin := range c.Observability.AllowOrigins {
			_, cidr, err := net.ParseCIDR(origin)
			if err != nil {
				ip := net.ParseIP(strings.TrimSpace(origin))
				if ip == nil {
					return fmt.Errorf("observability.allow_origins: %q is not a valid IP or CIDR", origin)
				}
				if ip.To4() != nil {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/32")
				} else {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/128")
				}
			}
			c.Observability.ParsedCIDRs = append(c.Observability.ParsedCIDRs, cidr)
		}
	}

	return nil
}
