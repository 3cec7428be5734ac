// Package config loads node settings from the environment and command-line
// flags, and the optional peer and whitelist files.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/VanDung-dev/tenet-mesh/network"
)

// Settings is the node's startup configuration. Environment variables set the
// defaults; flags bound with AddFlags override them.
type Settings struct {
	NodeName          string        `env:"TENET_NODE_NAME" envDefault:"node-1"`
	BindHost          string        `env:"TENET_BIND_HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"TENET_PORT" envDefault:"7400"`
	PeersFile         string        `env:"TENET_PEERS_FILE" envDefault:"config/peers.yaml"`
	WhitelistFile     string        `env:"TENET_WHITELIST_FILE"`
	HeartbeatInterval time.Duration `env:"TENET_HEARTBEAT_INTERVAL" envDefault:"30s"`

	MetricsAddr   string `env:"TENET_METRICS_ADDR" envDefault:":9400"`
	HealthAddr    string `env:"TENET_HEALTH_ADDR" envDefault:":9401"`
	RelayEndpoint string `env:"TENET_RELAY_ENDPOINT"`

	DatabasePath    string `env:"TENET_DB_PATH"`
	JournalCapacity int    `env:"TENET_JOURNAL_CAPACITY" envDefault:"4096"`

	LogVerbosity   int  `env:"TENET_LOG_VERBOSITY" envDefault:"0"`
	LogDevelopment bool `env:"TENET_LOG_DEVELOPMENT" envDefault:"false"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// AddFlags binds the Settings fields to command-line flags on fs, using the
// current values as defaults.
func (s *Settings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.NodeName, "node-name", s.NodeName, "Name this node signs its signals with.")
	fs.StringVar(&s.BindHost, "bind-host", s.BindHost, "Host to bind the UDP socket on.")
	fs.IntVar(&s.Port, "port", s.Port, "UDP port to bind.")
	fs.StringVar(&s.PeersFile, "peers", s.PeersFile, "YAML or JSON file listing peers.")
	fs.StringVar(&s.WhitelistFile, "whitelist", s.WhitelistFile, "YAML or JSON file listing admitted signal names.")
	fs.DurationVar(&s.HeartbeatInterval, "heartbeat-interval", s.HeartbeatInterval, "Interval between heartbeats.")
	fs.StringVar(&s.MetricsAddr, "metrics-addr", s.MetricsAddr, "HTTP address for metrics and stats; empty disables.")
	fs.StringVar(&s.HealthAddr, "health-addr", s.HealthAddr, "gRPC health address; empty disables.")
	fs.StringVar(&s.RelayEndpoint, "relay", s.RelayEndpoint, "ZeroMQ PUB endpoint for the signal relay; empty disables.")
	fs.StringVar(&s.DatabasePath, "db", s.DatabasePath, "SQLite pattern database; empty keeps patterns in memory.")
	fs.IntVar(&s.JournalCapacity, "journal-capacity", s.JournalCapacity, "Admission decisions kept for export.")
	fs.IntVarP(&s.LogVerbosity, "verbosity", "v", s.LogVerbosity, "Log verbosity; 1 logs every datagram.")
	fs.BoolVar(&s.LogDevelopment, "log-development", s.LogDevelopment, "Human-readable development logging.")
}

// Validate checks the settings for values the node cannot start with.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.NodeName) == "" {
		errs = append(errs, errors.New("node name is required"))
	}
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", s.HeartbeatInterval))
	}
	if s.JournalCapacity < 0 {
		errs = append(errs, fmt.Errorf("journal capacity must not be negative, got %d", s.JournalCapacity))
	}
	return errors.Join(errs...)
}

// BindAddr returns the UDP address to bind.
func (s Settings) BindAddr() string {
	return net.JoinHostPort(s.BindHost, strconv.Itoa(s.Port))
}

// MeshConfig builds the mesh configuration for the given peers.
func (s Settings) MeshConfig(peers []network.PeerConfig) network.Config {
	cfg := network.DefaultConfig()
	cfg.NodeName = s.NodeName
	cfg.BindAddr = s.BindAddr()
	cfg.Peers = peers
	cfg.HeartbeatInterval = s.HeartbeatInterval
	return cfg
}
