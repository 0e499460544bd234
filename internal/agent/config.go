package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the agent's runtime configuration.
type Config struct {
	AgentID           string        `yaml:"agent_id"`
	Type              string        `yaml:"type"` // "robot" or "laptop"
	MQTTBroker        string        `yaml:"mqtt_broker"`
	DBPath            string        `yaml:"db_path"`
	HTTPAddr          string        `yaml:"http_addr"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// DefaultTree is started on every tick while no other run is active.
	DefaultTree string `yaml:"default_tree"`
	// TreesDir holds extra trees as YAML files.
	TreesDir      string      `yaml:"trees_dir"`
	WorkspacePath string      `yaml:"workspace_path"`
	Verbose       bool        `yaml:"verbose"`
	Peer          *PeerConfig `yaml:"peer"`
}

// PeerConfig points the remote leaf actions at another machine over SSH.
type PeerConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	KeyPath  string `yaml:"key_path"`
	Password string `yaml:"password"`
	// Dir is where sync_peer uploads run reports.
	Dir string `yaml:"dir"`
}

const (
	defaultDBPath            = "runs.db"
	defaultHTTPAddr          = ":8090"
	defaultTickInterval      = 100 * time.Millisecond
	defaultHeartbeatInterval = 10 * time.Second
)

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, fills in defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = "robot"
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Peer != nil && c.Peer.Dir == "" {
		c.Peer.Dir = "/tmp/openrobot-runs"
	}
}

// Validate ensures required fields are populated.
func (c Config) Validate() error {
	if c.AgentID == "" {
		return errors.New("config missing agent_id")
	}
	if c.Peer != nil {
		if c.Peer.Addr == "" || c.Peer.User == "" {
			return errors.New("peer requires addr and user")
		}
		if c.Peer.KeyPath == "" && c.Peer.Password == "" {
			return errors.New("peer requires key_path or password")
		}
	}
	return nil
}
