package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Daemon DaemonConfig `yaml:"daemon"`
	Poll   PollConfig   `yaml:"poll"`
	WS     WSConfig     `yaml:"ws"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type DaemonConfig struct {
	SocketPath           string        `yaml:"socket_path"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ProcessName          string        `yaml:"process_name"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"poll_interval"`
}

type WSConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxConnections int           `yaml:"max_connections"`
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Daemon: DaemonConfig{
			SocketPath:           filepath.Join(home, ".beads", "beads.sock"),
			RequestTimeout:       30 * time.Second,
			ReconnectBase:        time.Second,
			ReconnectMax:         30 * time.Second,
			MaxReconnectAttempts: 5,
			ProcessName:          "beads",
		},
		Poll: PollConfig{
			Interval: 2 * time.Second,
		},
		WS: WSConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
		},
	}
}

// Load reads a YAML config file, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the default config when the
// file does not exist. A present-but-invalid file is still an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}
