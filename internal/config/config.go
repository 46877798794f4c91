package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Child   ChildConfig
	Outputs OutputsConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port              int
	UpstreamURL       string
	UpstreamExplicit  bool // UPSTREAM_URL was set, not derived
	ReadHeaderTimeout time.Duration
	ShutdownGrace     time.Duration
}

type ChildConfig struct {
	Embedded      bool
	InternalPort  int
	Bin           string
	Args          []string
	ProjectRoot   string
	HealthTimeout time.Duration
	StopGrace     time.Duration
}

type OutputsConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}
	return Config{
		Server: ServerConfig{
			Port:              8000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownGrace:     15 * time.Second,
		},
		Child: ChildConfig{
			InternalPort:  18000,
			Args:          []string{"-m", "backend.main"},
			ProjectRoot:   root,
			HealthTimeout: 60 * time.Second,
			StopGrace:     8 * time.Second,
		},
		Outputs: OutputsConfig{},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from environment variables, falling back to
// documented defaults. Derived values (upstream URL, child binary path,
// outputs directory) are resolved after overrides so an explicit setting
// always wins.
func Load() (Config, error) {
	cfg := defaults()

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %d", cfg.Server.Port)
	}
	if cfg.Child.InternalPort <= 0 || cfg.Child.InternalPort > 65535 {
		return Config{}, fmt.Errorf("invalid CHILD_INTERNAL_PORT %d", cfg.Child.InternalPort)
	}

	if cfg.Server.UpstreamURL == "" {
		cfg.Server.UpstreamURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Child.InternalPort)
	}
	if cfg.Child.Bin == "" {
		cfg.Child.Bin = defaultChildBin(cfg.Child.ProjectRoot)
	}
	if cfg.Outputs.Dir == "" {
		cfg.Outputs.Dir = filepath.Join(cfg.Child.ProjectRoot, "outputs")
	}

	return cfg, nil
}

// defaultChildBin prefers the project virtualenv interpreter when one
// exists, otherwise falls back to whatever python3 resolves to on PATH.
func defaultChildBin(root string) string {
	venv := filepath.Join(root, ".venv", "bin", "python")
	if info, err := os.Stat(venv); err == nil && !info.IsDir() {
		return venv
	}
	return "python3"
}

// HealthURL is the child health endpoint polled during startup.
func (c ChildConfig) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", c.InternalPort)
}

func splitArgs(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
