package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL           string `yaml:"database_url"`
	APIPort               int    `yaml:"api_port"`
	WorkerID              string `yaml:"worker_id"`
	WorkerCount           int    `yaml:"worker_count"`
	WorkerLeaseSeconds    int    `yaml:"worker_lease_seconds"`
	WorkerPollMillis      int    `yaml:"worker_poll_ms"`
	RunTaskHashMod        int    `yaml:"run_task_hash_mod"`
	MaxAttempts           int    `yaml:"max_attempts"`
	PositionsSnapshotPath string `yaml:"positions_snapshot_path"`
}

// Default returns the baseline configuration before file or env overrides.
func Default() *Config {
	return &Config{
		APIPort:               8080,
		WorkerID:              "worker-1",
		WorkerCount:           1,
		WorkerLeaseSeconds:    60,
		WorkerPollMillis:      500,
		RunTaskHashMod:        1,
		MaxAttempts:           3,
		PositionsSnapshotPath: "testdata/positions_demo.json",
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the effective config: defaults, then the optional file named
// by RISKRUN_CONFIG, then env vars. Env wins so deployments can override a
// baked-in config file per process.
func FromEnv() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("RISKRUN_CONFIG"); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := os.Getenv("POSITIONS_SNAPSHOT_PATH"); v != "" {
		cfg.PositionsSnapshotPath = v
	}
	cfg.APIPort = envInt("PORT", cfg.APIPort)
	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.WorkerLeaseSeconds = envInt("WORKER_LEASE_SECONDS", cfg.WorkerLeaseSeconds)
	cfg.WorkerPollMillis = envInt("WORKER_POLL_MS", cfg.WorkerPollMillis)
	cfg.RunTaskHashMod = envInt("RUN_TASK_HASH_MOD", cfg.RunTaskHashMod)
	cfg.MaxAttempts = envInt("MAX_ATTEMPTS", cfg.MaxAttempts)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (set DATABASE_URL)")
	}
	if cfg.RunTaskHashMod < 1 {
		return nil, fmt.Errorf("run_task_hash_mod must be a positive integer, got %d", cfg.RunTaskHashMod)
	}
	if cfg.WorkerLeaseSeconds < 1 {
		return nil, fmt.Errorf("worker_lease_seconds must be a positive integer, got %d", cfg.WorkerLeaseSeconds)
	}
	return cfg, nil
}

func envInt(key string, defaultVal int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}
