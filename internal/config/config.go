package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config holds the service settings. Values come from an optional JSON file
// with flags layered on top.
type Config struct {
	Addr string `json:"addr"`
	// DBPath is the SQLite file holding the job store.
	DBPath string `json:"db_path"`
	// Token is the static operator bearer token. Empty disables auth.
	Token string `json:"token"`
	// PromoteIntervalMs is how often delayed jobs are checked for promotion.
	PromoteIntervalMs int `json:"promote_interval_ms"`
	// ClaimAbandonAfterMs is surfaced for the external execution engine's
	// reaper; the service itself does not reap abandoned claims.
	ClaimAbandonAfterMs int  `json:"claim_abandon_after_ms"`
	EnableOTel          bool `json:"enable_otel"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Addr:                ":8080",
		DBPath:              "queued.db",
		PromoteIntervalMs:   1000,
		ClaimAbandonAfterMs: 120000,
	}
}

// Load reads the config file at path, or returns defaults when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PromoteInterval converts the configured interval to a duration.
func (c *Config) PromoteInterval() time.Duration {
	return time.Duration(c.PromoteIntervalMs) * time.Millisecond
}
