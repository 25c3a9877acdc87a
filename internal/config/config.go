// Package config loads the environment-variable configuration surface of
// spec.md §6: store connection details plus the tick intervals of the
// matching engine's periodic sweep, the snapshot broadcaster, and the
// latency heartbeat.
//
// Grounded on 0xtitan6-polymarket-mm/internal/config.Load: the same
// viper-with-env-prefix idiom, simplified to pure environment variables
// since OES has no YAML file to layer over (the teacher itself carries no
// config package at all — constants are wired straight into main).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is OES's full runtime configuration, spec.md §6.
type Config struct {
	StoreHost     string `mapstructure:"store_host"`
	StorePort     int    `mapstructure:"store_port"`
	StorePassword string `mapstructure:"store_password"`

	// NoClearData, when true, restores the order book from the last
	// snapshot file at startup; when false the server starts with an empty
	// book. Ledger state is not part of the snapshot and is not restored.
	NoClearData bool `mapstructure:"no_clear_data"`

	MatchTickMS int `mapstructure:"match_tick_ms"`
	SnapshotMS  int `mapstructure:"snapshot_ms"`
	LatencyMS   int `mapstructure:"latency_ms"`

	ListenAddr string `mapstructure:"listen_addr"`
}

// MatchTick, Snapshot, and Latency convert the configured millisecond
// intervals to time.Duration for direct use by the engine and bus.
func (c *Config) MatchTick() time.Duration { return time.Duration(c.MatchTickMS) * time.Millisecond }
func (c *Config) Snapshot() time.Duration  { return time.Duration(c.SnapshotMS) * time.Millisecond }
func (c *Config) Latency() time.Duration   { return time.Duration(c.LatencyMS) * time.Millisecond }

// Load reads configuration from the OES_* and STORE_* environment
// variables, falling back to defaults suited to a local, in-memory run.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OES")
	v.AutomaticEnv()

	v.SetDefault("store_host", "127.0.0.1")
	v.SetDefault("store_port", 6379)
	v.SetDefault("store_password", "")
	v.SetDefault("no_clear_data", false)
	v.SetDefault("match_tick_ms", 100)
	v.SetDefault("snapshot_ms", 100)
	v.SetDefault("latency_ms", 5000)
	v.SetDefault("listen_addr", "0.0.0.0:9001")

	// STORE_HOST/STORE_PORT/STORE_PASSWORD intentionally sit outside the
	// OES_ prefix, mirroring how this kind of system shares a store
	// connection string with other services; bind them explicitly.
	_ = v.BindEnv("store_host", "STORE_HOST")
	_ = v.BindEnv("store_port", "STORE_PORT")
	_ = v.BindEnv("store_password", "STORE_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
