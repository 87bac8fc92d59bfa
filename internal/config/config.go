// Package config loads the exchange's startup configuration: shard
// counts, channel capacities, the symbol table, and the demo listen
// address. Loading is an external collaborator concern per the core
// specification, but a real process still needs it, so it is built here
// with the same library choice (viper) the rest of the retrieval pack
// reaches for.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// SymbolConfig is one entry of the startup symbol table.
type SymbolConfig struct {
	SymbolID uint32 `mapstructure:"symbol_id"`
	Base     uint32 `mapstructure:"base_currency_id"`
	Quote    uint32 `mapstructure:"quote_currency_id"`
}

// Config is the fully-resolved startup configuration for one exchange
// process.
type Config struct {
	SequencerShards           int            `mapstructure:"sequencer_shards"`
	MatcherShards             int            `mapstructure:"matcher_shards"`
	CommandChannelCapacity    int            `mapstructure:"command_channel_capacity"`
	SettlementChannelCapacity int            `mapstructure:"settlement_channel_capacity"`
	MatcherChannelCapacity    int            `mapstructure:"matcher_channel_capacity"`
	Symbols                   []SymbolConfig `mapstructure:"symbols"`
	ListenAddr                string         `mapstructure:"listen_addr"`
	LogLevel                  string         `mapstructure:"log_level"`
	LogFormat                 string         `mapstructure:"log_format"` // "console" or "json"
	RiskEnabled               bool           `mapstructure:"risk_enabled"`
}

// Default returns a Config with the defaults used when no file or
// environment override is present: 10 Sequencer shards, 10 Matcher
// shards, matching the specification's suggested defaults.
func Default() Config {
	return Config{
		SequencerShards:           10,
		MatcherShards:             10,
		CommandChannelCapacity:    4096,
		SettlementChannelCapacity: 16384,
		MatcherChannelCapacity:    4096,
		Symbols: []SymbolConfig{
			{SymbolID: 1, Base: 1, Quote: 2},
		},
		ListenAddr:  "0.0.0.0:50051",
		LogLevel:    "info",
		LogFormat:   "console",
		RiskEnabled: false,
	}
}

// Load reads configuration from an optional YAML file at path (skipped
// if empty or missing) layered under the defaults, with EXCHANGE_-
// prefixed environment variables taking precedence over both.
func Load(path string) (Config, error) {
	v := viper.New()
	cfg := Default()
	v.SetDefault("sequencer_shards", cfg.SequencerShards)
	v.SetDefault("matcher_shards", cfg.MatcherShards)
	v.SetDefault("command_channel_capacity", cfg.CommandChannelCapacity)
	v.SetDefault("settlement_channel_capacity", cfg.SettlementChannelCapacity)
	v.SetDefault("matcher_channel_capacity", cfg.MatcherChannelCapacity)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("risk_enabled", cfg.RiskEnabled)

	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(out.Symbols) == 0 {
		out.Symbols = cfg.Symbols
	}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate rejects configurations the shard model cannot tolerate: a
// zero shard count would make the router's modulo computation divide by
// zero.
func (c Config) Validate() error {
	if c.SequencerShards <= 0 {
		return fmt.Errorf("config: sequencer_shards must be positive")
	}
	if c.MatcherShards <= 0 {
		return fmt.Errorf("config: matcher_shards must be positive")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol must be configured")
	}
	return nil
}
