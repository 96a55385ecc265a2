package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env      string `mapstructure:"env"`
	Pair     PairConfig
	Server   ServerConfig
	Binance  ExchangeConfig
	Bitstamp ExchangeConfig
	Feed     FeedConfig
	Redis    RedisConfig
}

// PairConfig names the tracked currency pair. One store instance tracks
// exactly one pair.
type PairConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// Symbol returns the lowercase concatenated pair symbol, e.g. "ethbtc".
func (p PairConfig) Symbol() string {
	return strings.ToLower(p.Base + p.Quote)
}

// ServerConfig holds gRPC transport settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExchangeConfig holds per-exchange feed settings.
type ExchangeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// FeedConfig tunes connection and staleness handling shared by all feeds.
type FeedConfig struct {
	HeartbeatTimeoutMS int `mapstructure:"heartbeat_timeout_ms"`
	BackoffInitialMS   int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMS       int `mapstructure:"backoff_max_ms"`
	StaleThresholdSec  int `mapstructure:"stale_threshold_sec"`
	DisconnectGraceSec int `mapstructure:"disconnect_grace_sec"`
}

// RedisConfig holds settings for the optional summary mirror. An empty Addr
// disables the mirror.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from environment variables prefixed with FATHOM_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FATHOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")

	// Pair defaults
	v.SetDefault("pair.base", "eth")
	v.SetDefault("pair.quote", "btc")

	// Server defaults
	v.SetDefault("server.listen_addr", "127.0.0.1:6669")

	// Exchange defaults
	v.SetDefault("binance.enabled", true)
	v.SetDefault("binance.url", "wss://stream.binance.com:9443")
	v.SetDefault("bitstamp.enabled", true)
	v.SetDefault("bitstamp.url", "wss://ws.bitstamp.net")

	// Feed defaults
	v.SetDefault("feed.heartbeat_timeout_ms", 15000)
	v.SetDefault("feed.backoff_initial_ms", 100)
	v.SetDefault("feed.backoff_max_ms", 10000)
	v.SetDefault("feed.stale_threshold_sec", 10)
	v.SetDefault("feed.disconnect_grace_sec", 3)

	// Redis defaults (mirror disabled unless an address is set)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	cfg := &Config{}

	cfg.Env = v.GetString("env")

	cfg.Pair = PairConfig{
		Base:  v.GetString("pair.base"),
		Quote: v.GetString("pair.quote"),
	}

	cfg.Server = ServerConfig{
		ListenAddr: v.GetString("server.listen_addr"),
	}

	cfg.Binance = ExchangeConfig{
		Enabled: v.GetBool("binance.enabled"),
		URL:     v.GetString("binance.url"),
	}

	cfg.Bitstamp = ExchangeConfig{
		Enabled: v.GetBool("bitstamp.enabled"),
		URL:     v.GetString("bitstamp.url"),
	}

	cfg.Feed = FeedConfig{
		HeartbeatTimeoutMS: v.GetInt("feed.heartbeat_timeout_ms"),
		BackoffInitialMS:   v.GetInt("feed.backoff_initial_ms"),
		BackoffMaxMS:       v.GetInt("feed.backoff_max_ms"),
		StaleThresholdSec:  v.GetInt("feed.stale_threshold_sec"),
		DisconnectGraceSec: v.GetInt("feed.disconnect_grace_sec"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	return cfg, nil
}
