package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Precedence is
// file > environment > defaults; environment variables use the TETHER_
// prefix with underscores, e.g. TETHER_HTTP_PORT.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// ReaperConfig controls the stale-connection sweep. The idle cutoff is
// Period*IdleMultiplier.
type ReaperConfig struct {
	Period         time.Duration `mapstructure:"period"`
	IdleMultiplier int           `mapstructure:"idle_multiplier"`
}

// BucketConfig tunes one cache partition.
type BucketConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	EvictOnExpiry bool          `mapstructure:"evict_on_expiry"`
}

type CacheConfig struct {
	SweepInterval   time.Duration           `mapstructure:"sweep_interval"`
	MonitorInterval time.Duration           `mapstructure:"monitor_interval"`
	Buckets         map[string]BucketConfig `mapstructure:"buckets"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("websocket.send_buffer", 100)
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.ping_interval", "30s")

	v.SetDefault("reaper.period", "60s")
	v.SetDefault("reaper.idle_multiplier", 5)

	v.SetDefault("cache.sweep_interval", "10s")
	v.SetDefault("cache.monitor_interval", "60s")

	// Access patterns and staleness tolerance differ per domain, so
	// every bucket gets its own TTL and capacity.
	defaultBuckets := map[string]map[string]interface{}{
		"messages":      {"ttl": "60s", "max_entries": 1000, "evict_on_expiry": true},
		"contacts":      {"ttl": "300s", "max_entries": 500, "evict_on_expiry": true},
		"tickets":       {"ttl": "120s", "max_entries": 500, "evict_on_expiry": true},
		"configuration": {"ttl": "600s", "max_entries": 100, "evict_on_expiry": false},
		"sessions":      {"ttl": "3600s", "max_entries": 2000, "evict_on_expiry": true},
	}
	for name, settings := range defaultBuckets {
		for key, value := range settings {
			v.SetDefault("cache.buckets."+name+"."+key, value)
		}
	}

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.path", "./tether.db")
}

// Load builds the configuration. An empty path skips file loading; a
// named file that cannot be read is an error rather than a silent
// fallback.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.Reaper.Period <= 0 {
		return fmt.Errorf("reaper period must be positive")
	}
	if c.Reaper.IdleMultiplier < 2 {
		return fmt.Errorf("reaper idle multiplier must be at least 2")
	}

	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache sweep interval must be positive")
	}
	if c.Cache.MonitorInterval <= 0 {
		return fmt.Errorf("cache monitor interval must be positive")
	}
	if len(c.Cache.Buckets) == 0 {
		return fmt.Errorf("at least one cache bucket must be configured")
	}
	for name, bucket := range c.Cache.Buckets {
		if bucket.TTL <= 0 {
			return fmt.Errorf("cache bucket %s: TTL must be positive", name)
		}
		if bucket.MaxEntries <= 0 {
			return fmt.Errorf("cache bucket %s: max entries must be positive", name)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	return nil
}
