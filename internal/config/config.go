// Package config provides Viper-backed configuration loading for MetricWatch.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config abstracts configuration access. Wraps Viper today, replaceable later.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	IsSet(key string) bool
	Sub(key string) Config
}

// Compile-time interface guard.
var _ Config = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
// Returns the concrete type; callers assign to Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(key)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *ViperConfig) Sub(key string) Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying Viper instance for direct access
// (e.g., by main for top-level keys like database.path).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// Load reads configuration from the given file, or searches the standard
// locations when configPath is empty. Missing config files fall back to
// defaults; environment variables use the MW_ prefix (MW_LOGGING_LEVEL=debug).
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/metricwatch.db")

	v.SetDefault("watch.min_observations", 14)
	v.SetDefault("watch.history_days", 365)
	v.SetDefault("watch.season_len", 7)
	v.SetDefault("watch.warning_score", 2.0)
	v.SetDefault("watch.critical_score", 3.0)
	v.SetDefault("watch.confidence", 0.95)
	v.SetDefault("watch.non_negative", true)
	v.SetDefault("watch.workers", 4)
	v.SetDefault("watch.fetch_timeout", "30s")
	v.SetDefault("watch.anomaly_retention", "2160h")

	v.SetDefault("source.requests_per_second", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("source.max_retry_elapsed", "2m")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("metricwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/metricwatch")
	}

	// Environment variable support: MW_DATABASE_PATH=/var/lib/metricwatch.db
	v.SetEnvPrefix("MW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
