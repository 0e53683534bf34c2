package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Log        LogConfig                 `mapstructure:"log"`
	Cache      CacheConfig               `mapstructure:"cache"`
	Aggregator AggregatorConfig          `mapstructure:"aggregator"`
	Probe      ProbeConfig               `mapstructure:"probe"`
	Batch      BatchConfig               `mapstructure:"batch"`
	Scheduler  SchedulerConfig           `mapstructure:"scheduler"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug or release
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type CacheConfig struct {
	Backend         string        `mapstructure:"backend"` // memory or sqlite
	TTL             time.Duration `mapstructure:"ttl"`
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl"`
}

type AggregatorConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	ProviderOrder []string      `mapstructure:"provider_order"`
	FailHard      bool          `mapstructure:"fail_hard"`
	DefaultLimit  int           `mapstructure:"default_limit"`
}

type ProbeConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CleanupDays int           `mapstructure:"cleanup_days"`
}

// ProviderConfig configures one upstream adapter.
type ProviderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Proxy   string        `mapstructure:"proxy"`
	Token   string        `mapstructure:"token"`
}

var AppConfig *Config

// DefaultProviderOrder is the ranking used when aggregator.provider_order is unset.
var DefaultProviderOrder = []string{"aniliberty", "anilibria", "shikimori", "jikan", "anilist"}

var defaultBaseURLs = map[string]string{
	"aniliberty": "https://aniliberty.top/api/v1",
	"anilibria":  "https://api.anilibria.tv/v3",
	"shikimori":  "https://shikimori.one/api",
	"jikan":      "https://api.jikan.moe/v4",
	"anilist":    "https://graphql.anilist.co",
}

func LoadConfig(configPath string) error {
	v := viper.New()

	// 默认值
	v.SetDefault("server.port", 8306)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.path", "data/sources.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 300*time.Second)
	v.SetDefault("cache.availability_ttl", 60*time.Second)

	v.SetDefault("aggregator.timeout", 8*time.Second)
	v.SetDefault("aggregator.provider_order", DefaultProviderOrder)
	v.SetDefault("aggregator.fail_hard", false)
	v.SetDefault("aggregator.default_limit", 20)

	v.SetDefault("probe.concurrency", 10)
	v.SetDefault("probe.rate_per_second", 20.0)
	v.SetDefault("probe.timeout", 5*time.Second)

	v.SetDefault("batch.concurrency", 4)

	v.SetDefault("scheduler.interval", 30*time.Minute)
	v.SetDefault("scheduler.cleanup_days", 7)

	for name, base := range defaultBaseURLs {
		v.SetDefault("providers."+name+".enabled", true)
		v.SetDefault("providers."+name+".base_url", base)
		v.SetDefault("providers."+name+".timeout", 10*time.Second)
	}

	// 配置文件路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	// 环境变量替换 (使用 ANIME_ 前缀)
	// 比如 ANIME_SERVER_PORT=9090, ANIME_PROVIDERS_JIKAN_ENABLED=false
	v.SetEnvPrefix("ANIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 || c.Cache.AvailabilityTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Aggregator.Timeout <= 0 {
		return fmt.Errorf("aggregator timeout must be positive")
	}
	if c.Probe.Concurrency < 1 {
		c.Probe.Concurrency = 1
	}
	if c.Batch.Concurrency < 1 {
		c.Batch.Concurrency = 1
	}
	if len(c.Aggregator.ProviderOrder) == 0 {
		c.Aggregator.ProviderOrder = DefaultProviderOrder
	}
	return nil
}

// Provider returns the settings for one provider, falling back to defaults
// for providers missing from the loaded map.
func (c *Config) Provider(name string) ProviderConfig {
	if p, ok := c.Providers[name]; ok {
		if p.Timeout <= 0 {
			p.Timeout = 10 * time.Second
		}
		return p
	}
	return ProviderConfig{
		Enabled: true,
		BaseURL: defaultBaseURLs[name],
		Timeout: 10 * time.Second,
	}
}
