// Package config loads crawler configuration from a file, environment
// variables, or in-process defaults via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every crawl-wide setting named in the system's external
// interface. Zero values are replaced with sane defaults by Load.
type Config struct {
	UserAgent     string            `mapstructure:"user_agent"`
	UserAgentInfo map[string]string `mapstructure:"user_agent_info"`
	Sites         []string          `mapstructure:"sites"`

	CrawlDepth        int           `mapstructure:"crawl_depth"`
	CrawlDelay        time.Duration `mapstructure:"crawl_delay"`
	CrawlDelaySitemap time.Duration `mapstructure:"crawl_delay_sitemap"`
	RevisitAfter      time.Duration `mapstructure:"revisit_after"`

	MaxThreads            int `mapstructure:"max_threads"`
	MaxConcurrentSitemaps int `mapstructure:"max_concurrent_sitemaps"`

	AlwaysIncludeBaseInQueue bool     `mapstructure:"always_include_base_in_crawlable_link_queue"`
	RobotNofollow            []string `mapstructure:"robot_nofollow"`
	Nofollow                 []string `mapstructure:"nofollow"`

	Verbose          bool   `mapstructure:"verbose"`
	LogFilename      string `mapstructure:"log_filename"`
	DatabaseFilename string `mapstructure:"database_filename"`
	DatabaseDriver   string `mapstructure:"database_driver"`

	DataDir string `mapstructure:"data_dir"`
}

// ErrNoSites names a configuration with no seed sites. Neither Load nor
// Validate returns it: an empty seed list is a valid run (spec.md §8
// boundary behaviour: zero rows, clean exit), and callers that want to
// treat it as a fatal misconfiguration check cfg.Sites themselves.
var ErrNoSites = fmt.Errorf("config: no seed sites configured")

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_agent", "burrowlerbot/1.0 (+https://example.invalid/bot)")
	v.SetDefault("crawl_depth", 0)
	v.SetDefault("crawl_delay", 2*time.Second)
	v.SetDefault("crawl_delay_sitemap", 24*time.Hour)
	v.SetDefault("revisit_after", 7*24*time.Hour)
	v.SetDefault("max_threads", 8)
	v.SetDefault("max_concurrent_sitemaps", 4)
	v.SetDefault("always_include_base_in_crawlable_link_queue", true)
	v.SetDefault("robot_nofollow", []string{"nofollow", "noarchive", "nosnippet", "noindex"})
	v.SetDefault("nofollow", []string{})
	v.SetDefault("verbose", false)
	v.SetDefault("log_filename", "burrowler.log")
	v.SetDefault("database_filename", "burrowler.db")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("data_dir", "data")
}

// Load reads configuration from the given file path (if non-empty), then
// layers in BURROWLER_-prefixed environment variables, then fills any
// remaining gaps with defaults. A missing path is not an error: defaults and
// environment variables still apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("burrowler")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("context: reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("context: decoding config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for fatal problems that should abort
// startup (spec.md §6: "non-zero on fatal initialisation errors").
func Validate(cfg Config) error {
	if cfg.UserAgent == "" {
		return fmt.Errorf("config: user_agent must not be empty")
	}
	if cfg.CrawlDepth < 0 {
		return fmt.Errorf("config: crawl_depth must be >= 0")
	}
	if cfg.MaxThreads <= 0 {
		return fmt.Errorf("config: max_threads must be > 0")
	}
	if cfg.MaxConcurrentSitemaps <= 0 {
		return fmt.Errorf("config: max_concurrent_sitemaps must be > 0")
	}
	return nil
}
