package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "BOOKBRIDGE"

type Config struct {
	DebugMode       bool         `mapstructure:"debug_mode"`
	MetricsAddr     string       `mapstructure:"metrics_addr"`
	RpcAddr         string       `mapstructure:"rpc_addr"`
	AvailableVenues []string     `mapstructure:"available_venues"`
	Book            BookConfig   `mapstructure:"book"`
	Feeds           []FeedConfig `mapstructure:"feeds"`
}

type BookConfig struct {
	ErrorWindow           time.Duration `mapstructure:"error_window"`
	ErrorThreshold        int           `mapstructure:"error_threshold"`
	ErrorQueueCapacity    int           `mapstructure:"error_queue_capacity"`
	CheckCross            bool          `mapstructure:"check_cross"`
	UseMatching           bool          `mapstructure:"use_matching"`
	MatchedLevelsWarnSize int           `mapstructure:"matched_levels_warn_size"`
	OutOfSequenceLimit    int           `mapstructure:"out_of_sequence_limit"`
	ResyncDelay           time.Duration `mapstructure:"resync_delay"`
}

// FeedConfig describes one venue feed. Isins are started eagerly.
type FeedConfig struct {
	Venue            string        `mapstructure:"venue"`
	Endpoint         string        `mapstructure:"endpoint"`
	Isins            []string      `mapstructure:"isins"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug_mode", false)
	v.SetDefault("metrics_addr", ":8080")
	v.SetDefault("rpc_addr", ":50051")
	v.SetDefault("available_venues", []string{})

	v.SetDefault("book.error_window", 10*time.Second)
	v.SetDefault("book.error_threshold", 20)
	v.SetDefault("book.error_queue_capacity", 1024)
	v.SetDefault("book.check_cross", true)
	v.SetDefault("book.use_matching", true)
	v.SetDefault("book.matched_levels_warn_size", 1000)
	v.SetDefault("book.out_of_sequence_limit", 10)
	v.SetDefault("book.resync_delay", time.Second)
}

// Load reads envFile (if present), then configFile, then BOOKBRIDGE_*
// environment variables. An empty configFile looks for ./config.yaml and
// tolerates its absence.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) Validate() error {
	if c.Book.ErrorQueueCapacity <= 0 {
		return fmt.Errorf("book.error_queue_capacity must be positive, got %d", c.Book.ErrorQueueCapacity)
	}
	if c.Book.ErrorThreshold > c.Book.ErrorQueueCapacity {
		return fmt.Errorf("book.error_threshold %d exceeds book.error_queue_capacity %d",
			c.Book.ErrorThreshold, c.Book.ErrorQueueCapacity)
	}
	if c.Book.ErrorWindow <= 0 {
		return fmt.Errorf("book.error_window must be positive, got %s", c.Book.ErrorWindow)
	}

	seen := make(map[string]struct{}, len(c.Feeds))
	for i, feed := range c.Feeds {
		if feed.Venue == "" || feed.Endpoint == "" {
			return fmt.Errorf("feeds[%d]: venue and endpoint are required", i)
		}
		venue := strings.ToLower(feed.Venue)
		if _, ok := seen[venue]; ok {
			return fmt.Errorf("feeds[%d]: venue %s is configured twice", i, feed.Venue)
		}
		seen[venue] = struct{}{}
	}
	return nil
}

// Venues returns available_venues, or the configured feed venues when it is
// empty.
func (c *Config) Venues() []string {
	if len(c.AvailableVenues) > 0 {
		return c.AvailableVenues
	}

	venues := make([]string, 0, len(c.Feeds))
	for _, feed := range c.Feeds {
		venues = append(venues, feed.Venue)
	}
	return venues
}
