package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Quotesync QuotesyncConfig `yaml:"quotesync"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Provider  ProviderConfig  `yaml:"provider"`
	Registry  RegistryConfig  `yaml:"registry"`
	Feed      FeedConfig      `yaml:"feed"`
	Processor ProcessorConfig `yaml:"processor"`
	Sink      SinkConfig      `yaml:"sink"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type QuotesyncConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	QuoteBuffer int `yaml:"quote_buffer"`
}

type ProviderConfig struct {
	APIURL    string          `yaml:"api_url"`
	WSURL     string          `yaml:"ws_url"`
	Username  string          `yaml:"username"`
	Password  string          `yaml:"password"`
	Account   string          `yaml:"account"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RegistryConfig struct {
	CacheDir  string        `yaml:"cache_dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl"`
	FileTTL   time.Duration `yaml:"file_ttl"`
}

type FeedConfig struct {
	BackoffSeconds []int `yaml:"backoff_seconds"`
	MaxAttempts    int   `yaml:"max_attempts"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

type SinkConfig struct {
	Workbook      string        `yaml:"workbook"`
	QuotesSheet   string        `yaml:"quotes_sheet"`
	TickersSheet  string        `yaml:"tickers_sheet"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxScanRows   int           `yaml:"max_scan_rows"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Registry: RegistryConfig{
			MemoryTTL: time.Hour,
			FileTTL:   24 * time.Hour,
		},
		Feed: FeedConfig{
			BackoffSeconds: []int{1, 2, 4, 8, 15, 30},
			MaxAttempts:    10,
		},
		Processor: ProcessorConfig{
			MaxWorkers: 2,
		},
		Sink: SinkConfig{
			QuotesSheet:   "homebroker",
			TickersSheet:  "tickers",
			FlushInterval: 2 * time.Second,
			MaxScanRows:   2000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override provider credentials from environment variables if available
	if v := os.Getenv("PROVIDER_USER"); v != "" {
		config.Provider.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROVIDER_PASSWORD"); v != "" {
		config.Provider.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROVIDER_ACCOUNT"); v != "" {
		config.Provider.Account = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Quotesync.Name == "" {
		return fmt.Errorf("quotesync.name is required")
	}

	if cfg.Quotesync.Version == "" {
		return fmt.Errorf("quotesync.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.QuoteBuffer <= 0 {
		return fmt.Errorf("channels.quote_buffer must be greater than 0")
	}

	if cfg.Provider.APIURL == "" {
		return fmt.Errorf("provider.api_url is required")
	}
	if cfg.Provider.WSURL == "" {
		return fmt.Errorf("provider.ws_url is required")
	}
	if cfg.Provider.Username == "" || cfg.Provider.Password == "" {
		return fmt.Errorf("provider.username and provider.password are required")
	}

	if cfg.Registry.MemoryTTL <= 0 {
		return fmt.Errorf("registry.memory_ttl must be greater than 0")
	}
	if cfg.Registry.FileTTL <= 0 {
		return fmt.Errorf("registry.file_ttl must be greater than 0")
	}

	if len(cfg.Feed.BackoffSeconds) == 0 {
		return fmt.Errorf("feed.backoff_seconds must not be empty")
	}
	for _, s := range cfg.Feed.BackoffSeconds {
		if s <= 0 {
			return fmt.Errorf("feed.backoff_seconds entries must be greater than 0")
		}
	}
	if cfg.Feed.MaxAttempts <= 0 {
		return fmt.Errorf("feed.max_attempts must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}

	if cfg.Sink.Workbook == "" {
		return fmt.Errorf("sink.workbook is required")
	}
	if cfg.Sink.FlushInterval <= 0 {
		return fmt.Errorf("sink.flush_interval must be greater than 0")
	}
	if cfg.Sink.MaxScanRows <= 0 {
		return fmt.Errorf("sink.max_scan_rows must be greater than 0")
	}

	return nil
}
