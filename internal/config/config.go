package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"seqtorrent/internal/peerfilter"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port               string        `mapstructure:"port"`
	LogLevel           string        `mapstructure:"log_level"`
	LogConsole         bool          `mapstructure:"log_console"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ServerReadTimeout  time.Duration `mapstructure:"server_read_timeout"`
	ServerWriteTimeout time.Duration `mapstructure:"server_write_timeout"`
	ServerIdleTimeout  time.Duration `mapstructure:"server_idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`

	CircuitBreakerMaxRequests    uint32        `mapstructure:"circuit_breaker_max_requests"`
	CircuitBreakerInterval       time.Duration `mapstructure:"circuit_breaker_interval"`
	CircuitBreakerTimeout        time.Duration `mapstructure:"circuit_breaker_timeout"`
	CircuitBreakerMinRequests    uint32        `mapstructure:"circuit_breaker_min_requests"`
	CircuitBreakerErrorThreshold float64       `mapstructure:"circuit_breaker_error_threshold"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`

	DownloadDir        string `mapstructure:"download_dir"`
	KeepFiles          bool   `mapstructure:"keep_files"`
	ResumeDir          string `mapstructure:"resume_dir"`
	ResumeCacheEntries int    `mapstructure:"resume_cache_entries"`
	ResumeCacheBytes   int64  `mapstructure:"resume_cache_bytes"`

	ListenPort        int   `mapstructure:"listen_port"`
	NoDHT             bool  `mapstructure:"no_dht"`
	NoUpload          bool  `mapstructure:"no_upload"`
	MaxConnections    int   `mapstructure:"max_connections"`
	DownloadRateLimit int64 `mapstructure:"download_rate_limit"`
	UploadRateLimit   int64 `mapstructure:"upload_rate_limit"`

	MaxPlaybacks   int           `mapstructure:"max_playbacks"`
	WindowSize     int           `mapstructure:"window_size"`
	HeaderSize     int64         `mapstructure:"header_size"`
	FooterSize     int64         `mapstructure:"footer_size"`
	DeadlineBase   time.Duration `mapstructure:"deadline_base"`
	DeadlineStep   time.Duration `mapstructure:"deadline_step"`
	UrgentDeadline time.Duration `mapstructure:"urgent_deadline"`

	Trackers         []string `mapstructure:"trackers"`
	TrackerFailLimit int      `mapstructure:"tracker_fail_limit"`

	StatusInterval  time.Duration `mapstructure:"status_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ResumeInterval  time.Duration `mapstructure:"resume_interval"`
	TorrentTimeout  time.Duration `mapstructure:"torrent_timeout"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"`

	PeerFilters peerfilter.Options `mapstructure:"peer_filters"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_console", false)
	v.SetDefault("cors_allowed_origins", []string{"*"})
	v.SetDefault("rate_limit", 20)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("server_read_timeout", "15s")
	// Streams stay open as long as the player reads.
	v.SetDefault("server_write_timeout", "0s")
	v.SetDefault("server_idle_timeout", "60s")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("circuit_breaker_max_requests", 5)
	v.SetDefault("circuit_breaker_interval", "60s")
	v.SetDefault("circuit_breaker_timeout", "30s")
	v.SetDefault("circuit_breaker_min_requests", 10)
	v.SetDefault("circuit_breaker_error_threshold", 0.5)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("service_name", "seqtorrent")

	v.SetDefault("download_dir", "downloads")
	v.SetDefault("keep_files", false)
	v.SetDefault("resume_dir", "resume")
	v.SetDefault("resume_cache_entries", 512)
	v.SetDefault("resume_cache_bytes", 256*1024*1024)

	v.SetDefault("listen_port", 42069)
	v.SetDefault("no_dht", false)
	v.SetDefault("no_upload", false)
	v.SetDefault("max_connections", 100)
	v.SetDefault("download_rate_limit", 0)
	v.SetDefault("upload_rate_limit", 0)

	v.SetDefault("max_playbacks", 100)
	v.SetDefault("window_size", 8)
	v.SetDefault("header_size", 128*1024)
	v.SetDefault("footer_size", 128*1024)
	v.SetDefault("deadline_base", "500ms")
	v.SetDefault("deadline_step", "250ms")
	v.SetDefault("urgent_deadline", "1s")

	v.SetDefault("trackers", []string{})
	v.SetDefault("tracker_fail_limit", 3)

	v.SetDefault("status_interval", "1s")
	v.SetDefault("cleanup_interval", "5m")
	v.SetDefault("resume_interval", "1m")
	v.SetDefault("torrent_timeout", "30m")
	v.SetDefault("metadata_timeout", "2m")

	v.SetDefault("peer_filters.ip_ranges", []string{})
	v.SetDefault("peer_filters.client_patterns", []string{})
	v.SetDefault("peer_filters.id_patterns", []string{})
	v.SetDefault("peer_filters.require_fingerprint", false)
	v.SetDefault("peer_filters.blacklist_file", "")
	v.SetDefault("peer_filters.blacklist_refresh", "5m")
}

// Load reads config.yaml from the working directory or path, then lets
// SEQTORRENT_* environment variables override it. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("seqtorrent")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration Load produces with no file and no
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func (c *Config) Validate() error {
	switch {
	case c.WindowSize < 1:
		return fmt.Errorf("%w: window_size must be at least 1", ErrInvalidConfig)
	case c.HeaderSize < 0 || c.FooterSize < 0:
		return fmt.Errorf("%w: header_size and footer_size must not be negative", ErrInvalidConfig)
	case c.MaxPlaybacks < 1:
		return fmt.Errorf("%w: max_playbacks must be at least 1", ErrInvalidConfig)
	case c.DownloadDir == "":
		return fmt.Errorf("%w: download_dir is required", ErrInvalidConfig)
	case c.StatusInterval <= 0 || c.CleanupInterval <= 0 || c.ResumeInterval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.RateLimit <= 0:
		return fmt.Errorf("%w: rate_limit must be positive", ErrInvalidConfig)
	}
	return nil
}
