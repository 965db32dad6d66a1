package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	mydmhttp "github.com/tanq16/mydm/internal/downloaders/http"
	"github.com/tanq16/mydm/internal/scheduler"
	"github.com/tanq16/mydm/internal/utils"
)

const (
	appName   = "mydm"
	envPrefix = "MYDM"

	maxThreads      = 64
	maxFrameSizeCap = 64 * 1024 * 1024
)

type Config struct {
	DownloadDir      string        `mapstructure:"download_dir" yaml:"download_dir"`
	TempDir          string        `mapstructure:"temp_dir" yaml:"temp_dir"`
	Threads          int           `mapstructure:"threads" yaml:"threads"`
	MaxWorkers       int           `mapstructure:"max_workers" yaml:"max_workers"`
	SegmentThreshold int64         `mapstructure:"segment_threshold" yaml:"segment_threshold"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	RetryMaxBackoff  time.Duration `mapstructure:"retry_max_backoff" yaml:"retry_max_backoff"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	MaxFrameSize     int           `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
	Log  LogConfig  `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	Timeout          time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	KeepAliveTimeout time.Duration     `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`
	UserAgent        string            `mapstructure:"user_agent" yaml:"user_agent"`
	Proxy            string            `mapstructure:"proxy" yaml:"proxy"`
	ProxyUsername    string            `mapstructure:"proxy_username" yaml:"proxy_username"`
	ProxyPassword    string            `mapstructure:"proxy_password" yaml:"proxy_password"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers"`
}

type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

// New returns a viper instance carrying the defaults and the MYDM_ env
// binding. Callers bind their flags into it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("download_dir", "")
	v.SetDefault("temp_dir", "")
	v.SetDefault("threads", utils.DefaultThreads)
	v.SetDefault("max_workers", utils.DefaultMaxWorkers)
	v.SetDefault("segment_threshold", utils.DefaultSegmentThreshold)
	v.SetDefault("chunk_size", utils.DefaultChunkSize)
	v.SetDefault("max_retries", utils.DefaultMaxRetries)
	v.SetDefault("retry_backoff", "1s")
	v.SetDefault("retry_max_backoff", "30s")
	v.SetDefault("read_timeout", "60s")
	v.SetDefault("progress_interval", "500ms")
	v.SetDefault("max_frame_size", utils.DefaultMaxFrameSize)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.keep_alive_timeout", "90s")
	v.SetDefault("http.user_agent", utils.ToolUserAgent)
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.proxy_username", "")
	v.SetDefault("http.proxy_password", "")
	v.SetDefault("http.headers", map[string]string{})
	v.SetDefault("log.path", DefaultLogPath())
	v.SetDefault("log.debug", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path into v and decodes the result. An
// explicit path must exist; with an empty path the default location is used
// when present and skipped otherwise.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", path, err)
			}
		} else if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills derived defaults and rejects values the engine cannot run
// with.
func (c *Config) Validate() error {
	var err error
	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir()
	}
	if c.DownloadDir, err = expandHome(c.DownloadDir); err != nil {
		return err
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(c.DownloadDir, utils.TempDirName)
	}
	if c.TempDir, err = expandHome(c.TempDir); err != nil {
		return err
	}
	if c.Log.Path, err = expandHome(c.Log.Path); err != nil {
		return err
	}

	var errs []error
	if c.Threads < 1 || c.Threads > maxThreads {
		errs = append(errs, fmt.Errorf("threads must be between 1 and %d, got %d", maxThreads, c.Threads))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers))
	}
	if c.SegmentThreshold < 0 {
		errs = append(errs, fmt.Errorf("segment_threshold cannot be negative, got %d", c.SegmentThreshold))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries))
	}
	if c.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must be positive, got %s", c.RetryBackoff))
	}
	if c.RetryMaxBackoff < c.RetryBackoff {
		c.RetryMaxBackoff = c.RetryBackoff
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout))
	}
	if c.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("progress_interval must be positive, got %s", c.ProgressInterval))
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > maxFrameSizeCap {
		errs = append(errs, fmt.Errorf("max_frame_size must be between 1 and %d, got %d", maxFrameSizeCap, c.MaxFrameSize))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout))
	}
	if c.HTTP.Proxy != "" {
		if u, perr := url.Parse(c.HTTP.Proxy); perr != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("http.proxy is not a valid URL: %q", c.HTTP.Proxy))
		}
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = utils.ToolUserAgent
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:        c.HTTP.Timeout,
		KATimeout:      c.HTTP.KeepAliveTimeout,
		ProxyURL:       c.HTTP.Proxy,
		ProxyUsername:  c.HTTP.ProxyUsername,
		ProxyPassword:  c.HTTP.ProxyPassword,
		UserAgent:      c.HTTP.UserAgent,
		Headers:        c.HTTP.Headers,
		HighThreadMode: c.Threads > 5,
	}
}

func (c *Config) EngineOptions() scheduler.Options {
	return scheduler.Options{
		DownloadDir:      c.DownloadDir,
		TempDir:          c.TempDir,
		Threads:          c.Threads,
		SegmentThreshold: c.SegmentThreshold,
		ProgressInterval: c.ProgressInterval,
		Worker: mydmhttp.WorkerOptions{
			ChunkSize:       c.ChunkSize,
			MaxRetries:      c.MaxRetries,
			RetryBackoff:    c.RetryBackoff,
			RetryMaxBackoff: c.RetryMaxBackoff,
			ReadTimeout:     c.ReadTimeout,
		},
	}
}

func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "config.yaml")
}

func DefaultLogPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "host.log")
}

func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
