package config

import (
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Server         ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging        LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Paths          PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Upstream       UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	Discovery      DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Authentication AuthConfig      `yaml:"authentication" mapstructure:"authentication"`
	AutoArchive    bool            `yaml:"auto_archive" mapstructure:"auto_archive"`
	path           string
}

type ServerConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
	// 0 means no admission limit.
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads" mapstructure:"max_concurrent_downloads"`
}

type LoggingConfig struct {
	LogPath           string `yaml:"log_path" mapstructure:"log_path"`
	EnableFileLogging bool   `yaml:"enable_file_logging" mapstructure:"enable_file_logging"`
	Debug             bool   `yaml:"debug" mapstructure:"debug"`
}

type PathsConfig struct {
	DownloadPath      string `yaml:"download_path" mapstructure:"download_path"`
	TempPath          string `yaml:"temp_path" mapstructure:"temp_path"`
	FFmpegPath        string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	LocalDatabasePath string `yaml:"local_database_path" mapstructure:"local_database_path"`
}

type UpstreamConfig struct {
	APIBase   string `yaml:"api_base" mapstructure:"api_base"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
	Referer   string `yaml:"referer" mapstructure:"referer"`
}

type DiscoveryConfig struct {
	MaxDepth   int           `yaml:"max_depth" mapstructure:"max_depth"`
	MaxVisited int           `yaml:"max_visited" mapstructure:"max_visited"`
	StepDelay  time.Duration `yaml:"step_delay" mapstructure:"step_delay"`
}

type AuthConfig struct {
	RequireAuth bool   `yaml:"require_auth" mapstructure:"require_auth"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	JWTSecret   string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	// bcrypt hash, takes precedence over Password
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

var (
	instance     *Config
	instanceOnce sync.Once
)

func Instance() *Config {
	if instance == nil {
		instanceOnce.Do(func() {
			instance = &Config{}
			instance.Discovery.StepDelay = time.Millisecond * 100
		})
	}
	return instance
}

// SetPath records the config file the instance was loaded from.
func (c *Config) SetPath(path string) { c.path = path }

// Path of the directory containing the config file
func (c *Config) Dir() string { return filepath.Dir(c.path) }

// Absolute path of the config file
func (c *Config) Path() string { return c.path }
