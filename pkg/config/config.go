package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Logger       LoggerConfig       `yaml:"logger"`
	Pool         PoolConfig         `yaml:"pool"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Recent       RecentConfig       `yaml:"recent"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for the control API (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration, used for scaling and resource history
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// RetentionDays how long resource snapshots are kept
	RetentionDays int `yaml:"retention_days"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig worker pool controller configuration
type PoolConfig struct {
	TickIntervalMs    int `yaml:"tick_interval_ms"`   // worker poll interval (milliseconds)
	SampleConcurrency int `yaml:"sample_concurrency"` // max concurrent stats probes per tick
	SampleTimeoutMs   int `yaml:"sample_timeout_ms"`  // per-worker probe timeout
	MaxCapacity       int `yaml:"max_capacity"`       // 0 means host logical CPU count
	SnapshotInterval  int `yaml:"snapshot_interval"`  // resource snapshot persistence interval (seconds)
}

// JobsConfig job monitor configuration
type JobsConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// WorkspaceConfig workspace backend configuration
type WorkspaceConfig struct {
	Backend        string `yaml:"backend"`          // queue, memory
	WorkerBinary   string `yaml:"worker_binary"`    // executable used for worker processes, defaults to the running binary
	RefreshMs      int    `yaml:"refresh_ms"`       // worker set refresh interval for the queue backend
	TaskRetention  int    `yaml:"task_retention"`   // completed task retention (hours)
	JobTimeout     int    `yaml:"job_timeout"`      // per-job timeout (seconds), 0 disables
	ShutdownWaitMs int    `yaml:"shutdown_wait_ms"` // grace period for worker processes on close
}

// RecentConfig recent workspace persistence configuration
type RecentConfig struct {
	Backend string `yaml:"backend"` // file, redis
	Path    string `yaml:"path"`    // file backend path, defaults to <user config dir>/twinpool/recent_workspace.json
}

// NotificationConfig notification configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads the configuration file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills zero or invalid values with defaults
func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.MySQL.Port <= 0 {
		cfg.MySQL.Port = 3306
	}
	if cfg.MySQL.RetentionDays <= 0 {
		cfg.MySQL.RetentionDays = 7
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Pool.TickIntervalMs <= 0 {
		cfg.Pool.TickIntervalMs = 1000
	}
	if cfg.Pool.SampleConcurrency <= 0 {
		cfg.Pool.SampleConcurrency = 4
	}
	if cfg.Pool.SampleTimeoutMs <= 0 {
		cfg.Pool.SampleTimeoutMs = 800
	}
	if cfg.Pool.MaxCapacity < 0 {
		cfg.Pool.MaxCapacity = 0
	}
	if cfg.Pool.SnapshotInterval <= 0 {
		cfg.Pool.SnapshotInterval = 60
	}
	if cfg.Jobs.PollIntervalMs <= 0 {
		cfg.Jobs.PollIntervalMs = 2000
	}
	switch cfg.Workspace.Backend {
	case "queue", "memory":
	default:
		cfg.Workspace.Backend = "queue"
	}
	if cfg.Workspace.RefreshMs <= 0 {
		cfg.Workspace.RefreshMs = 1000
	}
	if cfg.Workspace.TaskRetention <= 0 {
		cfg.Workspace.TaskRetention = 24 * 7
	}
	if cfg.Workspace.JobTimeout < 0 {
		cfg.Workspace.JobTimeout = 0
	}
	if cfg.Workspace.ShutdownWaitMs <= 0 {
		cfg.Workspace.ShutdownWaitMs = 5000
	}
	switch cfg.Recent.Backend {
	case "file", "redis":
	default:
		cfg.Recent.Backend = "file"
	}
}
