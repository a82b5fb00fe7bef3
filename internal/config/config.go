package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AdapterIndex     int     `mapstructure:"adapter_index" yaml:"adapter_index"`
	Backend          string  `mapstructure:"backend" yaml:"backend"`
	AcquireTimeoutMs int     `mapstructure:"acquire_timeout_ms" yaml:"acquire_timeout_ms"`
	PollIntervalMs   int     `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	MaxFPS           float64 `mapstructure:"max_fps" yaml:"max_fps"`

	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	SinkWorkers   int    `mapstructure:"sink_workers" yaml:"sink_workers"`
	SinkQueueSize int    `mapstructure:"sink_queue_size" yaml:"sink_queue_size"`

	UploadURL      string `mapstructure:"upload_url" yaml:"upload_url"`
	UploadRegion   string `mapstructure:"upload_region" yaml:"upload_region"`
	UploadEndpoint string `mapstructure:"upload_endpoint" yaml:"upload_endpoint"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	RebuildBackoffInitialMs int `mapstructure:"rebuild_backoff_initial_ms" yaml:"rebuild_backoff_initial_ms"`
	RebuildBackoffMaxMs     int `mapstructure:"rebuild_backoff_max_ms" yaml:"rebuild_backoff_max_ms"`
}

const (
	BackendDXGI      = "dxgi"
	BackendSimulated = "simulated"
)

func Default() *Config {
	return &Config{
		AdapterIndex:            0,
		Backend:                 BackendDXGI,
		AcquireTimeoutMs:        100,
		PollIntervalMs:          0,
		MaxFPS:                  10,
		OutputDir:               "captures",
		OutputFormat:            "png",
		SinkWorkers:             2,
		SinkQueueSize:           8,
		LogLevel:                "info",
		LogFormat:               "text",
		LogMaxSizeMB:            10,
		LogMaxBackups:           3,
		RebuildBackoffInitialMs: 250,
		RebuildBackoffMaxMs:     5000,
	}
}

// AcquireTimeout is the per-frame wait passed to AcquireNextFrame.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMs) * time.Millisecond
}

// PollInterval is the minimum gap between capture attempts. Zero leaves
// pacing to MaxFPS.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FrameDestination is where watch puts frames: UploadURL when set,
// otherwise OutputDir.
func (c *Config) FrameDestination() string {
	if c.UploadURL != "" {
		return c.UploadURL
	}
	return c.OutputDir
}

func (c *Config) RebuildBackoffInitial() time.Duration {
	return time.Duration(c.RebuildBackoffInitialMs) * time.Millisecond
}

func (c *Config) RebuildBackoffMax() time.Duration {
	return time.Duration(c.RebuildBackoffMaxMs) * time.Millisecond
}

// Load reads cfgFile, or deskcap.yaml from the platform config directory or
// the working directory. A missing file is not an error. DESKCAP_* environment
// variables override file values.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskcap")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DESKCAP")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// newViper registers every key with its default so environment overrides
// apply even when the key is absent from the file.
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range settings(Default()) {
		v.SetDefault(key, value)
	}
	return v
}

func settings(cfg *Config) map[string]any {
	return map[string]any{
		"adapter_index":              cfg.AdapterIndex,
		"backend":                    cfg.Backend,
		"acquire_timeout_ms":         cfg.AcquireTimeoutMs,
		"poll_interval_ms":           cfg.PollIntervalMs,
		"max_fps":                    cfg.MaxFPS,
		"output_dir":                 cfg.OutputDir,
		"output_format":              cfg.OutputFormat,
		"sink_workers":               cfg.SinkWorkers,
		"sink_queue_size":            cfg.SinkQueueSize,
		"upload_url":                 cfg.UploadURL,
		"upload_region":              cfg.UploadRegion,
		"upload_endpoint":            cfg.UploadEndpoint,
		"metrics_addr":               cfg.MetricsAddr,
		"log_level":                  cfg.LogLevel,
		"log_format":                 cfg.LogFormat,
		"log_file":                   cfg.LogFile,
		"log_max_size_mb":            cfg.LogMaxSizeMB,
		"log_max_backups":            cfg.LogMaxBackups,
		"rebuild_backoff_initial_ms": cfg.RebuildBackoffInitialMs,
		"rebuild_backoff_max_ms":     cfg.RebuildBackoffMaxMs,
	}
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or to deskcap.yaml in the platform
// config directory when cfgFile is empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "deskcap.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}
	if filepath.Ext(cfgPath) == "" {
		v.SetConfigType("yaml")
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

// Dump renders cfg as YAML in field order.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Deskcap")
	case "darwin":
		return "/Library/Application Support/Deskcap"
	default:
		return "/etc/deskcap"
	}
}
