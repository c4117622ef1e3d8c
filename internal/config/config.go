package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Phillip-Steyn/cnc-iiot/internal/cron"
	"github.com/Phillip-Steyn/cnc-iiot/internal/logger"
)

// EnvPrefix prefixes environment overrides: CNC_<SECTION>_<KEY>.
const EnvPrefix = "CNC"

// Ingest modes.
const (
	ModeFile   = "file"
	ModeSerial = "serial"
)

// Config represents the TOML configuration file.
type Config struct {
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Ingest  IngestConfig  `toml:"ingest" mapstructure:"ingest"`
	Job     JobConfig     `toml:"job" mapstructure:"job"`
	KPI     KPIConfig     `toml:"kpi" mapstructure:"kpi"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type IngestConfig struct {
	Mode          string        `toml:"mode" mapstructure:"mode"`
	File          string        `toml:"file" mapstructure:"file"`
	Sleep         time.Duration `toml:"sleep" mapstructure:"sleep"`
	Port          string        `toml:"port" mapstructure:"port"`
	Baud          int           `toml:"baud" mapstructure:"baud"`
	SourceTag     string        `toml:"source_tag" mapstructure:"source_tag"`
	FinalizeOnEOF bool          `toml:"finalize_on_eof" mapstructure:"finalize_on_eof"`
}

type JobConfig struct {
	ClearActiveOnFinish bool `toml:"clear_active_on_finish" mapstructure:"clear_active_on_finish"`
}

type KPIConfig struct {
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type ServerConfig struct {
	Listen          string    `toml:"listen" mapstructure:"listen"`
	BasePath        string    `toml:"base_path" mapstructure:"base_path"`
	Metrics         bool      `toml:"metrics" mapstructure:"metrics"`
	RefreshSchedule string    `toml:"refresh_schedule" mapstructure:"refresh_schedule"`
	TLS             TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the API over HTTPS. Either CertFile and KeyFile, or Dir
// holding tls.crt and tls.key, must be given when Enabled.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// HistoryConfig selects where lifecycle history is exported. Empty DSN
// disables export.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

var defaults = map[string]any{
	"store.dsn": "cnc_iiot.db",

	"log.level":        "info",
	"log.format":       "text",
	"log.timestamps":   true,
	"log.file":         "",
	"log.max_size_mb":  logger.DefaultMaxSizeMB,
	"log.max_backups":  logger.DefaultMaxBackups,
	"log.max_age_days": logger.DefaultMaxAgeDays,
	"log.compress":     false,

	"ingest.mode":            ModeFile,
	"ingest.file":            "grbl_sample.log",
	"ingest.sleep":           "0s",
	"ingest.port":            "",
	"ingest.baud":            115200,
	"ingest.source_tag":      "grbl",
	"ingest.finalize_on_eof": true,

	"job.clear_active_on_finish": true,

	"kpi.sample_interval": "1s",

	"server.listen":           ":8080",
	"server.base_path":        "/api",
	"server.metrics":          true,
	"server.refresh_schedule": "@every 30s",

	"server.tls.enabled":       false,
	"server.tls.cert_file":     "",
	"server.tls.key_file":      "",
	"server.tls.dir":           "",
	"server.tls.auto_generate": false,
	"server.tls.min_version":   "1.2",
	"server.tls.common_name":   "",
	"server.tls.valid_days":    365,

	"history.dsn": "",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (*Config, error) { return Load("") }

// Load reads the TOML file at path over the defaults. An empty path loads
// defaults and environment overrides only. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &c, nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !logger.ValidFormat(logger.Format(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Ingest.Mode {
	case ModeFile, ModeSerial:
	default:
		errs = append(errs, fmt.Errorf("ingest.mode: unknown mode %q", c.Ingest.Mode))
	}
	if c.Ingest.Sleep < 0 {
		errs = append(errs, errors.New("ingest.sleep must not be negative"))
	}
	if c.Ingest.Baud <= 0 {
		errs = append(errs, errors.New("ingest.baud must be positive"))
	}
	if c.KPI.SampleInterval <= 0 {
		errs = append(errs, errors.New("kpi.sample_interval must be positive"))
	}
	if c.Server.RefreshSchedule != "" {
		if _, err := cron.ParseEvery(c.Server.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("server.refresh_schedule: %w", err))
		}
	}
	if t := c.Server.TLS; t.Enabled {
		if (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
			errs = append(errs, errors.New("server.tls: cert_file and key_file, or dir, are required"))
		}
		switch strings.TrimPrefix(strings.ToLower(t.MinVersion), "tls") {
		case "", "1.2", "1.3":
		default:
			errs = append(errs, fmt.Errorf("server.tls.min_version: unsupported version %q", t.MinVersion))
		}
	}
	return errors.Join(errs...)
}

// Logger converts the log section into a logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(strings.ToLower(c.Log.Level)),
			Format:     logger.Format(c.Log.Format),
			TimeStamps: c.Log.TimeStamps,
		},
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}
