// Package config loads runtime settings from defaults, an optional config
// file, SEETRUE_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/poll"
	"github.com/fpang/seetrue/internal/service"
	"github.com/fpang/seetrue/internal/submit"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "SEETRUE"

// Config keys.
const (
	KeyEndpoint                = "endpoint"
	KeySubmitPath              = "submit_path"
	KeyStatusPath              = "status_path"
	KeyPollInterval            = "poll_interval"
	KeyMaxPollDuration         = "max_poll_duration"
	KeyRequestTimeout          = "request_timeout"
	KeyCompressUpload          = "compress_upload"
	KeyLabels                  = "labels"
	KeyAllowedExtensions       = "allowed_extensions"
	KeyRequiredColumns         = "required_columns"
	KeyRequireBatchBeforeFinal = "require_batch_before_final"
	KeyHistoryTable            = "history_table"
	KeyMetricsNamespace        = "metrics_namespace"
	KeyMetricsEnabled          = "metrics_enabled"
	KeyLogLevel                = "log_level"
	KeyListenAddr              = "listen_addr"
)

// Config holds every setting of the CLI and the stub service.
type Config struct {
	Endpoint                string        `mapstructure:"endpoint"`
	SubmitPath              string        `mapstructure:"submit_path"`
	StatusPath              string        `mapstructure:"status_path"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	MaxPollDuration         time.Duration `mapstructure:"max_poll_duration"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	CompressUpload          bool          `mapstructure:"compress_upload"`
	Labels                  []string      `mapstructure:"labels"`
	AllowedExtensions       []string      `mapstructure:"allowed_extensions"`
	RequiredColumns         []string      `mapstructure:"required_columns"`
	RequireBatchBeforeFinal bool          `mapstructure:"require_batch_before_final"`
	HistoryTable            string        `mapstructure:"history_table"`
	MetricsNamespace        string        `mapstructure:"metrics_namespace"`
	MetricsEnabled          bool          `mapstructure:"metrics_enabled"`
	LogLevel                string        `mapstructure:"log_level"`
	ListenAddr              string        `mapstructure:"listen_addr"`

	labelSet classify.LabelSet
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyEndpoint, "http://127.0.0.1:8080")
	v.SetDefault(KeySubmitPath, service.DefaultSubmitPath)
	v.SetDefault(KeyStatusPath, service.DefaultStatusPath)
	v.SetDefault(KeyPollInterval, poll.DefaultInterval)
	v.SetDefault(KeyMaxPollDuration, time.Duration(0))
	v.SetDefault(KeyRequestTimeout, service.DefaultTimeout)
	v.SetDefault(KeyCompressUpload, false)
	v.SetDefault(KeyLabels, classify.DefaultLabels.Names())
	v.SetDefault(KeyAllowedExtensions, []string{".csv"})
	v.SetDefault(KeyRequiredColumns, submit.DefaultRequiredColumns)
	v.SetDefault(KeyRequireBatchBeforeFinal, true)
	v.SetDefault(KeyHistoryTable, "")
	v.SetDefault(KeyMetricsNamespace, "Seetrue")
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyListenAddr, "127.0.0.1:8080")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name matches a config key, with
// dashes standing in for underscores (poll-interval binds poll_interval).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !v.IsSet(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads file (when non-empty) into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s %q: want an absolute http(s) URL", KeyEndpoint, c.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: unsupported scheme %s", KeyEndpoint, c.Endpoint, u.Scheme)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyPollInterval, c.PollInterval)
	}
	if c.MaxPollDuration < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyMaxPollDuration, c.MaxPollDuration)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyRequestTimeout, c.RequestTimeout)
	}
	set, err := classify.NewLabelSet(c.Labels...)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyLabels, err)
	}
	c.labelSet = set
	return nil
}

// LabelSet returns the validated label set.
func (c *Config) LabelSet() classify.LabelSet {
	if c.labelSet.Len() == 0 {
		return classify.DefaultLabels
	}
	return c.labelSet
}
