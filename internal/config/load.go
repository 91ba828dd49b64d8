package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration indicates the run cannot start: a required input is
// missing or a setting is out of range. Nothing has been sent when it is returned.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is prepended to every environment override, e.g. LISTMAILER_RATE.
const EnvPrefix = "LISTMAILER"

// defaultHostname is the HELO name when neither LISTMAILER_HOSTNAME nor the
// system hostname is available.
const defaultHostname = "localhost"

// Run holds the settings of a single list run.
type Run struct {
	WorkDir     string        `mapstructure:"workdir" validate:"required"`
	QueueFile   string        `mapstructure:"queuefile" validate:"required"`
	Template    string        `mapstructure:"template" validate:"required"`
	MetaFile    string        `mapstructure:"metafile" validate:"required"`
	KeyFile     string        `mapstructure:"keyfile"`
	Provider    string        `mapstructure:"provider" validate:"oneof=ses resend smtp"`
	Output      string        `mapstructure:"output"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format" validate:"oneof=console text json"`
	Rate        float64       `mapstructure:"rate" validate:"gt=0"`
	Interval    time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1"`
	Send        bool          `mapstructure:"run"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	Hostname    string        `mapstructure:"hostname"`
	Debug       bool          `mapstructure:"debug"`

	// KeyFileFound reports whether KeyFile exists on disk.
	KeyFileFound bool `mapstructure:"-"`
}

// QueuePath returns the absolute path of the recipient CSV file.
func (r *Run) QueuePath() string { return filepath.Join(r.WorkDir, r.QueueFile) }

// TemplatePath returns the absolute path of the message template.
func (r *Run) TemplatePath() string { return filepath.Join(r.WorkDir, r.Template) }

// MetaPath returns the absolute path of the list metadata file.
func (r *Run) MetaPath() string { return filepath.Join(r.WorkDir, r.MetaFile) }

var validate = validator.New(validator.WithRequiredStructEnabled())

// SetDefaults registers the defaults of every Run setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("queuefile", "queue.csv")
	v.SetDefault("template", "template.html")
	v.SetDefault("metafile", "meta.json")
	v.SetDefault("keyfile", "./keys.json")
	v.SetDefault("provider", "ses")
	v.SetDefault("rate", 5)
	v.SetDefault("interval", 200*time.Millisecond)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("concurrency", Concurrency())
	v.SetDefault("run", false)
	v.SetDefault("output", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("hostname", "")
	v.SetDefault("debug", false)
}

// Load resolves the run configuration from v (flags already bound by the
// caller), the working directory's .env file and LISTMAILER_* variables.
// Every input file is checked here so a run never fails half way through for
// a missing file.
func Load(v *viper.Viper) (*Run, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	workDir := strings.TrimSpace(v.GetString("workdir"))
	if workDir == "" {
		return nil, fmt.Errorf("%w: working directory is required", ErrConfiguration)
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve working directory: %v", ErrConfiguration, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: cannot find working directory %s", ErrConfiguration, abs)
	}

	if err := LoadDotenv(abs); err != nil {
		return nil, err
	}

	var cfg Run
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.WorkDir = abs
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.Hostname = strings.TrimSpace(cfg.Hostname); cfg.Hostname == "" {
		cfg.Hostname = defaultHostname
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Hostname = host
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	for label, path := range map[string]string{
		"queue file":    cfg.QueuePath(),
		"template file": cfg.TemplatePath(),
		"meta file":     cfg.MetaPath(),
	} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: cannot find %s %s", ErrConfiguration, label, path)
		}
	}

	if cfg.KeyFile != "" {
		keyPath, err := filepath.Abs(cfg.KeyFile)
		if err == nil {
			cfg.KeyFile = keyPath
		}
		if _, err := os.Stat(cfg.KeyFile); err == nil {
			cfg.KeyFileFound = true
		}
	}

	return &cfg, nil
}

// LoadDotenv loads dir/.env into the process environment when present.
// Variables already set in the environment win.
func LoadDotenv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrConfiguration, path, err)
	}
	return nil
}

// LoadKeys reads the credentials file. The shape of its content depends on
// the selected provider and is decoded by the transport, not here.
func LoadKeys(path string) (*viper.Viper, error) {
	keys := viper.New()
	keys.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		keys.SetConfigType("json")
	}
	if err := keys.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: cannot load keyfile: %v", ErrConfiguration, err)
	}
	return keys, nil
}
