// Package config loads scriptwatch settings from a TOML file, optional env
// files and SCRIPTWATCH_* environment variables, in increasing precedence.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scriptservice"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const envPrefix = "SCRIPTWATCH_"

// Polling presets.
const (
	PollingServer = "server"
	PollingLocal  = "local"
)

// Config is the resolved configuration.
type Config struct {
	// Endpoint is the agent's websocket URL.
	Endpoint             string
	RetriesEnabled       bool
	RetryDuration        time.Duration
	Polling              string
	AbandonCompleteAfter time.Duration
	LockDir              string
	// Journal is the path of the run journal database, empty disables it.
	Journal        string
	LogLevel       string
	LogFormat      string
	Tracing        string
	MetricsAddress string
}

// file mirrors the TOML layout. Durations are kept as strings and parsed
// afterwards so they can be written as "90s".
type file struct {
	Endpoint             string      `toml:"endpoint"`
	Retries              retriesFile `toml:"retries"`
	Polling              string      `toml:"polling"`
	AbandonCompleteAfter string      `toml:"abandon-complete-after"`
	LockDir              string      `toml:"lock-dir"`
	Journal              *string     `toml:"journal"`
	Log                  logFile     `toml:"log"`
	Tracing              string      `toml:"tracing"`
	MetricsAddress       string      `toml:"metrics-address"`
}

type retriesFile struct {
	Enabled  *bool  `toml:"enabled"`
	Duration string `toml:"duration"`
}

type logFile struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	state := filepath.Join(os.TempDir(), "scriptwatch")
	return &Config{
		RetriesEnabled:       true,
		RetryDuration:        rpc.DefaultRetryDuration,
		Polling:              PollingServer,
		AbandonCompleteAfter: scriptservice.DefaultAbandonCompleteAfter,
		LockDir:              filepath.Join(state, "locks"),
		Journal:              filepath.Join(state, "journal.db"),
		LogLevel:             "info",
		LogFormat:            "text",
		Tracing:              "none",
	}
}

// Load reads the TOML file at path, if path is not empty, then loads envFiles
// into the environment without replacing variables that are already set, and
// finally applies SCRIPTWATCH_* overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := cfg.decode(raw); err != nil {
			return nil, errors.WithMessagef(err, "config %s", path)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, errors.Wrap(err, "load env files")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(raw []byte) error {
	var f file
	if err := toml.Unmarshal(raw, &f); err != nil {
		return errors.Wrap(err, "parse toml")
	}

	setString(&c.Endpoint, f.Endpoint)
	if f.Retries.Enabled != nil {
		c.RetriesEnabled = *f.Retries.Enabled
	}
	if err := setDuration(&c.RetryDuration, "retries.duration", f.Retries.Duration); err != nil {
		return err
	}
	setString(&c.Polling, f.Polling)
	if err := setDuration(&c.AbandonCompleteAfter, "abandon-complete-after", f.AbandonCompleteAfter); err != nil {
		return err
	}
	setString(&c.LockDir, f.LockDir)
	if f.Journal != nil {
		c.Journal = *f.Journal
	}
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	setString(&c.Tracing, f.Tracing)
	setString(&c.MetricsAddress, f.MetricsAddress)
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		return lookup(envPrefix + key)
	}

	if v, ok := get("ENDPOINT"); ok {
		c.Endpoint = v
	}
	if v, ok := get("RETRIES_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sRETRIES_ENABLED", envPrefix)
		}
		c.RetriesEnabled = enabled
	}
	if v, ok := get("RETRY_DURATION"); ok {
		if err := setDuration(&c.RetryDuration, envPrefix+"RETRY_DURATION", v); err != nil {
			return err
		}
	}
	if v, ok := get("POLLING"); ok {
		c.Polling = v
	}
	if v, ok := get("ABANDON_COMPLETE_AFTER"); ok {
		if err := setDuration(&c.AbandonCompleteAfter, envPrefix+"ABANDON_COMPLETE_AFTER", v); err != nil {
			return err
		}
	}
	if v, ok := get("LOCK_DIR"); ok {
		c.LockDir = v
	}
	if v, ok := get("JOURNAL"); ok {
		c.Journal = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := get("TRACING"); ok {
		c.Tracing = v
	}
	if v, ok := get("METRICS_ADDRESS"); ok {
		c.MetricsAddress = v
	}
	return nil
}

// Validate checks values that cannot be checked while decoding.
func (c *Config) Validate() error {
	c.Polling = strings.ToLower(strings.TrimSpace(c.Polling))
	switch c.Polling {
	case PollingServer, PollingLocal:
	default:
		return errors.Errorf("unknown polling preset %q", c.Polling)
	}
	if c.RetryDuration <= 0 {
		return errors.Errorf("retry duration must be positive, got %s", c.RetryDuration)
	}
	if c.AbandonCompleteAfter < 0 {
		return errors.Errorf("abandon-complete-after must not be negative, got %s", c.AbandonCompleteAfter)
	}
	if c.LockDir == "" {
		return errors.New("lock directory must be set")
	}
	return nil
}

// PollingStrategy returns the backoff preset named by Polling.
func (c *Config) PollingStrategy() backoff.Strategy {
	if c.Polling == PollingLocal {
		return backoff.Local()
	}
	return backoff.Server()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "invalid duration for %s", key)
	}
	*dst = d
	return nil
}
