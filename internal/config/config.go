// Package config loads the digestflow run configuration from YAML, with
// environment variables expanded inside the file and defaults applied for
// anything unset.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/digestflow/internal/fetch"
)

// Duration parses YAML duration strings ("30s", "2m") into time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StageConfig holds one stage's executor settings.
type StageConfig struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseDelay      Duration `yaml:"base_delay"`
	RateLimitDelay Duration `yaml:"rate_limit_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
}

// AppConfig is the full run configuration.
type AppConfig struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// RunTimeout is the wall-clock ceiling for one pipeline run.
	RunTimeout Duration `yaml:"run_timeout"`

	Stages struct {
		Parse     StageConfig `yaml:"parse"`
		Fetch     StageConfig `yaml:"fetch"`
		Summarize StageConfig `yaml:"summarize"`
		Notify    StageConfig `yaml:"notify"`
	} `yaml:"stages"`

	Gemini struct {
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"gemini"`

	Slack struct {
		WebhookURL      string `yaml:"webhook_url"`
		AdminWebhookURL string `yaml:"admin_webhook_url"`
		AllowCustomHost bool   `yaml:"allow_custom_host"`
	} `yaml:"slack"`

	Fetch struct {
		UserAgent   string `yaml:"user_agent"`
		CookiesFile string `yaml:"cookies_file"`
	} `yaml:"fetch"`
}

// Load reads configuration from a YAML file, expanding ${VAR} references
// against the environment before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills the per-stage ceilings. Defaults respect the weakest
// downstream link: the publisher tolerates a few parallel fetches, the model
// API fewer, and the webhook is written one message at a time.
func (c *AppConfig) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = Duration(10 * time.Minute)
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}

	applyStageDefaults(&c.Stages.Parse, 1, 2, 100*time.Millisecond, 15*time.Second)
	applyStageDefaults(&c.Stages.Fetch, 4, 3, 1*time.Second, 30*time.Second)
	applyStageDefaults(&c.Stages.Summarize, 2, 3, 2*time.Second, 60*time.Second)
	applyStageDefaults(&c.Stages.Notify, 1, 3, 1*time.Second, 15*time.Second)
}

func applyStageDefaults(s *StageConfig, concurrency, attempts int, baseDelay, timeout time.Duration) {
	if s.MaxConcurrency == 0 {
		s.MaxConcurrency = concurrency
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = attempts
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = Duration(baseDelay)
	}
	if s.RateLimitDelay == 0 {
		s.RateLimitDelay = Duration(4 * baseDelay)
	}
	if s.MaxDelay == 0 {
		s.MaxDelay = Duration(60 * time.Second)
	}
	if s.AttemptTimeout == 0 {
		s.AttemptTimeout = Duration(timeout)
	}
}

// LoadCookies reads the session cookie file referenced by the fetch section.
// An unset path yields no cookies (public articles only).
func (c *AppConfig) LoadCookies() ([]fetch.Cookie, error) {
	if c.Fetch.CookiesFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Fetch.CookiesFile)
	if err != nil {
		return nil, errors.Wrap(err, "read cookies file")
	}
	var cookies []fetch.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, errors.Wrap(err, "parse cookies file")
	}
	return cookies, nil
}
