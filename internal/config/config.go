// Package config loads the harness configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AltairaLabs/evalharness/internal/mcpclient"
	"github.com/AltairaLabs/evalharness/internal/policy"
	"github.com/AltairaLabs/evalharness/internal/retry"
	"github.com/AltairaLabs/evalharness/internal/session"
)

// envPrefix namespaces environment overrides, e.g. HARNESS_ENDPOINT.
const envPrefix = "HARNESS"

// AuthConfig carries handshake credentials.
type AuthConfig struct {
	Bearer  string            `mapstructure:"bearer"`
	Headers map[string]string `mapstructure:"headers"`
}

// TimeoutConfig bounds network operations, in milliseconds.
type TimeoutConfig struct {
	ConnectMs int `mapstructure:"connect_ms"`
	CallMs    int `mapstructure:"call_ms"`
}

// RetryConfig controls connection retry behavior.
type RetryConfig struct {
	Retries   int `mapstructure:"retries"`
	BackoffMs int `mapstructure:"backoff_ms"`
}

// Config is the full configuration surface consumed by the harness.
type Config struct {
	Endpoint   string           `mapstructure:"endpoint"`
	Model      string           `mapstructure:"model"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Policy     policy.Config    `mapstructure:"policy"`
	Rates      session.Rates    `mapstructure:"rates"`
	Caps       session.TextCaps `mapstructure:"text_caps"`
	Guardrails map[string]any   `mapstructure:"guardrails"`
}

// DefaultConfig returns the default harness configuration
func DefaultConfig() Config {
	timeouts := mcpclient.DefaultTimeouts()
	retryPolicy := retry.DefaultPolicy()
	return Config{
		Model: "gpt-4",
		Timeouts: TimeoutConfig{
			ConnectMs: int(timeouts.Connect.Milliseconds()),
			CallMs:    int(timeouts.Call.Milliseconds()),
		},
		Retry: RetryConfig{
			Retries:   retryPolicy.Retries,
			BackoffMs: int(retryPolicy.Backoff.Milliseconds()),
		},
		Policy: policy.DefaultConfig(),
		Rates:  session.DefaultRates(),
		Caps:   session.DefaultTextCaps(),
	}
}

// Load reads configuration from path (optional; defaults apply when empty)
// and the environment. Uses a viper instance rather than the package global
// so concurrent loads do not share state.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("model", defaults.Model)
	v.SetDefault("timeouts.connect_ms", defaults.Timeouts.ConnectMs)
	v.SetDefault("timeouts.call_ms", defaults.Timeouts.CallMs)
	v.SetDefault("retry.retries", defaults.Retry.Retries)
	v.SetDefault("retry.backoff_ms", defaults.Retry.BackoffMs)
	v.SetDefault("policy.max_steps", defaults.Policy.MaxSteps)
	v.SetDefault("rates.input_per_1k", defaults.Rates.InputPer1K)
	v.SetDefault("rates.output_per_1k", defaults.Rates.OutputPer1K)
	v.SetDefault("text_caps.input", defaults.Caps.Input)
	v.SetDefault("text_caps.output", defaults.Caps.Output)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Timeouts.ConnectMs <= 0 {
		return fmt.Errorf("timeouts.connect_ms must be positive")
	}
	if c.Timeouts.CallMs <= 0 {
		return fmt.Errorf("timeouts.call_ms must be positive")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	retryPolicy := c.RetryPolicy()
	if err := retryPolicy.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	return nil
}

// ClientTimeouts converts the millisecond config into client timeouts.
func (c *Config) ClientTimeouts() mcpclient.Timeouts {
	return mcpclient.Timeouts{
		Connect: time.Duration(c.Timeouts.ConnectMs) * time.Millisecond,
		Call:    time.Duration(c.Timeouts.CallMs) * time.Millisecond,
	}
}

// ClientAuth converts the auth config into client credentials.
func (c *Config) ClientAuth() mcpclient.Auth {
	return mcpclient.Auth{
		Bearer:  c.Auth.Bearer,
		Headers: c.Auth.Headers,
	}
}

// RetryPolicy converts the retry config into a backoff policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Retries: c.Retry.Retries,
		Backoff: time.Duration(c.Retry.BackoffMs) * time.Millisecond,
	}
}
