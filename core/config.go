package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use "250ms" / "5s"
// notation.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// CooldownConfig holds per-key cooldown durations. Keys absent from
// PerKey fall back to Default.
type CooldownConfig struct {
	Default Duration            `yaml:"default"`
	PerKey  map[string]Duration `yaml:"per_key"`
}

// DurationFor returns the cooldown duration for key.
func (c CooldownConfig) DurationFor(key string) time.Duration {
	if d, ok := c.PerKey[key]; ok {
		return d.Std()
	}
	return c.Default.Std()
}

// SinkConfig holds the external sink endpoints and the dispatch timeout.
// Empty URLs select the logging no-op sink (dry-run).
type SinkConfig struct {
	ControllerURL   string   `yaml:"controller_url"`
	NetworkURL      string   `yaml:"network_url"`
	DispatchTimeout Duration `yaml:"dispatch_timeout"`
}

// Config is the full decision-core configuration, loaded once at startup
// and static for the process lifetime.
type Config struct {
	// TickPeriod drives the control loop. A dispatched control patch
	// with a sampling period re-times the loop within [MinTickPeriod,
	// MaxTickPeriod].
	TickPeriod    Duration `yaml:"tick_period"`
	MinTickPeriod Duration `yaml:"min_tick_period"`
	MaxTickPeriod Duration `yaml:"max_tick_period"`

	Estimator EstimatorConfig `yaml:"estimator"`
	Reflex    ReflexConfig    `yaml:"reflex"`
	Bandit    BanditConfig    `yaml:"bandit"`
	Cooldowns CooldownConfig  `yaml:"cooldowns"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Sinks     SinkConfig      `yaml:"sinks"`

	// MetricsInterval paces the periodic metrics export log line.
	MetricsInterval Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		TickPeriod:    Duration(time.Second),
		MinTickPeriod: Duration(5 * time.Millisecond),
		MaxTickPeriod: Duration(time.Second),
		Estimator:     DefaultEstimatorConfig(),
		Reflex:        DefaultReflexConfig(),
		Bandit:        DefaultBanditConfig(),
		Cooldowns: CooldownConfig{
			Default: Duration(5 * time.Second),
		},
		Recovery: DefaultRecoveryConfig(),
		Sinks: SinkConfig{
			DispatchTimeout: Duration(500 * time.Millisecond),
		},
		MetricsInterval: Duration(10 * time.Second),
	}
}

// LoadConfig reads a YAML config file over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks parameter ranges across all sections.
func (c *Config) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick_period must be positive, got %s", c.TickPeriod.Std())
	}
	if c.MinTickPeriod <= 0 || c.MaxTickPeriod < c.MinTickPeriod {
		return fmt.Errorf("tick period bounds invalid: min=%s max=%s", c.MinTickPeriod.Std(), c.MaxTickPeriod.Std())
	}
	if c.Estimator.StalenessWindow <= 0 {
		return fmt.Errorf("estimator.staleness_window must be positive, got %s", c.Estimator.StalenessWindow.Std())
	}
	if c.Estimator.GracePeriod <= 0 {
		return fmt.Errorf("estimator.grace_period must be positive, got %s", c.Estimator.GracePeriod.Std())
	}
	if c.Estimator.DefaultMargin <= 0 {
		return fmt.Errorf("estimator.default_margin must be positive, got %f", c.Estimator.DefaultMargin)
	}
	if err := c.Reflex.Validate(); err != nil {
		return err
	}
	if err := c.Bandit.Validate(); err != nil {
		return err
	}
	if err := c.Recovery.Validate(); err != nil {
		return err
	}
	if c.Cooldowns.Default <= 0 {
		return fmt.Errorf("cooldowns.default must be positive, got %s", c.Cooldowns.Default.Std())
	}
	for key, d := range c.Cooldowns.PerKey {
		if d <= 0 {
			return fmt.Errorf("cooldowns.per_key[%s] must be positive, got %s", key, d.Std())
		}
	}
	if c.Sinks.DispatchTimeout <= 0 {
		return fmt.Errorf("sinks.dispatch_timeout must be positive, got %s", c.Sinks.DispatchTimeout.Std())
	}
	return nil
}
