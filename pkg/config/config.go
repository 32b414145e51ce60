// Package config loads the kros YAML configuration. The document is kept
// both as a nested key/value tree, for dotted lookups, and as typed
// structs. It is read once at start-up.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// DefaultYAML is the stock configuration
const DefaultYAML = `kros:
  message_bus:
    max_age_ms: 20
    poll_interval_ms: 2
    cleanup_delay_ms: 10
  publisher:
    queue:
      loop_freq_hz: 20
  behaviour:
    loop_freq_hz: 20
    enabled: [roam, avoid, idle]
    roam:
      cruise_speed: 0.5
      suppressed: true
    avoid:
      min_distance: 20.0
      reverse_speed: 0.4
      suppressed: false
    idle:
      idle_threshold_sec: 10
      suppressed: true
  log:
    level: info
    json: false
  diagnostics:
    addr: 127.0.0.1:9190
    rate_limit_per_minute: 600
  storage:
    data_dir: ""
`

// Config is the parsed configuration
type Config struct {
	Kros Kros `yaml:"kros"`

	tree map[string]any
}

// Kros is the root section
type Kros struct {
	MessageBus  MessageBus  `yaml:"message_bus"`
	Publisher   Publisher   `yaml:"publisher"`
	Behaviour   Behaviour   `yaml:"behaviour"`
	Log         Log         `yaml:"log"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
	Storage     Storage     `yaml:"storage"`
}

// MessageBus holds bus timing
type MessageBus struct {
	MaxAgeMS       int `yaml:"max_age_ms"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
	CleanupDelayMS int `yaml:"cleanup_delay_ms"`
}

// MaxAge returns max_age_ms as a duration
func (m MessageBus) MaxAge() time.Duration {
	return time.Duration(m.MaxAgeMS) * time.Millisecond
}

// PollInterval returns poll_interval_ms as a duration
func (m MessageBus) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

// CleanupDelay returns cleanup_delay_ms as a duration
func (m MessageBus) CleanupDelay() time.Duration {
	return time.Duration(m.CleanupDelayMS) * time.Millisecond
}

type Publisher struct {
	Queue QueuePublisher `yaml:"queue"`
}

type QueuePublisher struct {
	LoopFreqHz float64 `yaml:"loop_freq_hz"`
}

// Behaviour holds arbitrator and per-behaviour settings
type Behaviour struct {
	LoopFreqHz float64  `yaml:"loop_freq_hz"`
	Enabled    []string `yaml:"enabled"`
	Roam       Roam     `yaml:"roam"`
	Avoid      Avoid    `yaml:"avoid"`
	Idle       Idle     `yaml:"idle"`
}

// TickInterval returns the period matching loop_freq_hz
func (b Behaviour) TickInterval() time.Duration {
	if b.LoopFreqHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / b.LoopFreqHz)
}

type Roam struct {
	CruiseSpeed float64 `yaml:"cruise_speed"`
	Suppressed  bool    `yaml:"suppressed"`
}

type Avoid struct {
	MinDistance  float64 `yaml:"min_distance"`
	ReverseSpeed float64 `yaml:"reverse_speed"`
	Suppressed   bool    `yaml:"suppressed"`
}

type Idle struct {
	IdleThresholdSec int  `yaml:"idle_threshold_sec"`
	Suppressed       bool `yaml:"suppressed"`
}

// Threshold returns idle_threshold_sec as a duration
func (i Idle) Threshold() time.Duration {
	return time.Duration(i.IdleThresholdSec) * time.Second
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Diagnostics struct {
	Addr               string `yaml:"addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type Storage struct {
	DataDir string `yaml:"data_dir"`
}

// Default returns the stock configuration
func Default() *Config {
	c, err := parse([]byte(DefaultYAML), nil)
	if err != nil {
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return c
}

// Parse reads a YAML document over the defaults
func Parse(data []byte) (*Config, error) {
	return parse(data, Default())
}

// Load reads and parses the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte, base *Config) (*Config, error) {
	c := &Config{}
	if base != nil {
		c.Kros = base.Kros
		c.Kros.Behaviour.Enabled = append([]string(nil), base.Kros.Behaviour.Enabled...)
		c.tree = copyTree(base.tree)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if len(tree) > 0 {
		if _, ok := tree["kros"]; !ok {
			return nil, errors.New("missing top-level 'kros' section")
		}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	c.tree = merge(c.tree, tree)
	return c, nil
}

// Lookup returns the value at a dotted key such as
// kros.behaviour.avoid.min_distance
func (c *Config) Lookup(key string) (any, bool) {
	var node any = c.tree
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// LookupFloat returns a numeric value at key
func (c *Config) LookupFloat(key string) (float64, bool) {
	v, ok := c.Lookup(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// LookupString returns a string value at key
func (c *Config) LookupString(key string) (string, bool) {
	v, ok := c.Lookup(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Validate rejects non-positive timings and frequencies
func (c *Config) Validate() error {
	var errs []error
	k := c.Kros
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}
	positive("kros.message_bus.max_age_ms", float64(k.MessageBus.MaxAgeMS))
	positive("kros.message_bus.poll_interval_ms", float64(k.MessageBus.PollIntervalMS))
	if k.MessageBus.CleanupDelayMS < 0 {
		errs = append(errs, fmt.Errorf("kros.message_bus.cleanup_delay_ms must not be negative"))
	}
	positive("kros.publisher.queue.loop_freq_hz", k.Publisher.Queue.LoopFreqHz)
	positive("kros.behaviour.loop_freq_hz", k.Behaviour.LoopFreqHz)
	positive("kros.behaviour.roam.cruise_speed", k.Behaviour.Roam.CruiseSpeed)
	positive("kros.behaviour.avoid.min_distance", k.Behaviour.Avoid.MinDistance)
	positive("kros.behaviour.avoid.reverse_speed", k.Behaviour.Avoid.ReverseSpeed)
	positive("kros.behaviour.idle.idle_threshold_sec", float64(k.Behaviour.Idle.IdleThresholdSec))
	if k.Diagnostics.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("kros.diagnostics.rate_limit_per_minute must not be negative"))
	}
	return errors.Join(errs...)
}

// Marshal encodes the typed view as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault atomically writes the stock configuration to path
func WriteDefault(path string) error {
	if err := renameio.WriteFile(path, []byte(DefaultYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		sm, srcIsMap := v.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = merge(dm, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

func copyTree(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if m, ok := v.(map[string]any); ok {
			dst[k] = copyTree(m)
			continue
		}
		dst[k] = v
	}
	return dst
}
