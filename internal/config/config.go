// Package config loads the jobctl YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/jobctl/internal/logging"
	"github.com/aretw0/jobctl/pkg/adapters/sim"
	"github.com/aretw0/jobctl/pkg/domain"
)

// Decision modes.
const (
	DecisionPause   = "pause"
	DecisionPolicy  = "policy"
	DecisionPrompt  = "prompt"
	DecisionMailbox = "mailbox"
)

// Config is the root of jobctl.yaml.
type Config struct {
	MachineID  string            `yaml:"machine_id"`
	LogLevel   string            `yaml:"log_level"`
	LogFormat  string            `yaml:"log_format"`
	Workflow   string            `yaml:"workflow"`
	HTTP       HTTPConfig        `yaml:"http"`
	Redis      RedisConfig       `yaml:"redis"`
	Decision   DecisionConfig    `yaml:"decision"`
	Job        JobConfig         `yaml:"job"`
	Processors []ProcessorConfig `yaml:"processors"`
}

// HTTPConfig configures the HTTP control surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables the redis run store and machine lock when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	RunTTL      time.Duration `yaml:"run_ttl"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// DecisionConfig selects how operation failures are resolved.
type DecisionConfig struct {
	Mode       string        `yaml:"mode"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"` // mailbox only; zero waits forever
}

// JobConfig is the job loaded at startup.
type JobConfig struct {
	Name       string             `yaml:"name"`
	Operations []domain.Operation `yaml:"operations"`
}

// ProcessorConfig registers a simulated processor. Options is decoded into sim.Options.
type ProcessorConfig struct {
	Kind    string         `yaml:"kind"`
	Options map[string]any `yaml:"options"`
}

// Default returns the configuration used when no file is given: a simulated
// pick-and-place processor that pauses on failure.
func Default() *Config {
	return &Config{
		MachineID: "default",
		LogLevel:  "info",
		LogFormat: "text",
		Workflow:  string(domain.WorkflowPlacement),
		HTTP:      HTTPConfig{Addr: ":8080"},
		Redis: RedisConfig{
			Prefix:      "jobctl:run:",
			LockTTL:     30 * time.Second,
			LockTimeout: 5 * time.Second,
		},
		Decision:   DecisionConfig{Mode: DecisionPause},
		Processors: []ProcessorConfig{{Kind: string(domain.ProcessorPickAndPlace)}},
	}
}

// Load reads and validates the file at path on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.MachineID == "" {
		errs = append(errs, errors.New("machine_id is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if _, err := domain.ParseWorkflow(c.Workflow); err != nil {
		errs = append(errs, err)
	}

	switch c.Decision.Mode {
	case DecisionPause, DecisionPolicy, DecisionPrompt, DecisionMailbox:
	default:
		errs = append(errs, fmt.Errorf("decision.mode: unknown mode %q", c.Decision.Mode))
	}
	if c.Decision.MaxRetries < 0 {
		errs = append(errs, errors.New("decision.max_retries must not be negative"))
	}

	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive"))
	}

	if len(c.Processors) == 0 {
		errs = append(errs, errors.New("at least one processor is required"))
	}
	seen := make(map[domain.ProcessorKind]bool)
	for i, p := range c.Processors {
		kind, err := domain.ParseProcessorKind(p.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("processors[%d]: %w", i, err))
			continue
		}
		if seen[kind] {
			errs = append(errs, fmt.Errorf("processors[%d]: duplicate kind %s", i, kind))
		}
		seen[kind] = true
		if _, err := p.SimOptions(); err != nil {
			errs = append(errs, fmt.Errorf("processors[%d]: %w", i, err))
		}
	}

	ids := make(map[string]bool)
	for i, op := range c.Job.Operations {
		if op.ID == "" {
			errs = append(errs, fmt.Errorf("job.operations[%d]: id is required", i))
			continue
		}
		if ids[op.ID] {
			errs = append(errs, fmt.Errorf("job.operations[%d]: duplicate id %q", i, op.ID))
		}
		ids[op.ID] = true
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	l, _ := logging.ParseLevel(c.LogLevel)
	return l
}

// NewJob builds the configured job.
func (c *Config) NewJob() *domain.Job {
	return domain.NewJob(c.Job.Name, c.Job.Operations...)
}

// SimOptions decodes the free-form options into sim.Options. Unknown keys are errors.
func (p ProcessorConfig) SimOptions() (sim.Options, error) {
	var opts sim.Options
	if len(p.Options) == 0 {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(p.Options); err != nil {
		return opts, fmt.Errorf("invalid %s options: %w", p.Kind, err)
	}
	return opts, nil
}
