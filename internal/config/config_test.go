package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/internal/config"
	"github.com/aretw0/jobctl/pkg/domain"
)

const sample = `
machine_id: line-2
log_level: debug
workflow: placement
http:
  addr: 127.0.0.1:9090
redis:
  addr: localhost:6379
  lock_ttl: 10s
decision:
  mode: policy
  max_retries: 2
job:
  name: board-a
  operations:
    - id: g1
      type: glue
    - id: p1
      type: place
      ref: R12
processors:
  - kind: glue_dispense
    options:
      types: [glue]
      delay: 20ms
  - kind: pick_and_place
    options:
      types: [place]
      skippable: true
      failures:
        p1: 2
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "line-2", cfg.MachineID)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTimeout)
	assert.Equal(t, config.DecisionPolicy, cfg.Decision.Mode)
	assert.Equal(t, 2, cfg.Decision.MaxRetries)

	job := cfg.NewJob()
	assert.Equal(t, "board-a", job.Name)
	require.Equal(t, 2, job.Len())
	op, _ := job.At(1)
	assert.Equal(t, domain.Operation{ID: "p1", Type: "place", Ref: "R12"}, op)

	require.Len(t, cfg.Processors, 2)
	glue, err := cfg.Processors[0].SimOptions()
	require.NoError(t, err)
	assert.Equal(t, []string{"glue"}, glue.Types)
	assert.Equal(t, 20*time.Millisecond, glue.Delay)

	pnp, err := cfg.Processors[1].SimOptions()
	require.NoError(t, err)
	assert.True(t, pnp.Skippable)
	assert.Equal(t, map[string]int{"p1": 2}, pnp.Failures)
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, config.DecisionPause, cfg.Decision.Mode)
	require.Len(t, cfg.Processors, 1)
	assert.Equal(t, string(domain.ProcessorPickAndPlace), cfg.Processors[0].Kind)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"Unknown Workflow", "workflow: reflow", "unknown workflow"},
		{"Unknown Level", "log_level: loud", "unknown log level"},
		{"Unknown Format", "log_format: xml", "log_format"},
		{"Unknown Decision", "decision: {mode: guess}", "decision.mode"},
		{"Negative Retries", "decision: {mode: policy, max_retries: -1}", "max_retries"},
		{"Unknown Processor", "processors: [{kind: laser}]", "unknown processor kind"},
		{"Duplicate Processor", "processors: [{kind: glue_dispense}, {kind: glue_dispense}]", "duplicate kind"},
		{"No Processors", "processors: []", "at least one processor"},
		{"Unknown Option", "processors: [{kind: glue_dispense, options: {colour: red}}]", "invalid glue_dispense options"},
		{"Missing Operation ID", "job: {operations: [{type: glue}]}", "id is required"},
		{"Duplicate Operation ID", "job: {operations: [{id: a}, {id: a}]}", "duplicate id"},
		{"Empty Machine", "machine_id: ''", "machine_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "line-2", cfg.MachineID)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("machine_id: [unclosed"), 0o644))
	_, err = config.Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}
