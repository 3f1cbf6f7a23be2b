package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvTransformer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SPECTRAD_LOGGING_LEVEL", "logging.level"},
		{"SPECTRAD_CHECKPOINT_POSTGRES_DSN", "checkpoint.postgres_dsn"},
		{"SPECTRAD_CHECKPOINT_SQLITE_PATH", "checkpoint.sqlite_path"},
		{"SPECTRAD_WORKFLOW_MAX_ITERATIONS", "workflow.max_iterations"},
		{"SPECTRAD_METRICS_ADDR", "metrics.addr"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransformer(tt.in), tt.in)
	}
}

func TestLoadWithFileDefaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []string{BackendSQLite, BackendMemory}, cfg.Checkpoint.Backends)
	assert.NotEmpty(t, cfg.Checkpoint.SQLitePath)
	assert.False(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 64, cfg.Workflow.MaxIterations)
	assert.Equal(t, 3, cfg.Workflow.MaxPlanIterations)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadWithFileEnvOverrides(t *testing.T) {
	t.Setenv("SPECTRAD_LOGGING_LEVEL", "debug")
	t.Setenv("SPECTRAD_WORKFLOW_MAX_ITERATIONS", "10")
	t.Setenv("SPECTRAD_CHECKPOINT_BACKENDS", "memory")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Workflow.MaxIterations)
	assert.Equal(t, []string{BackendMemory}, cfg.Checkpoint.Backends)
}

func TestApplyDefaultsKeepsPartialSections(t *testing.T) {
	var cfg Config
	cfg.Retry.Enabled = true
	cfg.Reasoning.Timeout = 90 * time.Second
	cfg.Reasoning.MaxTokens = 512
	cfg.Workflow.MaxIterations = 16

	applyDefaults(&cfg)

	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 90*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, 512, cfg.Reasoning.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", cfg.Reasoning.Model)
	assert.Equal(t, 16, cfg.Workflow.MaxIterations)
	assert.Equal(t, 3, cfg.Workflow.MaxPlanIterations)
}

func TestLoadWithFileRetryEnabledSurvivesDefaults(t *testing.T) {
	t.Setenv("SPECTRAD_RETRY_ENABLED", "true")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Checkpoint.Backends = []string{"etcd"} },
			wantErr: "unknown checkpoint backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Checkpoint.Backends = []string{BackendPostgres} },
			wantErr: "requires postgres_dsn",
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Checkpoint.Backends = []string{BackendPostgres, BackendMemory}
				c.Checkpoint.PostgresDSN = "postgres://spectrad@localhost/spectrad"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateConfigFileProperties(t *testing.T) {
	dir := t.TempDir()

	secure := filepath.Join(dir, "secure.yaml")
	require.NoError(t, os.WriteFile(secure, []byte("logging:\n  level: info\n"), 0600))
	info, err := os.Stat(secure)
	require.NoError(t, err)
	assert.NoError(t, validateConfigFileProperties(info))

	loose := filepath.Join(dir, "loose.yaml")
	require.NoError(t, os.WriteFile(loose, []byte("x: 1\n"), 0644))
	info, err = os.Stat(loose)
	require.NoError(t, err)
	assert.ErrorContains(t, validateConfigFileProperties(info), "insecure permissions")
}

func TestValidateConfigPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.NoError(t, validateConfigPath(filepath.Join(home, ".config", "spectrad", "config.yaml")))
	assert.NoError(t, validateConfigPath("/etc/spectrad/config.yaml"))
	assert.Error(t, validateConfigPath("/tmp/evil.yaml"))
	assert.Error(t, validateConfigPath(filepath.Join(home, "config.yaml")))
}
