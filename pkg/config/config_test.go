package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/mcf-jobs-export/pkg/logging"
	"github.com/Sternrassler/mcf-jobs-export/pkg/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no stray .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.mycareersfuture.gov.sg/v2/jobs/", cfg.API.BaseURL)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, "mcf-jobs-export/0.1.0", cfg.API.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, time.Second, cfg.ThrottleInterval())
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown())
	assert.Zero(t, cfg.FetchDeadline())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, "mcf_jobs.csv", cfg.Output.Path)
	assert.Equal(t, "data", cfg.Output.DataDir)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, tabular.DefaultConfig(), cfg.TabularConfig())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "mcf.yaml")
	writeFile(t, path, `
api:
  page_size: 50
throttle:
  interval_ms: 250
output:
  columns: first
  missing: error
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.API.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleInterval())
	assert.Equal(t, tabular.ColumnsFirst, cfg.TabularConfig().Columns)
	assert.Equal(t, tabular.MissingError, cfg.TabularConfig().Missing)
	// untouched keys keep defaults
	assert.Equal(t, "mcf-jobs-export/0.1.0", cfg.API.UserAgent)
	assert.Equal(t, 3, cfg.Retry.Attempts)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "mcf.yaml")
	writeFile(t, path, "api:\n  page_size: 50\n")

	t.Setenv("MCF_PAGE_SIZE", "20")
	t.Setenv("MCF_THROTTLE_INTERVAL", "2s")
	t.Setenv("MCF_RETRY_INITIAL_BACKOFF", "1500")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.API.PageSize)
	assert.Equal(t, 2*time.Second, cfg.ThrottleInterval())
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryPolicy().InitialBackoff)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Cache.RedisURL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, DefaultEnvFile), "MCF_COLUMNS=first\nMCF_USER_AGENT=from-dotenv\n")

	// variables already in the environment win over .env
	t.Setenv("MCF_USER_AGENT", "from-env")
	t.Cleanup(func() { os.Unsetenv("MCF_COLUMNS") })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "first", cfg.Output.Columns)
	assert.Equal(t, "from-env", cfg.API.UserAgent)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		env      map[string]string
		contains string
	}{
		{
			name:     "unknown yaml key",
			yaml:     "api:\n  page_sise: 10\n",
			contains: "page_sise",
		},
		{
			name:     "malformed env integer",
			env:      map[string]string{"MCF_PAGE_SIZE": "many"},
			contains: `MCF_PAGE_SIZE: "many" is not an integer`,
		},
		{
			name:     "malformed env duration",
			env:      map[string]string{"MCF_HTTP_TIMEOUT": "soon"},
			contains: "MCF_HTTP_TIMEOUT",
		},
		{
			name:     "zero page size",
			env:      map[string]string{"MCF_PAGE_SIZE": "0"},
			contains: "api.page_size must be >= 1",
		},
		{
			name:     "unknown column mode",
			env:      map[string]string{"MCF_COLUMNS": "all"},
			contains: "unknown column mode",
		},
		{
			name:     "zero attempts",
			yaml:     "retry:\n  attempts: 0\n",
			contains: "retry.attempts must be >= 1",
		},
		{
			name:     "negative duration",
			yaml:     "fetch:\n  deadline_ms: -5\n",
			contains: "fetch.deadline_ms must not be negative",
		},
		{
			name:     "bad log level",
			env:      map[string]string{"LOG_LEVEL": "loud"},
			contains: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(dir, "mcf.yaml")
				writeFile(t, path, tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)

	_, err := Load("does-not-exist.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.API.PageSize = 0
	cfg.Output.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.page_size")
	assert.Contains(t, err.Error(), "output.path")
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Fetch.PageTimeoutMS = 5000
	cfg.Output.Columns = "FIRST"
	cfg.Log.Level = "debug"

	pc := cfg.PaginationConfig()
	assert.Equal(t, 100, pc.PageSize)
	assert.Equal(t, 5*time.Second, pc.PageTimeout)

	rp := cfg.RetryPolicy()
	assert.Equal(t, 3, rp.MaxAttempts)
	assert.Equal(t, time.Second, rp.InitialBackoff)
	assert.Equal(t, 30*time.Second, rp.MaxBackoff)
	assert.Equal(t, 2.0, rp.BackoffMultiplier)

	assert.Equal(t, tabular.ColumnsFirst, cfg.TabularConfig().Columns)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.False(t, lc.Pretty)
}
