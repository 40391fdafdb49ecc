package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, ApplyPathDefaults(cfg))
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "coding_agent", cfg.Agents[0].ID)
	assert.Equal(t, "virtual_sir", cfg.Agents[1].ID)
	assert.Equal(t, []string{"anthropic", "openai", "local"}, cfg.Agents[0].ProviderPreference)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "wait", cfg.Session.BusyPolicy)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Executor.MaxToolIterations)
	assert.Equal(t, 3, cfg.Router.FailureThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults with only the local provider",
			mutate: func(c *Config) {},
		},
		{
			name: "no usable provider",
			mutate: func(c *Config) {
				c.Providers = c.Providers[:2]
				c.Agents[0].ProviderPreference = []string{"anthropic"}
				c.Agents[1].ProviderPreference = []string{"openai"}
			},
			wantErr: "no usable provider",
		},
		{
			name:    "duplicate provider",
			mutate:  func(c *Config) { c.Providers = append(c.Providers, c.Providers[2]) },
			wantErr: "duplicate provider",
		},
		{
			name:    "unknown provider kind",
			mutate:  func(c *Config) { c.Providers[2].Kind = "gemini" },
			wantErr: "invalid provider kind",
		},
		{
			name:    "agent references unknown provider",
			mutate:  func(c *Config) { c.Agents[0].ProviderPreference = []string{"nowhere"} },
			wantErr: "unknown provider",
		},
		{
			name:    "agent without providers",
			mutate:  func(c *Config) { c.Agents[1].ProviderPreference = nil },
			wantErr: "provider preference cannot be empty",
		},
		{
			name:    "no agents",
			mutate:  func(c *Config) { c.Agents = nil },
			wantErr: "at least one agent",
		},
		{
			name:    "invalid cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "invalid cache backend",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "redis_url is required",
		},
		{
			name:    "invalid busy policy",
			mutate:  func(c *Config) { c.Session.BusyPolicy = "drop" },
			wantErr: "busy_policy",
		},
		{
			name:    "invalid embedder",
			mutate:  func(c *Config) { c.Retrieval.Embedder = "word2vec" },
			wantErr: "invalid retrieval embedder",
		},
		{
			name: "overlap not smaller than chunk",
			mutate: func(c *Config) {
				c.Retrieval.ChunkSize = 100
				c.Retrieval.ChunkOverlap = 100
			},
			wantErr: "chunk_overlap",
		},
		{
			name:    "retrieval checks skipped when disabled",
			mutate:  func(c *Config) { c.Retrieval.Enabled = false; c.Retrieval.Embedder = "word2vec" },
			wantErr: "",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: "data directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := setupTestConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers[0].APIKey = "sk-ant-very-secret"
	cfg.Cache.RedisURL = "redis://:hunter2@localhost:6379/0"

	s := cfg.String()

	assert.NotContains(t, s, "sk-ant-very-secret")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "${OPENAI_API_KEY}")
	assert.Contains(t, s, `"coding_agent"`)
	// the receiver is untouched
	assert.Equal(t, "sk-ant-very-secret", cfg.Providers[0].APIKey)
}
