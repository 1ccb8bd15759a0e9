package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Retrieval.ProviderTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.QueryDeadline.Duration)
	assert.Equal(t, 60, cfg.Fusion.RRFK)
	assert.Equal(t, 0.5, cfg.Fallback.Threshold)
	assert.True(t, cfg.Fusion.RelativeWeights)

	w := cfg.FusionWeights()
	assert.Equal(t, 0.4, w[core.SourceGraph])
	assert.Equal(t, 0.2, w[core.SourceLiterature])
	assert.Equal(t, 0.25, w[core.SourceDense])
	assert.Equal(t, 0.15, w[core.SourceSparse])
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "medfuse.toml")
		data := `
[retrieval]
provider_timeout = "2s"

[retrieval.top_k]
dense = 9

[fusion.weights]
graph = 0.6

[fallback]
threshold = 0.7

[literature]
enabled = true
email = "ops@example.org"
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Retrieval.ProviderTimeout.Duration)
		assert.Equal(t, 30*time.Second, cfg.Retrieval.QueryDeadline.Duration)
		assert.Equal(t, 9, cfg.TopK(core.SourceDense))
		assert.Equal(t, 5, cfg.TopK(core.SourceSparse))
		assert.Equal(t, 0.6, cfg.Fusion.Weights.Graph)
		assert.Equal(t, 0.25, cfg.Fusion.Weights.Dense)
		assert.Equal(t, 0.7, cfg.Fallback.Threshold)
		assert.True(t, cfg.Literature.Enabled)
		assert.Equal(t, "ops@example.org", cfg.Literature.Email)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed TOML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[retrieval\npool_size = "), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse TOML")
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := Default()
		err := Parse([]byte("[retrieval]\nquery_deadline = \"soon\"\n"), cfg)
		require.Error(t, err)
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.ProviderTimeout = Duration{1500 * time.Millisecond}

	data, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.5s")

	decoded := &Config{}
	require.NoError(t, Parse(data, decoded))
	assert.Equal(t, cfg, decoded)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvNeo4jPassword: "secret",
		EnvPubMedEmail:   "me@example.org",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Literature.APIKey = "from-file"
	cfg.ApplyEnv(lookup)

	assert.Equal(t, "secret", cfg.Graph.Password)
	assert.Equal(t, "me@example.org", cfg.Literature.Email)
	assert.Equal(t, "from-file", cfg.Literature.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero top k", func(c *Config) { c.Retrieval.TopK.Graph = 0 }, "top_k"},
		{"weight above one", func(c *Config) { c.Fusion.Weights.Dense = 1.5 }, "fusion.weights.dense"},
		{"negative weight", func(c *Config) { c.Fusion.Weights.Sparse = -0.1 }, "fusion.weights.sparse"},
		{"threshold above one", func(c *Config) { c.Fallback.Threshold = 2 }, "fallback.threshold"},
		{"rrf k zero", func(c *Config) { c.Fusion.RRFK = 0 }, "rrf_k"},
		{"zero provider timeout", func(c *Config) { c.Retrieval.ProviderTimeout = Duration{} }, "provider_timeout"},
		{"zero pool", func(c *Config) { c.Retrieval.PoolSize = 0 }, "pool_size"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"literature without results", func(c *Config) {
			c.Literature.Enabled = true
			c.Literature.MaxResults = 0
		}, "max_results"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("in-memory storage needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := Default()
		cfg.Fusion.RRFK = -1
		cfg.Fallback.Threshold = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rrf_k")
		assert.Contains(t, err.Error(), "fallback.threshold")
	})
}

func TestAIConfig(t *testing.T) {
	cfg := Default()
	cfg.AI.EmbeddingModel = "text-embedding-3-small"
	cfg.AI.APIKey = "k"

	aiCfg := cfg.AIConfig()
	assert.Equal(t, "text-embedding-3-small", aiCfg.EmbeddingModel)
	assert.Equal(t, "k", aiCfg.APIKey)
	assert.Equal(t, cfg.AI.MinEntityConfidence, aiCfg.MinEntityConfidence)
}
