// Package config loads medfuse settings from a TOML file.
//
// Every key is optional; missing keys keep the values from Default. Secrets
// can also come from the environment (see ApplyEnv).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/fusion"
)

// Environment variables that override file values.
const (
	EnvNeo4jPassword = "MEDFUSE_NEO4J_PASSWORD"
	EnvPubMedAPIKey  = "MEDFUSE_PUBMED_API_KEY"
	EnvPubMedEmail   = "MEDFUSE_PUBMED_EMAIL"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type StorageConfig struct {
	Path     string `toml:"path"`
	InMemory bool   `toml:"in_memory"`
}

type AIConfig struct {
	EmbeddingHost       string  `toml:"embedding_host"`
	EmbeddingModel      string  `toml:"embedding_model"`
	ExtractorHost       string  `toml:"extractor_host"`
	ExtractorModel      string  `toml:"extractor_model"`
	APIKey              string  `toml:"api_key"`
	UseExtractor        bool    `toml:"use_extractor"`
	MinEntityConfidence float64 `toml:"min_entity_confidence"`
}

type GraphConfig struct {
	Enabled        bool    `toml:"enabled"`
	URI            string  `toml:"uri"`
	Username       string  `toml:"username"`
	Password       string  `toml:"password"`
	FactConfidence float64 `toml:"fact_confidence"`
}

type LiteratureConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	Email             string  `toml:"email"`
	APIKey            string  `toml:"api_key"`
	MaxResults        int     `toml:"max_results"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type TopKConfig struct {
	Graph      int `toml:"graph"`
	Literature int `toml:"literature"`
	Dense      int `toml:"dense"`
	Sparse     int `toml:"sparse"`
}

type RetrievalConfig struct {
	TopK               TopKConfig `toml:"top_k"`
	ProviderTimeout    Duration   `toml:"provider_timeout"`
	QueryDeadline      Duration   `toml:"query_deadline"`
	PoolSize           int        `toml:"pool_size"`
	DenseMinSimilarity float64    `toml:"dense_min_similarity"`
	SparseThreshold    float64    `toml:"sparse_threshold"`
}

type WeightsConfig struct {
	Graph      float64 `toml:"graph"`
	Literature float64 `toml:"literature"`
	Dense      float64 `toml:"dense"`
	Sparse     float64 `toml:"sparse"`
}

type FusionConfig struct {
	Weights         WeightsConfig `toml:"weights"`
	RRFK            int           `toml:"rrf_k"`
	RelativeWeights bool          `toml:"relative_weights"`
}

type FallbackConfig struct {
	Threshold float64 `toml:"threshold"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Config holds every medfuse setting.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	AI         AIConfig         `toml:"ai"`
	Graph      GraphConfig      `toml:"graph"`
	Literature LiteratureConfig `toml:"literature"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Fusion     FusionConfig     `toml:"fusion"`
	Fallback   FallbackConfig   `toml:"fallback"`
	Server     ServerConfig     `toml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{Path: "medfuse.db"},
		AI: AIConfig{
			EmbeddingHost:       aiDefaults.EmbeddingHost,
			EmbeddingModel:      aiDefaults.EmbeddingModel,
			ExtractorHost:       aiDefaults.ExtractorHost,
			ExtractorModel:      aiDefaults.ExtractorModel,
			MinEntityConfidence: aiDefaults.MinEntityConfidence,
		},
		Graph: GraphConfig{
			URI:            "neo4j://localhost:7687",
			Username:       "neo4j",
			FactConfidence: 0.9,
		},
		Literature: LiteratureConfig{
			BaseURL:    "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			MaxResults: 5,
		},
		Retrieval: RetrievalConfig{
			TopK:               TopKConfig{Graph: 5, Literature: 3, Dense: 5, Sparse: 5},
			ProviderTimeout:    Duration{10 * time.Second},
			QueryDeadline:      Duration{30 * time.Second},
			PoolSize:           64,
			DenseMinSimilarity: 0.3,
			SparseThreshold:    0.5,
		},
		Fusion: FusionConfig{
			Weights:         WeightsConfig{Graph: 0.4, Literature: 0.2, Dense: 0.25, Sparse: 0.15},
			RRFK:            fusion.DefaultRRFK,
			RelativeWeights: true,
		},
		Fallback: FallbackConfig{Threshold: 0.5},
		Server:   ServerConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg, leaving absent keys untouched.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// ApplyEnv overrides secrets from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvNeo4jPassword); ok {
		c.Graph.Password = v
	}
	if v, ok := lookup(EnvPubMedAPIKey); ok {
		c.Literature.APIKey = v
	}
	if v, ok := lookup(EnvPubMedEmail); ok {
		c.Literature.Email = v
	}
}

// Validate checks ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(name string, v float64) {
		check(core.ValidConfidence(v), "%s must be in [0,1], got %v", name, v)
	}

	check(c.Storage.InMemory || c.Storage.Path != "", "storage.path is required unless storage.in_memory is set")

	t := c.Retrieval.TopK
	check(t.Graph > 0 && t.Literature > 0 && t.Dense > 0 && t.Sparse > 0,
		"retrieval.top_k values must be positive, got %+v", t)
	check(c.Retrieval.ProviderTimeout.Duration > 0, "retrieval.provider_timeout must be positive")
	check(c.Retrieval.QueryDeadline.Duration > 0, "retrieval.query_deadline must be positive")
	check(c.Retrieval.PoolSize > 0, "retrieval.pool_size must be positive, got %d", c.Retrieval.PoolSize)
	unit("retrieval.dense_min_similarity", c.Retrieval.DenseMinSimilarity)
	unit("retrieval.sparse_threshold", c.Retrieval.SparseThreshold)

	w := c.Fusion.Weights
	unit("fusion.weights.graph", w.Graph)
	unit("fusion.weights.literature", w.Literature)
	unit("fusion.weights.dense", w.Dense)
	unit("fusion.weights.sparse", w.Sparse)
	check(c.Fusion.RRFK > 0, "fusion.rrf_k must be positive, got %d", c.Fusion.RRFK)

	unit("fallback.threshold", c.Fallback.Threshold)
	unit("graph.fact_confidence", c.Graph.FactConfidence)
	unit("ai.min_entity_confidence", c.AI.MinEntityConfidence)

	if c.Literature.Enabled {
		check(c.Literature.MaxResults > 0, "literature.max_results must be positive")
		check(c.Literature.RequestsPerSecond >= 0, "literature.requests_per_second must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// FusionWeights converts the weights section for the fusion engine.
func (c *Config) FusionWeights() fusion.Weights {
	w := c.Fusion.Weights
	return fusion.Weights{
		core.SourceGraph:      w.Graph,
		core.SourceLiterature: w.Literature,
		core.SourceDense:      w.Dense,
		core.SourceSparse:     w.Sparse,
	}
}

// TopK returns the configured top-k for a source.
func (c *Config) TopK(src core.SourceType) int {
	t := c.Retrieval.TopK
	switch src {
	case core.SourceGraph:
		return t.Graph
	case core.SourceLiterature:
		return t.Literature
	case core.SourceDense:
		return t.Dense
	case core.SourceSparse:
		return t.Sparse
	}
	return 0
}

// AIConfig converts the ai section into an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithExtractorHost(c.AI.ExtractorHost),
		ai.WithExtractorModel(c.AI.ExtractorModel),
		ai.WithMinEntityConfidence(c.AI.MinEntityConfidence),
	}
	if c.AI.APIKey != "" {
		opts = append(opts, ai.WithAPIKey(c.AI.APIKey))
	}
	return ai.NewConfig(opts...)
}
