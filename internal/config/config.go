// Package config holds the process-wide configuration value. A Config is
// loaded once at startup by Load and passed explicitly to every component;
// there is no package-level mutable singleton beyond the Store pool and
// adapter clients those components construct from it.
package config

// Config is the fully-resolved runtime configuration for Antigravity
// Cortex, per spec.md §6's recognized environment keys plus the ambient
// stack (logging, observability, job pool sizing, provider selection) a
// running service needs.
type Config struct {
	// Core, named directly in spec.md §6.
	DatabaseURL                 string
	APIKey                      string
	LLMAPIKey                   string
	EmbeddingDim                int
	UpsertThreshold             float64
	StateFreshnessWindowSeconds int
	ContextBudgetChars          int
	WorkerPoolSize              int
	PerUserConcurrency          int
	RequestTimeoutSeconds       int

	// HTTP surface.
	HTTPAddr string

	// Provider selection for the Analyzer/Embedder adapters.
	LLMProvider       string // anthropic | openai | google | deterministic
	EmbeddingProvider string // openai | google | deterministic
	AnthropicModel    string
	OpenAIModel       string
	GoogleModel       string
	EmbeddingAPIKey   string // falls back to LLMAPIKey when empty

	// Store backend selection.
	VectorBackend     string // pgvector | qdrant
	QdrantDSN         string
	QdrantCollection  string
	VectorMetric      string // cosine | l2 | ip

	// Job Manager supporting infrastructure.
	RedisURL             string
	IdempotencyTTLSeconds int
	KafkaBrokers         []string
	KafkaTopic           string
	ChunkTimeoutSeconds  int
	JobWallClockSeconds  int
	MaxAdapterRetries    int
	AdapterConcurrency   int

	// Retrieval tuning not otherwise named by spec.md §6.
	StateHalfLifeDays float64

	// Observability.
	LogLevel       string
	LogPath        string
	OTLPEndpoint   string
	OTelService    string
	OTelEnv        string
}

// defaults fills in the zero-values the spec calls out explicitly.
func defaults() Config {
	return Config{
		EmbeddingDim:                768,
		UpsertThreshold:             0.95,
		StateFreshnessWindowSeconds: 24 * 3600,
		ContextBudgetChars:          8000,
		WorkerPoolSize:              8,
		PerUserConcurrency:          1,
		RequestTimeoutSeconds:       30,
		HTTPAddr:                    ":8080",
		LLMProvider:                 "deterministic",
		EmbeddingProvider:           "deterministic",
		VectorBackend:               "pgvector",
		VectorMetric:                "cosine",
		QdrantCollection:            "cortex_memories",
		IdempotencyTTLSeconds:       24 * 3600,
		ChunkTimeoutSeconds:         20,
		JobWallClockSeconds:         5 * 60,
		MaxAdapterRetries:           3,
		AdapterConcurrency:          8,
		StateHalfLifeDays:           14,
		LogLevel:                    "info",
		OTelService:                 "antigravity-cortex",
		OTelEnv:                     "development",
	}
}
