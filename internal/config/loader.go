package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, optionally overlaid
// by a local .env file, matching the teacher's env-first loader idiom.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaults()

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("database_url"))
	cfg.APIKey = strings.TrimSpace(os.Getenv("api_key"))
	cfg.LLMAPIKey = strings.TrimSpace(os.Getenv("llm_api_key"))

	if v := strings.TrimSpace(os.Getenv("embedding_dim")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("upsert_threshold")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.UpsertThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("state_freshness_window_seconds")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.StateFreshnessWindowSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("context_budget_chars")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.ContextBudgetChars = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("worker_pool_size")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("per_user_concurrency")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.PerUserConcurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("request_timeout_seconds")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.RequestTimeoutSeconds = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); v != "" {
		cfg.LLMProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")); v != "" {
		cfg.EmbeddingProvider = v
	}
	cfg.AnthropicModel = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), "claude-3-5-haiku-latest")
	cfg.OpenAIModel = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o-mini")
	cfg.GoogleModel = firstNonEmpty(strings.TrimSpace(os.Getenv("GOOGLE_MODEL")), "gemini-1.5-flash")
	cfg.EmbeddingAPIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")), cfg.LLMAPIKey)

	if v := strings.TrimSpace(os.Getenv("VECTOR_BACKEND")); v != "" {
		cfg.VectorBackend = v
	}
	cfg.QdrantDSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	if v := strings.TrimSpace(os.Getenv("QDRANT_COLLECTION")); v != "" {
		cfg.QdrantCollection = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_METRIC")); v != "" {
		cfg.VectorMetric = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("IDEMPOTENCY_TTL_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.IdempotencyTTLSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = splitAndTrim(v)
	}
	cfg.KafkaTopic = firstNonEmpty(strings.TrimSpace(os.Getenv("KAFKA_TOPIC")), "cortex.ingest-jobs")

	if v := strings.TrimSpace(os.Getenv("CHUNK_TIMEOUT_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.ChunkTimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("JOB_WALL_CLOCK_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.JobWallClockSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ADAPTER_RETRIES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxAdapterRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ADAPTER_CONCURRENCY")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.AdapterConcurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STATE_HALF_LIFE_DAYS")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.StateHalfLifeDays = f
		}
	}

	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), cfg.LogLevel)
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTLP_ENDPOINT"))
	cfg.OTelService = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), cfg.OTelService)
	cfg.OTelEnv = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_ENVIRONMENT")), cfg.OTelEnv)

	return cfg, nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
