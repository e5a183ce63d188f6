package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("database_url", "")
	t.Setenv("upsert_threshold", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UpsertThreshold != 0.95 {
		t.Errorf("expected default upsert_threshold 0.95, got %v", cfg.UpsertThreshold)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Errorf("expected default worker_pool_size 8, got %d", cfg.WorkerPoolSize)
	}
	if cfg.PerUserConcurrency != 1 {
		t.Errorf("expected default per_user_concurrency 1, got %d", cfg.PerUserConcurrency)
	}
	if cfg.VectorBackend != "pgvector" {
		t.Errorf("expected default vector backend pgvector, got %s", cfg.VectorBackend)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("database_url", "postgres://localhost/cortex")
	t.Setenv("embedding_dim", "1536")
	t.Setenv("per_user_concurrency", "3")
	t.Setenv("VECTOR_BACKEND", "qdrant")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/cortex" {
		t.Errorf("database_url not applied: %q", cfg.DatabaseURL)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Errorf("embedding_dim not applied: %d", cfg.EmbeddingDim)
	}
	if cfg.PerUserConcurrency != 3 {
		t.Errorf("per_user_concurrency not applied: %d", cfg.PerUserConcurrency)
	}
	if cfg.VectorBackend != "qdrant" {
		t.Errorf("VECTOR_BACKEND not applied: %s", cfg.VectorBackend)
	}
}
