package store

import (
	"context"

	"cortex/internal/config"
)

// Open constructs the configured Store backend: Postgres/pgvector by
// default, or Postgres with a Qdrant-backed VectorIndex when
// cfg.VectorBackend is "qdrant", mirroring the teacher's backend-selection
// switch in its database factory.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var index VectorIndex
	if cfg.VectorBackend == "qdrant" {
		qi, err := NewQdrantIndex(ctx, cfg.QdrantDSN, cfg.QdrantCollection, cfg.EmbeddingDim, cfg.VectorMetric)
		if err != nil {
			return nil, err
		}
		index = qi
	}
	return NewPostgresStore(ctx, cfg.DatabaseURL, index, cfg.VectorMetric)
}
