package store

import (
	"context"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"

	"cortex/internal/apierr"
	"cortex/internal/memory"
)

// VectorIndex is the alternate ANN backend selectable via
// VECTOR_BACKEND=qdrant, mirroring the teacher's pluggable VectorStore:
// PostgresStore delegates FindNearestNeighbor/VectorSearch to it instead of
// pgvector's `<=>` operator when configured.
type VectorIndex interface {
	Upsert(ctx context.Context, bucket VectorBucket, m memory.Memory) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, bucket VectorBucket, embedding []float32, k int) ([]ScoredMemory, error)
	Close() error
}

// QdrantIndex stores only embeddings + the scope bucket as point payload;
// the canonical Memory row still lives in Postgres. Points are keyed by
// the Memory's UUID, matching Qdrant's native point-id support.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex connects to a Qdrant instance and ensures the target
// collection exists with the given dimension/metric.
func NewQdrantIndex(ctx context.Context, dsn, collection string, dimension int, metric string) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: dsn,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "init qdrant client", err)
	}
	idx := &QdrantIndex{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(ctx, metric); err != nil {
		return nil, err
	}
	return idx, nil
}

func qdrantDistance(metric string) qdrant.Distance {
	switch metric {
	case "l2":
		return qdrant.Distance_Euclid
	case "ip":
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "check qdrant collection", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrantDistance(metric),
		}),
	})
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "create qdrant collection", err)
	}
	return nil
}

func bucketPayload(bucket VectorBucket) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"user_id": qdrant.NewValueString(bucket.UserID),
		"scope":   qdrant.NewValueString(string(bucket.Scope)),
		"agent_id": qdrant.NewValueString(bucket.AgentID),
	}
}

func (q *QdrantIndex) Upsert(ctx context.Context, bucket VectorBucket, m memory.Memory) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(m.ID.String()),
				Vectors: qdrant.NewVectors(toFloat32Slice(m.Embedding)...),
				Payload: bucketPayload(bucket),
			},
		},
	})
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "qdrant upsert", err)
	}
	return nil
}

func toFloat32Slice(v []float32) []float32 { return v }

func (q *QdrantIndex) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{qdrant.NewIDUUID(id.String())}),
	})
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "qdrant delete", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, bucket VectorBucket, embedding []float32, k int) ([]ScoredMemory, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("user_id", bucket.UserID),
			qdrant.NewMatch("scope", string(bucket.Scope)),
			qdrant.NewMatch("agent_id", bucket.AgentID),
		},
	}
	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         filter,
		Limit:          &limit,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "qdrant search", err)
	}

	out := make([]ScoredMemory, 0, len(points))
	for _, p := range points {
		id, err := uuid.Parse(p.Id.GetUuid())
		if err != nil {
			continue
		}
		out = append(out, ScoredMemory{
			Memory:     memory.Memory{ID: id},
			Similarity: float64(p.Score),
		})
	}
	return out, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
