// Package store provides typed access to memories, their audit log, and
// ingest jobs, enforcing the uniqueness and temporal invariants of §3/§8.
// Two backends implement Store: a Postgres/pgvector-backed one for
// production, and an in-memory one for tests; an optional Qdrant
// VectorIndex substitutes for pgvector's literal-column ANN search when
// VECTOR_BACKEND=qdrant.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cortex/internal/memory"
)

// ScoredMemory pairs a Memory with a similarity score from a vector search.
type ScoredMemory struct {
	Memory     memory.Memory
	Similarity float64
}

// QueryFilter is the structured filter for GET /v1/memories (§4.5 Query).
type QueryFilter struct {
	UserID     string
	Scope      memory.Scope
	HasScope   bool
	AgentID    string
	HasAgentID bool
	MemoryType memory.Type
	HasType    bool
	Tags       []string
	Query      string // full-text over content
	ValidAt    *time.Time
	EventFrom  *time.Time
	EventTo    *time.Time
	Limit      int
	Cursor     string
}

// QueryPage is one page of a Query result.
type QueryPage struct {
	Memories   []memory.Memory
	NextCursor string
}

// MemoryPatch is a partial update applied by PATCH /v1/memories/{id}.
type MemoryPatch struct {
	Content         *string
	Tags            []string
	RelatedEntities map[string]string
	Importance      *int
	Confidence      *float64
}

// VectorBucket scopes a nearest-neighbor or exact-duplicate lookup to the
// (user_id, scope, agent_id) partition invariant 2 enforces uniqueness
// within.
type VectorBucket struct {
	UserID  string
	Scope   memory.Scope
	AgentID string
}

// Store is the full persistence contract the Memory Manager, Retrieval
// Engine, and Job Manager depend on.
type Store interface {
	// Memory Manager (§4.4).
	FindExactDuplicate(ctx context.Context, bucket VectorBucket, contentHash string) (*memory.Memory, error)
	FindNearestNeighbor(ctx context.Context, bucket VectorBucket, memType memory.Type, embedding []float32) (*ScoredMemory, error)
	InsertMemory(ctx context.Context, m *memory.Memory) error
	// SupersedeAndInsert retires oldID (sets valid_to = newMemory.ValidFrom)
	// and inserts newMemory with SupersedesID = oldID as one atomic
	// transaction, locking oldID via SELECT ... FOR UPDATE first (§5).
	SupersedeAndInsert(ctx context.Context, oldID uuid.UUID, newMemory *memory.Memory) error
	AppendAudit(ctx context.Context, rec memory.AuditRecord) error

	// Retrieval Engine (§4.5).
	Query(ctx context.Context, filter QueryFilter) (QueryPage, error)
	GetMemory(ctx context.Context, id uuid.UUID) (*memory.Memory, error)
	VectorSearch(ctx context.Context, bucket VectorBucket, embedding []float32, kFetch int, includeRetired bool) ([]ScoredMemory, error)
	TouchLastAccessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
	UpdateMemory(ctx context.Context, id uuid.UUID, patch MemoryPatch) (*memory.Memory, error)
	DeleteMemory(ctx context.Context, id uuid.UUID, hard bool, at time.Time) error
	SweepExpiredState(ctx context.Context, freshnessWindow time.Duration, at time.Time) (int, error)

	// Job Manager (§4.7).
	CreateJob(ctx context.Context, job memory.IngestJob) error
	FindJobByIdempotencyKey(ctx context.Context, userID, key string, retentionWindow time.Duration, now time.Time) (*memory.IngestJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*memory.IngestJob, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status memory.JobStatus, result *memory.IngestResult, errMsg string) error
	NextAcceptedJob(ctx context.Context, userID string) (*memory.IngestJob, error)

	// Admin export (§5 Supplemented Features).
	DumpMemories(ctx context.Context, userID string, fn func(memory.Memory) error) error

	Close()
}
