// Package ingest implements the Memory Manager: the analyze -> normalize ->
// embed -> dedup -> upsert pipeline described in spec.md §4.4, grounded on
// the teacher's rag/service.Service (functional-option construction,
// per-stage metrics timing, injected Clock/Logger/Metrics).
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cortex/internal/apierr"
	"cortex/internal/llmadapter"
	"cortex/internal/memory"
	"cortex/internal/normalize"
	"cortex/internal/observability"
	"cortex/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Request is one ingestion call's input (spec.md §4.4).
type Request struct {
	UserID    string
	Text      string
	Source    string
	Scope     memory.Scope
	AgentID   string
	EventTime *time.Time
	Metadata  map[string]any
}

// ForceRequest bypasses the Analyzer/Normalizer-driven type inference
// (§4.4.2): the caller supplies content, type, and tags directly.
type ForceRequest struct {
	UserID             string
	Content            string
	MemoryType         memory.Type
	Tags               []string
	RelatedEntities    map[string]string
	Importance         int
	Confidence         float64
	Source             string
	Scope              memory.Scope
	AgentID            string
	EventTime          *time.Time
	AllowSemanticUpsert bool
}

// Manager runs the ingestion pipeline end to end.
type Manager struct {
	store    store.Store
	analyzer llmadapter.Analyzer
	embedder llmadapter.Embedder

	upsertThreshold float64
	normOpts        normalize.Options

	clock   Clock
	metrics observability.Metrics
}

// Option configures a Manager during construction.
type Option func(*Manager)

func WithClock(c Clock) Option                          { return func(m *Manager) { m.clock = c } }
func WithMetrics(mm observability.Metrics) Option       { return func(m *Manager) { m.metrics = mm } }
func WithNormalizeOptions(o normalize.Options) Option   { return func(m *Manager) { m.normOpts = o } }

// New constructs a Manager wired to its Store, Analyzer, and Embedder
// dependencies, mirroring the teacher's service.New(mgr, opts...) shape.
func New(st store.Store, analyzer llmadapter.Analyzer, embedder llmadapter.Embedder, upsertThreshold float64, opts ...Option) *Manager {
	m := &Manager{
		store:           st,
		analyzer:        analyzer,
		embedder:        embedder,
		upsertThreshold: upsertThreshold,
		clock:           SystemClock{},
		metrics:         observability.NoopMetrics{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Ingest runs the full pipeline for one request (§4.4 steps 1-3).
func (m *Manager) Ingest(ctx context.Context, req Request) (memory.IngestResult, error) {
	start := m.clock.Now()
	m.metrics.IncCounter("ingest_requests_total", nil)

	if !memory.ValidateScope(req.Scope, req.AgentID) {
		return memory.IngestResult{}, apierr.New(apierr.InvalidArgument, "scope and agent_id are inconsistent")
	}

	t0 := m.clock.Now()
	analysis, err := m.analyzer.Analyze(ctx, req.Text, llmadapter.Hints{EventTime: req.EventTime, Metadata: req.Metadata})
	m.metrics.ObserveHistogram("ingest_stage_ms", ms(m.clock.Now().Sub(t0)), map[string]string{"stage": "analyze"})
	if err != nil {
		return memory.IngestResult{}, apierr.Wrap(apierr.Unavailable, "analyzer call failed", err)
	}
	if len(analysis.Chunks) == 0 {
		return memory.IngestResult{Warnings: analysis.Warnings}, nil
	}

	result := memory.IngestResult{Warnings: append([]string(nil), analysis.Warnings...)}
	for _, chunk := range analysis.Chunks {
		outcome, err := m.ingestChunk(ctx, req, chunk)
		if err != nil {
			if apierr.CodeOf(err) == apierr.Unavailable {
				// Store failures must not leave a job claiming partial
				// success per §7: the caller (Job Manager) marks the whole
				// job failed on this error class.
				return result, err
			}
			result.Warnings = append(result.Warnings, err.Error())
			continue
		}
		switch outcome.kind {
		case outcomeCreated:
			result.CreatedCount++
		case outcomeUpdated:
			result.UpdatedCount++
		case outcomeSkipped:
			result.SkippedCount++
		}
		if outcome.id != uuid.Nil {
			result.MemoryIDs = append(result.MemoryIDs, outcome.id)
		}
	}

	m.metrics.ObserveHistogram("ingest_total_ms", ms(m.clock.Now().Sub(start)), nil)
	return result, nil
}

// ForceIngest implements §4.4.2: content/type/tags are caller-supplied, but
// normalization, hashing, embedding, and exact-duplicate suppression still
// apply. Semantic near-duplicate upsert only runs when the caller opts in.
func (m *Manager) ForceIngest(ctx context.Context, req ForceRequest) (memory.IngestResult, error) {
	if !memory.ValidateScope(req.Scope, req.AgentID) {
		return memory.IngestResult{}, apierr.New(apierr.InvalidArgument, "scope and agent_id are inconsistent")
	}
	if !req.MemoryType.Valid() {
		return memory.IngestResult{}, apierr.New(apierr.InvalidArgument, "unknown memory_type")
	}

	chunk := llmadapter.Chunk{
		Content:         req.Content,
		MemoryType:      req.MemoryType,
		Tags:            req.Tags,
		RelatedEntities: req.RelatedEntities,
		Importance:      req.Importance,
		Confidence:      req.Confidence,
		EventTime:       req.EventTime,
	}
	if chunk.Importance == 0 {
		chunk.Importance = 3
	}
	if chunk.Confidence == 0 {
		chunk.Confidence = 0.7
	}

	ingestReq := Request{UserID: req.UserID, Source: req.Source, Scope: req.Scope, AgentID: req.AgentID}
	outcome, err := m.ingestChunkWithOptions(ctx, ingestReq, chunk, req.AllowSemanticUpsert)
	if err != nil {
		return memory.IngestResult{}, err
	}

	res := memory.IngestResult{}
	switch outcome.kind {
	case outcomeCreated:
		res.CreatedCount = 1
	case outcomeUpdated:
		res.UpdatedCount = 1
	case outcomeSkipped:
		res.SkippedCount = 1
	}
	if outcome.id != uuid.Nil {
		res.MemoryIDs = []uuid.UUID{outcome.id}
	}
	return res, nil
}

type outcomeKind int

const (
	outcomeCreated outcomeKind = iota
	outcomeUpdated
	outcomeSkipped
)

type chunkOutcome struct {
	kind outcomeKind
	id   uuid.UUID
}

func (m *Manager) ingestChunk(ctx context.Context, req Request, chunk llmadapter.Chunk) (chunkOutcome, error) {
	return m.ingestChunkWithOptions(ctx, req, chunk, true)
}

// ingestChunkWithOptions is §4.4 steps 3's body, reused by both the analyzed
// pipeline and force ingest; allowSemanticUpsert disables the
// near-duplicate-supersession step for force ingest unless opted in.
func (m *Manager) ingestChunkWithOptions(ctx context.Context, req Request, chunk llmadapter.Chunk, allowSemanticUpsert bool) (chunkOutcome, error) {
	normOpts := m.normOpts
	normOpts.ReferenceTime = m.clock.Now()
	norm := normalize.Normalize(chunk.Content, normOpts)

	bucket := store.VectorBucket{UserID: req.UserID, Scope: req.Scope, AgentID: req.AgentID}

	embeddings, err := m.embedder.EmbedBatch(ctx, []string{norm.Content})
	if err != nil {
		return chunkOutcome{}, apierr.Wrap(apierr.Unavailable, "embedder call failed", err)
	}
	embedding := embeddings[0]

	if dup, err := m.store.FindExactDuplicate(ctx, bucket, norm.ContentHash); err != nil {
		return chunkOutcome{}, apierr.Wrap(apierr.Unavailable, "exact duplicate lookup failed", err)
	} else if dup != nil {
		return chunkOutcome{kind: outcomeSkipped, id: dup.ID}, nil
	}

	now := m.clock.Now()
	candidate := &memory.Memory{
		UserID:          req.UserID,
		Scope:           req.Scope,
		AgentID:         req.AgentID,
		Content:         norm.Content,
		ContentHash:     norm.ContentHash,
		Embedding:       embedding,
		MemoryType:      chunk.MemoryType,
		Tags:            chunk.Tags,
		RelatedEntities: chunk.RelatedEntities,
		Importance:      chunk.Importance,
		Confidence:      chunk.Confidence,
		Source:          req.Source,
		EventTime:       chunk.EventTime,
		ValidFrom:       now,
	}

	strategy := memory.StrategyFor(chunk.MemoryType)
	if strategy.Supersedes && allowSemanticUpsert {
		nearest, err := m.store.FindNearestNeighbor(ctx, bucket, chunk.MemoryType, embedding)
		if err != nil {
			return chunkOutcome{}, apierr.Wrap(apierr.Unavailable, "nearest neighbor lookup failed", err)
		}
		if nearest != nil && nearest.Similarity >= m.upsertThreshold {
			if err := m.store.SupersedeAndInsert(ctx, nearest.Memory.ID, candidate); err != nil {
				return chunkOutcome{}, err
			}
			m.audit(ctx, nearest.Memory.ID, memory.ActionRetire, nil)
			m.audit(ctx, candidate.ID, memory.ActionUpdate, map[string]any{"supersedes": nearest.Memory.ID})
			return chunkOutcome{kind: outcomeUpdated, id: candidate.ID}, nil
		}
	}

	if err := m.store.InsertMemory(ctx, candidate); err != nil {
		return chunkOutcome{}, apierr.Wrap(apierr.Unavailable, "insert memory failed", err)
	}
	m.audit(ctx, candidate.ID, memory.ActionCreate, map[string]any{"content": candidate.Content})
	return chunkOutcome{kind: outcomeCreated, id: candidate.ID}, nil
}

func (m *Manager) audit(ctx context.Context, memoryID uuid.UUID, action memory.AuditAction, diff map[string]any) {
	rec := memory.AuditRecord{MemoryID: memoryID, Action: action, ActorType: memory.ActorSystem, Diff: diff, CreatedAt: m.clock.Now()}
	if err := m.store.AppendAudit(ctx, rec); err != nil {
		m.metrics.IncCounter("ingest_audit_write_failures_total", nil)
	}
}
