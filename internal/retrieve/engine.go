// Package retrieve implements the Retrieval Engine: hybrid candidate fetch,
// multi-factor scoring, temporal cutoff, and scope-prioritized merge
// (spec.md §4.5), grounded on the teacher's errgroup-based parallel fan-out
// patterns.
package retrieve

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cortex/internal/apierr"
	"cortex/internal/llmadapter"
	"cortex/internal/memory"
	"cortex/internal/observability"
	"cortex/internal/store"
	"cortex/internal/synth"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// QueryRequest is the input to the structured Query operation.
type QueryRequest struct {
	store.QueryFilter
}

// ContextRequest is the input to the RAG Context operation (§4.5).
type ContextRequest struct {
	UserID         string
	Query          string
	AppContext     string
	Scope          memory.Scope
	AgentID        string
	K              int
	IncludeGlobal  bool
	ReturnEvidence bool
}

// ContextResult is the Context operation's response.
type ContextResult struct {
	Memories []memory.Memory
	Synth    *synth.Result
}

// Engine runs both Retrieval Engine operations.
type Engine struct {
	store    store.Store
	embedder llmadapter.Embedder
	synth    *synth.Synthesizer

	contextBudgetChars int
	stateFreshness     time.Duration
	stateHalfLifeDays  float64

	clock   Clock
	metrics observability.Metrics
}

// Option configures an Engine during construction.
type Option func(*Engine)

func WithClock(c Clock) Option                    { return func(e *Engine) { e.clock = c } }
func WithMetrics(m observability.Metrics) Option  { return func(e *Engine) { e.metrics = m } }

// New constructs an Engine.
func New(st store.Store, embedder llmadapter.Embedder, synthesizer *synth.Synthesizer, contextBudgetChars int, stateFreshness time.Duration, stateHalfLifeDays float64, opts ...Option) *Engine {
	e := &Engine{
		store:              st,
		embedder:           embedder,
		synth:              synthesizer,
		contextBudgetChars: contextBudgetChars,
		stateFreshness:     stateFreshness,
		stateHalfLifeDays:  stateHalfLifeDays,
		clock:              SystemClock{},
		metrics:            observability.NoopMetrics{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Query runs the structured filter operation (§4.5 Query).
func (e *Engine) Query(ctx context.Context, req QueryRequest) (store.QueryPage, error) {
	return e.store.Query(ctx, req.QueryFilter)
}

// Context runs the full RAG retrieval pipeline (§4.5 Context, steps 1-8).
func (e *Engine) Context(ctx context.Context, req ContextRequest) (ContextResult, error) {
	if !memory.ValidateScope(req.Scope, req.AgentID) {
		return ContextResult{}, apierr.New(apierr.InvalidArgument, "scope and agent_id are inconsistent")
	}

	embedQuery := req.Query
	if req.AppContext != "" {
		embedQuery = req.Query + "\n" + req.AppContext
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, []string{embedQuery})
	if err != nil {
		return ContextResult{}, apierr.Wrap(apierr.Unavailable, "embedder call failed", err)
	}
	queryVec := embeddings[0]

	k := req.K
	if k <= 0 {
		k = 10
	}
	kFetch := k * 3
	if kFetch < 30 {
		kFetch = 30
	}

	candidates, err := e.fetchCandidates(ctx, req, queryVec, kFetch)
	if err != nil {
		return ContextResult{}, err
	}

	now := e.clock.Now()
	survivors := e.applyTemporalFilter(candidates, now)
	scored := e.score(survivors, now)
	merged := e.mergeAndRank(scored)
	final := e.cutoff(merged, k)

	ids := make([]uuid.UUID, 0, len(final))
	out := make([]memory.Memory, 0, len(final))
	for _, c := range final {
		out = append(out, c.m)
		ids = append(ids, c.m.ID)
	}
	if err := e.store.TouchLastAccessed(ctx, ids, now); err != nil {
		e.metrics.IncCounter("context_touch_failures_total", nil)
	}

	result := ContextResult{Memories: out}
	if e.synth != nil {
		synthResult, serr := e.synth.Synthesize(ctx, toScoredPairs(final))
		if serr == nil {
			result.Synth = &synthResult
		}
	}
	return result, nil
}

// fetchCandidates runs the agent-scoped and (optionally) global-scoped
// vector searches in parallel via errgroup, per §4.5 step 2.
func (e *Engine) fetchCandidates(ctx context.Context, req ContextRequest, queryVec []float32, kFetch int) ([]store.ScoredMemory, error) {
	primaryBucket := store.VectorBucket{UserID: req.UserID, Scope: req.Scope, AgentID: req.AgentID}

	if req.Scope != memory.ScopeAgent || !req.IncludeGlobal {
		return e.store.VectorSearch(ctx, primaryBucket, queryVec, kFetch, false)
	}

	var agentResults, globalResults []store.ScoredMemory
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.store.VectorSearch(gctx, primaryBucket, queryVec, kFetch, false)
		agentResults = res
		return err
	})
	g.Go(func() error {
		globalBucket := store.VectorBucket{UserID: req.UserID, Scope: memory.ScopeGlobal}
		res, err := e.store.VectorSearch(gctx, globalBucket, queryVec, kFetch, false)
		globalResults = res
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "candidate fetch failed", err)
	}
	return append(agentResults, globalResults...), nil
}

// applyTemporalFilter drops retired memories and freshness-expired state
// (§4.5 step 3). Expired state is left out of the candidates whether or not a
// fresher state exists in its lineage; the stored row is not mutated.
func (e *Engine) applyTemporalFilter(candidates []store.ScoredMemory, now time.Time) []store.ScoredMemory {
	out := make([]store.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if !c.Memory.Current() {
			continue
		}
		if c.Memory.MemoryType == memory.TypeState && now.Sub(c.Memory.UpdatedAt) > e.stateFreshness {
			continue
		}
		out = append(out, c)
	}
	return out
}

type scoredCandidate struct {
	m     memory.Memory
	score float64
	sim   float64
}

// score implements §4.5 step 4's formula exactly.
func (e *Engine) score(candidates []store.ScoredMemory, now time.Time) []scoredCandidate {
	out := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		sim := c.Similarity
		if sim < 0 {
			sim = 0
		}
		wImportance := 0.6 + 0.1*float64(c.Memory.Importance)
		wConfidence := 0.5 + 0.5*c.Memory.Confidence
		decay := e.decay(c.Memory, now)
		score := sim * wImportance * wConfidence * decay
		out = append(out, scoredCandidate{m: c.Memory, score: score, sim: sim})
	}
	return out
}

func (e *Engine) decay(m memory.Memory, now time.Time) float64 {
	switch m.MemoryType {
	case memory.TypeFact, memory.TypePolicy:
		return 1.0
	default:
		halfLife := e.stateHalfLifeDays
		if halfLife <= 0 {
			halfLife = 14
		}
		ageDays := now.Sub(m.EventOrUpdatedAt()).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		return math.Exp(-ageDays / halfLife)
	}
}

// mergeAndRank implements §4.5 step 5: agent-scoped beats global at equal
// score; ties within a scope break by importance, then newer updated_at,
// then lexicographic id.
func (e *Engine) mergeAndRank(candidates []scoredCandidate) []scoredCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		aAgent := a.m.Scope == memory.ScopeAgent
		bAgent := b.m.Scope == memory.ScopeAgent
		if aAgent != bAgent {
			return aAgent
		}
		if a.m.Importance != b.m.Importance {
			return a.m.Importance > b.m.Importance
		}
		if !a.m.UpdatedAt.Equal(b.m.UpdatedAt) {
			return a.m.UpdatedAt.After(b.m.UpdatedAt)
		}
		return a.m.ID.String() < b.m.ID.String()
	})
	return candidates
}

// cutoff implements §4.5 step 6: accumulate until content length exceeds
// the budget, capped at k memories.
func (e *Engine) cutoff(candidates []scoredCandidate, k int) []scoredCandidate {
	var out []scoredCandidate
	total := 0
	for _, c := range candidates {
		if len(out) >= k {
			break
		}
		out = append(out, c)
		total += len(c.m.Content)
		if total > e.contextBudgetChars {
			break
		}
	}
	return out
}

func toScoredPairs(candidates []scoredCandidate) []synth.Evidence {
	out := make([]synth.Evidence, len(candidates))
	for i, c := range candidates {
		out[i] = synth.Evidence{Memory: c.m, Score: c.score}
	}
	return out
}
