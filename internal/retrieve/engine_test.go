package retrieve

import (
	"context"
	"testing"
	"time"

	"cortex/internal/llmadapter"
	"cortex/internal/memory"
	"cortex/internal/store"
	"cortex/internal/synth"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

func mustInsert(t *testing.T, st *store.InMemoryStore, m *memory.Memory) {
	t.Helper()
	if err := st.InsertMemory(context.Background(), m); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestContext_ScopeIsolation(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()

	low := &memory.Memory{UserID: "u1", Scope: memory.ScopeAgent, AgentID: "finance", Content: "Risk tolerance: low.",
		ContentHash: "low", Embedding: []float32{1, 0, 0}, MemoryType: memory.TypeFact, Importance: 3, Confidence: 0.7, ValidFrom: now, UpdatedAt: now}
	high := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "Risk tolerance: high.",
		ContentHash: "high", Embedding: []float32{1, 0, 0}, MemoryType: memory.TypeFact, Importance: 3, Confidence: 0.7, ValidFrom: now, UpdatedAt: now}
	mustInsert(t, st, low)
	mustInsert(t, st, high)

	embedder := llmadapter.NewDeterministicEmbedder(3)
	synthesizer := synth.New(llmadapter.NewDeterministicAnalyzer())
	engine := New(st, embedder, synthesizer, 8000, 24*time.Hour, 14, WithClock(fakeClock{t: now}))

	// include_global:false must return only the agent-scoped memory.
	res, err := engine.Context(context.Background(), ContextRequest{
		UserID: "u1", Query: "risk", Scope: memory.ScopeAgent, AgentID: "finance", K: 5, IncludeGlobal: false,
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if len(res.Memories) != 1 || res.Memories[0].ID != low.ID {
		t.Fatalf("expected only agent-scoped memory, got %+v", res.Memories)
	}

	// include_global:true must return both, with "low" ranked first via the
	// agent-over-global tie-break at equal score.
	res2, err := engine.Context(context.Background(), ContextRequest{
		UserID: "u1", Query: "risk", Scope: memory.ScopeAgent, AgentID: "finance", K: 5, IncludeGlobal: true,
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if len(res2.Memories) != 2 {
		t.Fatalf("expected both memories with include_global, got %+v", res2.Memories)
	}
	if res2.Memories[0].ID != low.ID {
		t.Fatalf("expected agent-scoped memory to rank first on tie, got %+v", res2.Memories[0])
	}
}

func TestContext_StateFreshnessCutoff(t *testing.T) {
	st := store.NewInMemoryStore()
	t0 := time.Now()

	exhausted := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "I'm exhausted.",
		ContentHash: "exhausted", Embedding: []float32{1, 0, 0}, MemoryType: memory.TypeState,
		Importance: 3, Confidence: 0.7, ValidFrom: t0, UpdatedAt: t0}
	mustInsert(t, st, exhausted)

	embedder := llmadapter.NewDeterministicEmbedder(3)
	synthesizer := synth.New(llmadapter.NewDeterministicAnalyzer())
	clock := fakeClock{t: t0.Add(25 * time.Hour)}
	engine := New(st, embedder, synthesizer, 8000, 24*time.Hour, 14, WithClock(clock))

	res, err := engine.Context(context.Background(), ContextRequest{
		UserID: "u1", Query: "plan my week", Scope: memory.ScopeGlobal, K: 5,
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	for _, m := range res.Memories {
		if m.ID == exhausted.ID {
			t.Fatalf("expected stale state memory excluded by freshness window")
		}
	}
}

func TestContext_RejectsInconsistentScope(t *testing.T) {
	st := store.NewInMemoryStore()
	embedder := llmadapter.NewDeterministicEmbedder(3)
	synthesizer := synth.New(llmadapter.NewDeterministicAnalyzer())
	engine := New(st, embedder, synthesizer, 8000, 24*time.Hour, 14)

	_, err := engine.Context(context.Background(), ContextRequest{UserID: "u1", Query: "x", Scope: memory.ScopeAgent})
	if err == nil {
		t.Fatalf("expected invalid_argument for agent scope with empty agent_id")
	}
}
