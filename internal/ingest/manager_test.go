package ingest

import (
	"context"
	"testing"
	"time"

	"cortex/internal/llmadapter"
	"cortex/internal/memory"
	"cortex/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestIngest_EmptyTextProducesZeroCounts(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := New(st, llmadapter.NewDeterministicAnalyzer(), llmadapter.NewDeterministicEmbedder(8), 0.95)

	result, err := mgr.Ingest(context.Background(), Request{UserID: "u1", Text: "", Scope: memory.ScopeGlobal})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.CreatedCount != 0 || result.UpdatedCount != 0 || result.SkippedCount != 0 {
		t.Fatalf("expected all-zero counts for empty text, got %+v", result)
	}
}

func TestIngest_InvalidScopeRejected(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := New(st, llmadapter.NewDeterministicAnalyzer(), llmadapter.NewDeterministicEmbedder(8), 0.95)

	_, err := mgr.Ingest(context.Background(), Request{UserID: "u1", Text: "hello", Scope: memory.ScopeAgent, AgentID: ""})
	if err == nil {
		t.Fatalf("expected invalid_argument for agent scope with no agent_id")
	}
}

func TestIngest_IdenticalRestatementSkipped(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := &fakeClock{t: time.Now()}
	mgr := New(st, llmadapter.NewDeterministicAnalyzer(), llmadapter.NewDeterministicEmbedder(8), 0.95, WithClock(clock))
	ctx := context.Background()

	r1, err := mgr.Ingest(ctx, Request{UserID: "u1", Text: "I live in Tokyo.", Source: "chat", Scope: memory.ScopeGlobal})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if r1.CreatedCount != 1 {
		t.Fatalf("expected 1 created, got %+v", r1)
	}

	clock.advance(time.Hour)
	r2, err := mgr.Ingest(ctx, Request{UserID: "u1", Text: "I live in Tokyo.", Source: "chat", Scope: memory.ScopeGlobal})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if r2.CreatedCount != 0 || r2.UpdatedCount != 0 || r2.SkippedCount != 1 {
		t.Fatalf("expected exact-duplicate skip on identical restatement, got %+v", r2)
	}
}

func TestForceIngest_RejectsUnknownType(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := New(st, llmadapter.NewDeterministicAnalyzer(), llmadapter.NewDeterministicEmbedder(8), 0.95)

	_, err := mgr.ForceIngest(context.Background(), ForceRequest{
		UserID: "u1", Content: "x", MemoryType: "bogus", Scope: memory.ScopeGlobal,
	})
	if err == nil {
		t.Fatalf("expected invalid_argument for unknown memory_type")
	}
}

func TestForceIngest_CreatesCurrentMemory(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := New(st, llmadapter.NewDeterministicAnalyzer(), llmadapter.NewDeterministicEmbedder(8), 0.95)

	res, err := mgr.ForceIngest(context.Background(), ForceRequest{
		UserID: "u1", Content: "Manual note", MemoryType: memory.TypeFact, Scope: memory.ScopeGlobal,
	})
	if err != nil {
		t.Fatalf("force ingest: %v", err)
	}
	if res.CreatedCount != 1 || len(res.MemoryIDs) != 1 {
		t.Fatalf("expected 1 created memory, got %+v", res)
	}
	got, err := st.GetMemory(context.Background(), res.MemoryIDs[0])
	if err != nil || !got.Current() {
		t.Fatalf("expected the force-ingested memory to be current, err=%v got=%+v", err, got)
	}
}
