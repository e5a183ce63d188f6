package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"cortex/internal/memory"
)

func TestInMemoryStore_ExactDuplicateScopedToBucket(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	bucket := VectorBucket{UserID: "u1", Scope: memory.ScopeGlobal}

	m := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "I live in Tokyo.", ContentHash: "h1", ValidFrom: time.Now()}
	if err := s.InsertMemory(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup, err := s.FindExactDuplicate(ctx, bucket, "h1")
	if err != nil || dup == nil {
		t.Fatalf("expected duplicate found, got %v err=%v", dup, err)
	}

	otherBucket := VectorBucket{UserID: "u1", Scope: memory.ScopeAgent, AgentID: "finance"}
	dup2, err := s.FindExactDuplicate(ctx, otherBucket, "h1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if dup2 != nil {
		t.Fatalf("expected no duplicate across scope buckets")
	}
}

func TestInMemoryStore_SupersedeAndInsert_SingleCurrentPerLineage(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	tokyo := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "I live in Tokyo.", ContentHash: "tokyo", MemoryType: memory.TypeFact, ValidFrom: now}
	if err := s.InsertMemory(ctx, tokyo); err != nil {
		t.Fatalf("insert tokyo: %v", err)
	}

	osaka := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "I moved to Osaka.", ContentHash: "osaka", MemoryType: memory.TypeFact, ValidFrom: now.Add(time.Hour)}
	if err := s.SupersedeAndInsert(ctx, tokyo.ID, osaka); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	got, err := s.GetMemory(ctx, tokyo.ID)
	if err != nil {
		t.Fatalf("get tokyo: %v", err)
	}
	if got.Current() {
		t.Fatalf("expected tokyo to be retired")
	}
	if got.ValidTo == nil || !got.ValidTo.Equal(osaka.ValidFrom) {
		t.Fatalf("expected tokyo.valid_to == osaka.valid_from")
	}

	gotOsaka, err := s.GetMemory(ctx, osaka.ID)
	if err != nil {
		t.Fatalf("get osaka: %v", err)
	}
	if !gotOsaka.Current() {
		t.Fatalf("expected osaka to be current")
	}
	if gotOsaka.SupersedesID == nil || *gotOsaka.SupersedesID != tokyo.ID {
		t.Fatalf("expected osaka.supersedes_id == tokyo.id")
	}

	page, err := s.Query(ctx, QueryFilter{UserID: "u1", HasType: true, MemoryType: memory.TypeFact})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Memories) != 1 || page.Memories[0].ID != osaka.ID {
		t.Fatalf("expected exactly one current fact (osaka), got %+v", page.Memories)
	}
}

func TestInMemoryStore_SupersedeAlreadyRetiredConflicts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	old := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "a", ContentHash: "a", MemoryType: memory.TypeFact, ValidFrom: now}
	_ = s.InsertMemory(ctx, old)
	first := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "b", ContentHash: "b", MemoryType: memory.TypeFact, ValidFrom: now.Add(time.Minute)}
	if err := s.SupersedeAndInsert(ctx, old.ID, first); err != nil {
		t.Fatalf("first supersede: %v", err)
	}

	second := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "c", ContentHash: "c", MemoryType: memory.TypeFact, ValidFrom: now.Add(2 * time.Minute)}
	err := s.SupersedeAndInsert(ctx, old.ID, second)
	if err == nil {
		t.Fatalf("expected conflict superseding an already-retired memory")
	}
}

func TestInMemoryStore_VectorSearch_ScopedAndRanked(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	low := &memory.Memory{UserID: "u1", Scope: memory.ScopeAgent, AgentID: "finance", Content: "Risk tolerance: low.", ContentHash: "low", Embedding: []float32{1, 0, 0}, ValidFrom: time.Now()}
	high := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "Risk tolerance: high.", ContentHash: "high", Embedding: []float32{1, 0, 0}, ValidFrom: time.Now()}
	_ = s.InsertMemory(ctx, low)
	_ = s.InsertMemory(ctx, high)

	results, err := s.VectorSearch(ctx, VectorBucket{UserID: "u1", Scope: memory.ScopeAgent, AgentID: "finance"}, []float32{1, 0, 0}, 10, false)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != low.ID {
		t.Fatalf("expected only agent-scoped 'low' memory, got %+v", results)
	}
}

func TestInMemoryStore_JobIdempotency(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	job := memory.IngestJob{JobID: uuid.New(), IdempotencyKey: "abc", UserID: "u1", Scope: memory.ScopeGlobal, ReceivedAt: now, Status: memory.JobAccepted}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	found, err := s.FindJobByIdempotencyKey(ctx, "u1", "abc", 24*time.Hour, now.Add(time.Hour))
	if err != nil || found == nil {
		t.Fatalf("expected to find job by idempotency key, got %v err=%v", found, err)
	}
	if found.JobID != job.JobID {
		t.Fatalf("expected same job id back")
	}

	expired, err := s.FindJobByIdempotencyKey(ctx, "u1", "abc", 24*time.Hour, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if expired != nil {
		t.Fatalf("expected idempotency window to have elapsed")
	}
}

func TestInMemoryStore_SoftDeleteExcludesFromDefaultQuery(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	m := &memory.Memory{UserID: "u1", Scope: memory.ScopeGlobal, Content: "a", ContentHash: "a", ValidFrom: now}
	_ = s.InsertMemory(ctx, m)

	preDelete := now.Add(time.Minute)
	if err := s.DeleteMemory(ctx, m.ID, false, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	page, _ := s.Query(ctx, QueryFilter{UserID: "u1"})
	for _, got := range page.Memories {
		if got.ID == m.ID {
			t.Fatalf("expected soft-deleted memory excluded from default query")
		}
	}

	past, _ := s.Query(ctx, QueryFilter{UserID: "u1", ValidAt: &preDelete})
	found := false
	for _, got := range past.Memories {
		if got.ID == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected valid_at query before delete to still include the memory")
	}
}
