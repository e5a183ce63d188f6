package jobs

import (
	"context"
	"testing"
	"time"

	"cortex/internal/ingest"
	"cortex/internal/llmadapter"
	"cortex/internal/memory"
	"cortex/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	analyzer := llmadapter.NewDeterministicAnalyzer()
	embedder := llmadapter.NewDeterministicEmbedder(16)
	ingestMgr := ingest.New(st, analyzer, embedder, 0.95)
	mgr := New(st, ingestMgr, time.Hour)
	return mgr, st
}

func pollJob(t *testing.T, mgr *Manager, job memory.IngestJob) memory.IngestJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := mgr.Status(context.Background(), job.JobID)
		if err == nil && (got.Status == memory.JobDone || got.Status == memory.JobFailed) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job did not reach a terminal state in time")
	return memory.IngestJob{}
}

func TestAccept_RunsJobToCompletion(t *testing.T) {
	mgr, _ := newTestManager(t)

	job, err := mgr.Accept(context.Background(), AcceptRequest{
		UserID: "u1",
		Scope:  memory.ScopeGlobal,
		Ingest: ingest.Request{UserID: "u1", Text: "I live in Tokyo.", Scope: memory.ScopeGlobal},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if job.Status != memory.JobAccepted {
		t.Fatalf("expected accepted status immediately, got %s", job.Status)
	}

	final := pollJob(t, mgr, job)
	if final.Status != memory.JobDone {
		t.Fatalf("expected job to complete, got %s (%s)", final.Status, final.Error)
	}
	if final.Result == nil || final.Result.CreatedCount != 1 {
		t.Fatalf("expected one created memory, got %+v", final.Result)
	}
}

func TestAccept_InvalidScopeRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Accept(context.Background(), AcceptRequest{
		UserID: "u1",
		Scope:  memory.ScopeAgent,
		Ingest: ingest.Request{UserID: "u1", Text: "x", Scope: memory.ScopeAgent},
	})
	if err == nil {
		t.Fatalf("expected invalid_argument for agent scope with empty agent_id")
	}
}

func TestAccept_IdempotentReplayReturnsSameJob(t *testing.T) {
	mgr, _ := newTestManager(t)
	req := AcceptRequest{
		UserID:         "u1",
		Scope:          memory.ScopeGlobal,
		IdempotencyKey: "req-1",
		Ingest:         ingest.Request{UserID: "u1", Text: "I live in Tokyo.", Scope: memory.ScopeGlobal},
	}

	first, err := mgr.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	pollJob(t, mgr, first)

	second, err := mgr.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if second.JobID != first.JobID {
		t.Fatalf("expected idempotent replay to return the same job_id, got %s vs %s", second.JobID, first.JobID)
	}
}

func TestAccept_SameUserJobsBothComplete(t *testing.T) {
	mgr, _ := newTestManager(t)

	job1, err := mgr.Accept(context.Background(), AcceptRequest{
		UserID: "u1", Scope: memory.ScopeGlobal,
		Ingest: ingest.Request{UserID: "u1", Text: "I live in Tokyo.", Scope: memory.ScopeGlobal},
	})
	if err != nil {
		t.Fatalf("accept 1: %v", err)
	}
	job2, err := mgr.Accept(context.Background(), AcceptRequest{
		UserID: "u1", Scope: memory.ScopeGlobal,
		Ingest: ingest.Request{UserID: "u1", Text: "I work in finance.", Scope: memory.ScopeGlobal},
	})
	if err != nil {
		t.Fatalf("accept 2: %v", err)
	}

	final1 := pollJob(t, mgr, job1)
	final2 := pollJob(t, mgr, job2)
	if final1.Status != memory.JobDone || final2.Status != memory.JobDone {
		t.Fatalf("expected both jobs to complete, got %s and %s", final1.Status, final2.Status)
	}
}
