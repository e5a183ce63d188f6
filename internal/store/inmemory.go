package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cortex/internal/apierr"
	"cortex/internal/memory"
)

// InMemoryStore is a Store implementation backed by plain Go maps, guarded
// by a single mutex. It exists for tests and as a dependency-free fallback.
// SupersedeAndInsert applies the same predecessor checks the Postgres backend
// makes under SELECT ... FOR UPDATE; InsertMemory does not check
// content_hash uniqueness.
type InMemoryStore struct {
	mu sync.Mutex

	memories map[uuid.UUID]memory.Memory
	audits   []memory.AuditRecord
	jobs     map[uuid.UUID]memory.IngestJob
	jobOrder map[string][]uuid.UUID // userID -> job ids in FIFO accept order
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories: make(map[uuid.UUID]memory.Memory),
		jobs:     make(map[uuid.UUID]memory.IngestJob),
		jobOrder: make(map[string][]uuid.UUID),
	}
}

func (s *InMemoryStore) Close() {}

func bucketKey(b VectorBucket) string {
	if b.Scope == memory.ScopeAgent {
		return b.UserID + "\x00" + string(b.Scope) + "\x00" + b.AgentID
	}
	return b.UserID + "\x00" + string(b.Scope) + "\x00"
}

func (s *InMemoryStore) FindExactDuplicate(_ context.Context, bucket VectorBucket, contentHash string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucketKey(bucket)
	for _, m := range s.memories {
		if !m.Current() {
			continue
		}
		if bucketKey(VectorBucket{UserID: m.UserID, Scope: m.Scope, AgentID: m.AgentID}) != key {
			continue
		}
		if m.ContentHash == contentHash {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	return sim
}

func (s *InMemoryStore) FindNearestNeighbor(_ context.Context, bucket VectorBucket, memType memory.Type, embedding []float32) (*ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucketKey(bucket)
	var best *ScoredMemory
	for _, m := range s.memories {
		if !m.Current() || m.MemoryType != memType {
			continue
		}
		if bucketKey(VectorBucket{UserID: m.UserID, Scope: m.Scope, AgentID: m.AgentID}) != key {
			continue
		}
		sim := cosineSimilarity(m.Embedding, embedding)
		if best == nil || sim > best.Similarity {
			cp := m
			best = &ScoredMemory{Memory: cp, Similarity: sim}
		}
	}
	return best, nil
}

func (s *InMemoryStore) InsertMemory(_ context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.memories[m.ID] = *m
	return nil
}

// SupersedeAndInsert performs the transactional retire-plus-insert pair
// §4.4.1/§5 require. The in-memory mutex stands in for SELECT ... FOR
// UPDATE row locking plus a single SQL transaction.
func (s *InMemoryStore) SupersedeAndInsert(_ context.Context, oldID uuid.UUID, newMemory *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.memories[oldID]
	if !ok {
		return apierr.New(apierr.Conflict, "supersession target no longer exists")
	}
	if !old.Current() {
		return apierr.New(apierr.Conflict, "supersession target already retired")
	}

	validTo := newMemory.ValidFrom
	old.ValidTo = &validTo
	old.UpdatedAt = validTo
	s.memories[oldID] = old

	if newMemory.ID == uuid.Nil {
		newMemory.ID = uuid.New()
	}
	newMemory.SupersedesID = &oldID
	if newMemory.CreatedAt.IsZero() {
		newMemory.CreatedAt = validTo
	}
	newMemory.UpdatedAt = validTo
	s.memories[newMemory.ID] = *newMemory
	return nil
}

func (s *InMemoryStore) AppendAudit(_ context.Context, rec memory.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.audits = append(s.audits, rec)
	return nil
}

func (s *InMemoryStore) GetMemory(_ context.Context, id uuid.UUID) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "memory not found")
	}
	cp := m
	return &cp, nil
}

func matchesFilter(m memory.Memory, f QueryFilter) bool {
	if m.UserID != f.UserID {
		return false
	}
	if f.HasScope && m.Scope != f.Scope {
		return false
	}
	if f.HasAgentID && m.AgentID != f.AgentID {
		return false
	}
	if f.HasType && m.MemoryType != f.MemoryType {
		return false
	}
	if f.ValidAt != nil {
		t := *f.ValidAt
		if m.ValidFrom.After(t) {
			return false
		}
		if m.ValidTo != nil && !m.ValidTo.After(t) {
			return false
		}
	} else if !m.Current() {
		return false
	}
	if len(f.Tags) > 0 {
		set := make(map[string]bool, len(m.Tags))
		for _, t := range m.Tags {
			set[t] = true
		}
		for _, want := range f.Tags {
			if !set[want] {
				return false
			}
		}
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(f.Query)) {
		return false
	}
	if f.EventFrom != nil && (m.EventTime == nil || m.EventTime.Before(*f.EventFrom)) {
		return false
	}
	if f.EventTo != nil && (m.EventTime == nil || m.EventTime.After(*f.EventTo)) {
		return false
	}
	return true
}

// Query implements the stable (created_at DESC, id) cursor pagination
// §4.5 specifies. The cursor is the opaque string
// "<created_at as RFC3339Nano>_<id>".
func (s *InMemoryStore) Query(_ context.Context, f QueryFilter) (QueryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []memory.Memory
	for _, m := range s.memories {
		if matchesFilter(m, f) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	start := 0
	if f.Cursor != "" {
		for i, m := range matched {
			if cursorFor(m) == f.Cursor {
				start = i + 1
				break
			}
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	if start > len(matched) {
		start = len(matched)
	}
	page := matched[start:end]
	next := ""
	if end < len(matched) && len(page) > 0 {
		next = cursorFor(page[len(page)-1])
	}
	out := make([]memory.Memory, len(page))
	copy(out, page)
	return QueryPage{Memories: out, NextCursor: next}, nil
}

func cursorFor(m memory.Memory) string {
	return m.CreatedAt.Format(time.RFC3339Nano) + "_" + m.ID.String()
}

// VectorSearch returns up to kFetch candidates ranked by cosine similarity
// within the bucket (and, per §4.5 step 2, the caller issues a second call
// scoped to global to merge in when include_global is requested).
func (s *InMemoryStore) VectorSearch(_ context.Context, bucket VectorBucket, embedding []float32, kFetch int, includeRetired bool) ([]ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(bucket)
	var candidates []ScoredMemory
	for _, m := range s.memories {
		if bucketKey(VectorBucket{UserID: m.UserID, Scope: m.Scope, AgentID: m.AgentID}) != key {
			continue
		}
		if !includeRetired && !m.Current() {
			continue
		}
		if len(m.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, ScoredMemory{Memory: m, Similarity: cosineSimilarity(m.Embedding, embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	if kFetch > 0 && len(candidates) > kFetch {
		candidates = candidates[:kFetch]
	}
	return candidates, nil
}

func (s *InMemoryStore) TouchLastAccessed(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			t := at
			m.LastAccessed = &t
			s.memories[id] = m
		}
	}
	return nil
}

func (s *InMemoryStore) UpdateMemory(_ context.Context, id uuid.UUID, patch MemoryPatch) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "memory not found")
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Tags != nil {
		m.Tags = patch.Tags
	}
	if patch.RelatedEntities != nil {
		m.RelatedEntities = patch.RelatedEntities
	}
	if patch.Importance != nil {
		m.Importance = *patch.Importance
	}
	if patch.Confidence != nil {
		m.Confidence = *patch.Confidence
	}
	m.UpdatedAt = time.Now()
	s.memories[id] = m
	cp := m
	return &cp, nil
}

func (s *InMemoryStore) DeleteMemory(_ context.Context, id uuid.UUID, hard bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return apierr.New(apierr.NotFound, "memory not found")
	}
	if hard {
		delete(s.memories, id)
		return nil
	}
	t := at
	m.ValidTo = &t
	m.UpdatedAt = at
	s.memories[id] = m
	return nil
}

// SweepExpiredState is the optional extension hook named in spec.md §9; it
// is never invoked automatically. It materializes valid_to on state
// memories whose freshness window has elapsed and which are not already
// superseded.
func (s *InMemoryStore) SweepExpiredState(_ context.Context, freshnessWindow time.Duration, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.memories {
		if m.MemoryType != memory.TypeState || !m.Current() {
			continue
		}
		if at.Sub(m.UpdatedAt) > freshnessWindow {
			t := at
			m.ValidTo = &t
			m.UpdatedAt = at
			s.memories[id] = m
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CreateJob(_ context.Context, job memory.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	s.jobOrder[job.UserID] = append(s.jobOrder[job.UserID], job.JobID)
	return nil
}

func (s *InMemoryStore) FindJobByIdempotencyKey(_ context.Context, userID, key string, retentionWindow time.Duration, now time.Time) (*memory.IngestJob, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.jobOrder[userID] {
		j := s.jobs[id]
		if j.IdempotencyKey == key && now.Sub(j.ReceivedAt) <= retentionWindow {
			cp := j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetJob(_ context.Context, jobID uuid.UUID) (*memory.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "job not found")
	}
	cp := j
	return &cp, nil
}

func (s *InMemoryStore) UpdateJobStatus(_ context.Context, jobID uuid.UUID, status memory.JobStatus, result *memory.IngestResult, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return apierr.New(apierr.NotFound, "job not found")
	}
	j.Status = status
	j.Result = result
	j.Error = errMsg
	s.jobs[jobID] = j
	return nil
}

// NextAcceptedJob returns the oldest still-accepted job for userID, giving
// the FIFO-per-user ordering §4.7/§5 require.
func (s *InMemoryStore) NextAcceptedJob(_ context.Context, userID string) (*memory.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.jobOrder[userID] {
		j := s.jobs[id]
		if j.Status == memory.JobAccepted {
			cp := j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) DumpMemories(_ context.Context, userID string, fn func(memory.Memory) error) error {
	s.mu.Lock()
	var all []memory.Memory
	for _, m := range s.memories {
		if m.UserID == userID {
			all = append(all, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	for _, m := range all {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
