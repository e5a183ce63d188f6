// Package jobs implements the Job Manager: ingest request acceptance,
// idempotency resolution, a bounded per-user-serialized background worker
// pool, and status reporting (spec.md §4.7), grounded on the teacher's
// worker-pool and idempotency patterns in internal/rag/ingest.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cortex/internal/apierr"
	"cortex/internal/ingest"
	"cortex/internal/memory"
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

// IdempotencyCache is the (user_id, idempotency_key) -> job_id lookup,
// backed by Redis in production with a TTL matching the retention window;
// falls back to the Store's own lookup when not configured.
type IdempotencyCache interface {
	Get(ctx context.Context, userID, key string) (uuid.UUID, bool, error)
	Set(ctx context.Context, userID, key string, jobID uuid.UUID, ttl time.Duration) error
}

// EventPublisher publishes job-lifecycle transitions for external
// observers. Publication is best-effort: failures are swallowed, never
// returned. Accept and runJob call Publish synchronously, so a slow
// implementation delays them.
type EventPublisher interface {
	Publish(ctx context.Context, event JobEvent)
}

// JobEvent is one lifecycle transition notification.
type JobEvent struct {
	JobID     uuid.UUID
	UserID    string
	Status    memory.JobStatus
	Timestamp time.Time
}

// NoopPublisher discards every event; the default when no broker is wired.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, JobEvent) {}

// AcceptRequest is the input to Accept (§4.7's accept transition).
type AcceptRequest struct {
	UserID         string
	AgentID        string
	Scope          memory.Scope
	IdempotencyKey string
	Ingest         ingest.Request
}

const (
	defaultWorkerPoolSize     = 8
	defaultPerUserConcurrency = 1
	defaultChunkTimeout       = 20 * time.Second
	defaultJobWallClock       = 5 * time.Minute
)

// Manager runs the ingest job lifecycle.
type Manager struct {
	store     store.Store
	ingestMgr *ingest.Manager
	cache     IdempotencyCache
	publisher EventPublisher

	idempotencyTTL     time.Duration
	maxAdapterRetry    int
	workerPoolSize     int
	perUserConcurrency int
	chunkTimeout       time.Duration
	jobWallClock       time.Duration

	// queueSlots bounds the number of jobs accepted-but-not-yet-finished
	// (§5's "job queue is a bounded channel"); Accept fails fast with
	// resource_exhausted when it is full instead of queuing unboundedly.
	// Concurrent Analyzer/Embedder calls are bounded separately, by
	// llmadapter's own AdapterConcurrency-sized wrapper around the
	// Analyzer/Embedder instances this Manager's ingest.Manager holds.
	queueSlots chan struct{}
	// perUserSlots maps user_id -> a channel sized perUserConcurrency,
	// enforcing per-user concurrency (default 1: a second job for the same
	// user queues behind the first rather than running concurrently).
	perUserSlots sync.Map

	clock   Clock
	metrics observability.Metrics
}

// Option configures a Manager during construction.
type Option func(*Manager)

func WithIdempotencyCache(c IdempotencyCache) Option { return func(m *Manager) { m.cache = c } }
func WithEventPublisher(p EventPublisher) Option     { return func(m *Manager) { m.publisher = p } }
func WithClock(c Clock) Option                       { return func(m *Manager) { m.clock = c } }
func WithMetrics(mm observability.Metrics) Option    { return func(m *Manager) { m.metrics = mm } }
func WithMaxAdapterRetries(n int) Option             { return func(m *Manager) { m.maxAdapterRetry = n } }

func WithWorkerPoolSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workerPoolSize = n
		}
	}
}

func WithPerUserConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.perUserConcurrency = n
		}
	}
}

func WithChunkTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.chunkTimeout = d
		}
	}
}

func WithJobWallClock(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.jobWallClock = d
		}
	}
}

// New constructs a Manager. The queue semaphore is sized from the
// worker-pool option (or its default) once every Option has run.
func New(st store.Store, ingestMgr *ingest.Manager, idempotencyTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:              st,
		ingestMgr:          ingestMgr,
		cache:              nil,
		publisher:          NoopPublisher{},
		idempotencyTTL:     idempotencyTTL,
		maxAdapterRetry:    3,
		workerPoolSize:     defaultWorkerPoolSize,
		perUserConcurrency: defaultPerUserConcurrency,
		chunkTimeout:       defaultChunkTimeout,
		jobWallClock:       defaultJobWallClock,
		clock:              SystemClock{},
		metrics:            observability.NoopMetrics{},
	}
	for _, o := range opts {
		o(m)
	}
	m.queueSlots = make(chan struct{}, m.workerPoolSize)
	return m
}

// Accept assigns a job_id, persists an `accepted` row, and returns
// immediately — honoring the Idempotency-Key header per §4.7/§6. Returns
// resource_exhausted without creating a job when the worker pool's bounded
// queue is already full (§5).
func (m *Manager) Accept(ctx context.Context, req AcceptRequest) (memory.IngestJob, error) {
	if !memory.ValidateScope(req.Scope, req.AgentID) {
		return memory.IngestJob{}, apierr.New(apierr.InvalidArgument, "scope and agent_id are inconsistent")
	}

	now := m.clock.Now()
	if req.IdempotencyKey != "" {
		if existing, err := m.lookupIdempotent(ctx, req.UserID, req.IdempotencyKey, now); err != nil {
			return memory.IngestJob{}, err
		} else if existing != nil {
			return *existing, nil
		}
	}

	select {
	case m.queueSlots <- struct{}{}:
	default:
		return memory.IngestJob{}, apierr.New(apierr.ResourceExhausted, "job queue is full, retry later")
	}

	job := memory.IngestJob{
		JobID:          uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		Scope:          req.Scope,
		ReceivedAt:     now,
		Status:         memory.JobAccepted,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		<-m.queueSlots
		return memory.IngestJob{}, err
	}
	if req.IdempotencyKey != "" && m.cache != nil {
		_ = m.cache.Set(ctx, req.UserID, req.IdempotencyKey, job.JobID, m.idempotencyTTL)
	}
	m.publisher.Publish(ctx, JobEvent{JobID: job.JobID, UserID: job.UserID, Status: job.Status, Timestamp: now})
	m.metrics.IncCounter("jobs_accepted_total", nil)

	m.enqueue(req.UserID, req.Ingest, job.JobID)
	return job, nil
}

func (m *Manager) lookupIdempotent(ctx context.Context, userID, key string, now time.Time) (*memory.IngestJob, error) {
	if m.cache != nil {
		if jobID, ok, err := m.cache.Get(ctx, userID, key); err == nil && ok {
			job, err := m.store.GetJob(ctx, jobID)
			if err == nil {
				return job, nil
			}
		}
	}
	return m.store.FindJobByIdempotencyKey(ctx, userID, key, m.idempotencyTTL, now)
}

// Status returns the current job state for GET /v1/ingest/{job_id}.
func (m *Manager) Status(ctx context.Context, jobID uuid.UUID) (memory.IngestJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return memory.IngestJob{}, err
	}
	return *job, nil
}

// enqueue starts a worker goroutine bounded by two semaphores: the global
// queueSlots reserved by Accept (released here once the job finishes) and
// userID's own slot channel, which blocks a second job for the same user
// until perUserConcurrency permits it to run (§5).
func (m *Manager) enqueue(userID string, ingestReq ingest.Request, jobID uuid.UUID) {
	slotsAny, _ := m.perUserSlots.LoadOrStore(userID, make(chan struct{}, m.perUserConcurrency))
	userSlot := slotsAny.(chan struct{})

	go func() {
		defer func() { <-m.queueSlots }()
		userSlot <- struct{}{}
		defer func() { <-userSlot }()
		m.runJob(context.Background(), userID, ingestReq, jobID)
	}()
}

// runJob moves a job from accepted to running, invokes the Memory Manager
// with bounded retries on transient adapter failure inside a wall-clock
// budget, and records the terminal result (§4.7 Execute, §7 propagation
// policy).
func (m *Manager) runJob(ctx context.Context, userID string, req ingest.Request, jobID uuid.UUID) {
	now := m.clock.Now()
	_ = m.store.UpdateJobStatus(ctx, jobID, memory.JobRunning, nil, "")
	m.publisher.Publish(ctx, JobEvent{JobID: jobID, UserID: userID, Status: memory.JobRunning, Timestamp: now})

	jobCtx, cancel := context.WithTimeout(ctx, m.jobWallClock)
	defer cancel()

	result, err := m.runWithRetry(jobCtx, req)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = apierr.New(apierr.Timeout, "job exceeded its wall-clock budget")
	}

	if err != nil {
		// Any failure here — including a Store's apierr.Unavailable — fails
		// the whole job: there is no guarantee of which chunks were already
		// made visible (§7).
		_ = m.store.UpdateJobStatus(ctx, jobID, memory.JobFailed, nil, err.Error())
		m.publisher.Publish(ctx, JobEvent{JobID: jobID, UserID: userID, Status: memory.JobFailed, Timestamp: m.clock.Now()})
		m.metrics.IncCounter("jobs_failed_total", nil)
		return
	}

	_ = m.store.UpdateJobStatus(ctx, jobID, memory.JobDone, &result, "")
	m.publisher.Publish(ctx, JobEvent{JobID: jobID, UserID: userID, Status: memory.JobDone, Timestamp: m.clock.Now()})
	m.metrics.IncCounter("jobs_done_total", nil)
}

// runWithRetry retries the whole ingest call up to maxAdapterRetry times
// with exponential backoff when the failure is a transient adapter
// (Analyzer/Embedder) unavailability, per §4.7's at-least-once-inside-a-job
// contract. Store-originated failures (conflict, invalid_argument) are not
// retried. Each attempt runs under its own chunkTimeout budget.
func (m *Manager) runWithRetry(ctx context.Context, req ingest.Request) (memory.IngestResult, error) {
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= m.maxAdapterRetry; attempt++ {
		result, err := m.runIngestAttempt(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if apierr.CodeOf(err) != apierr.Unavailable || attempt == m.maxAdapterRetry {
			return memory.IngestResult{}, err
		}
		select {
		case <-ctx.Done():
			return memory.IngestResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return memory.IngestResult{}, lastErr
}

// runIngestAttempt bounds one ingest attempt by chunkTimeout (§5). Concurrent
// Analyzer/Embedder calls across this and every other attempt are bounded
// separately, inside llmadapter's AdapterConcurrency-sized wrapper.
func (m *Manager) runIngestAttempt(ctx context.Context, req ingest.Request) (memory.IngestResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.chunkTimeout)
	defer cancel()

	result, err := m.ingestMgr.Ingest(attemptCtx, req)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return memory.IngestResult{}, apierr.New(apierr.Timeout, "chunk processing exceeded its timeout budget")
	}
	return result, err
}
