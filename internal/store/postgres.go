package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cortex/internal/apierr"
	"cortex/internal/memory"
)

// PostgresStore is the production Store backend: relational rows in
// `memories`/`memory_audit_logs`/`ingest_jobs`, with the embedding column
// searched either via pgvector's `<=>` cosine operator (default) or
// delegated to a Qdrant VectorIndex when configured — grounded on the
// teacher's pgxpool connection-pool sizing and transactional
// supersede-then-insert pattern.
type PostgresStore struct {
	pool   *pgxpool.Pool
	index  VectorIndex // nil when VECTOR_BACKEND=pgvector (the default)
	metric string
}

// NewPostgresStore opens a pooled connection and verifies reachability.
// index may be nil; when non-nil, vector search is delegated to it instead
// of the `embedding` column.
func NewPostgresStore(ctx context.Context, dsn string, index VectorIndex, metric string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "parse database_url", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "open database pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apierr.Wrap(apierr.Unavailable, "ping database", err)
	}
	if metric == "" {
		metric = "cosine"
	}
	return &PostgresStore{pool: pool, index: index, metric: metric}, nil
}

func (s *PostgresStore) Close() {
	if s.index != nil {
		_ = s.index.Close()
	}
	s.pool.Close()
}

// toVectorLiteral renders a float32 slice as the pgvector text literal
// `[v1,v2,...]`.
func toVectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// distanceOperator maps the configured metric to pgvector's distance
// operator. Callers turn the distance into a similarity as 1 - distance.
func distanceOperator(metric string) string {
	switch metric {
	case "l2":
		return "<->"
	case "ip":
		return "<#>"
	default:
		return "<=>" // cosine distance
	}
}

const memoryColumns = `id, user_id, scope, agent_id, content, content_hash, embedding, memory_type,
	tags, related_entities, importance, confidence, source, input_channel, event_time,
	valid_from, valid_to, supersedes_id, last_accessed, created_at, updated_at`

func scanMemory(row pgx.Row) (memory.Memory, error) {
	var m memory.Memory
	var agentID, source *string
	var inputChannel *string
	var tagsJSON, relatedJSON []byte
	var embeddingStr *string
	var supersedes *uuid.UUID

	err := row.Scan(
		&m.ID, &m.UserID, &m.Scope, &agentID, &m.Content, &m.ContentHash, &embeddingStr, &m.MemoryType,
		&tagsJSON, &relatedJSON, &m.Importance, &m.Confidence, &source, &inputChannel, &m.EventTime,
		&m.ValidFrom, &m.ValidTo, &supersedes, &m.LastAccessed, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return memory.Memory{}, err
	}
	if agentID != nil {
		m.AgentID = *agentID
	}
	if source != nil {
		m.Source = *source
	}
	if inputChannel != nil {
		m.InputChannel = memory.Channel(*inputChannel)
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &m.Tags)
	}
	if len(relatedJSON) > 0 {
		_ = json.Unmarshal(relatedJSON, &m.RelatedEntities)
	}
	m.SupersedesID = supersedes
	if embeddingStr != nil {
		m.Embedding = parseVectorLiteral(*embeddingStr)
	}
	return m, nil
}

func parseVectorLiteral(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

func (s *PostgresStore) FindExactDuplicate(ctx context.Context, bucket VectorBucket, contentHash string) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE user_id=$1 AND scope=$2 AND coalesce(agent_id,'')=$3 AND content_hash=$4 AND valid_to IS NULL
		LIMIT 1`, bucket.UserID, bucket.Scope, bucket.AgentID, contentHash)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "find exact duplicate", err)
	}
	return &m, nil
}

func (s *PostgresStore) FindNearestNeighbor(ctx context.Context, bucket VectorBucket, memType memory.Type, embedding []float32) (*ScoredMemory, error) {
	if s.index != nil {
		results, err := s.index.Search(ctx, bucket, embedding, 1)
		if err != nil || len(results) == 0 {
			return nil, err
		}
		hydrated, err := s.hydrateScored(ctx, results)
		if err != nil || len(hydrated) == 0 {
			return nil, err
		}
		return &hydrated[0], nil
	}

	op := distanceOperator(s.metric)
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding %s $4) AS sim FROM memories
		WHERE user_id=$1 AND scope=$2 AND coalesce(agent_id,'')=$3 AND memory_type=$5 AND valid_to IS NULL
		ORDER BY embedding %s $4 ASC LIMIT 1`, memoryColumns, op, op)
	row := s.pool.QueryRow(ctx, query, bucket.UserID, bucket.Scope, bucket.AgentID, toVectorLiteral(embedding), memType)

	var m memory.Memory
	var sim float64
	// scanMemory expects pgx.Row with the fixed memoryColumns shape; the
	// extra trailing `sim` column is scanned separately via a wrapper.
	wrapped := &rowWithTrailingFloat{Row: row, out: &sim}
	m, err := scanMemory(wrapped)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "find nearest neighbor", err)
	}
	return &ScoredMemory{Memory: m, Similarity: sim}, nil
}

// rowWithTrailingFloat adapts pgx.Row.Scan to capture one extra trailing
// destination (the computed similarity column) after scanMemory's fixed
// argument list.
type rowWithTrailingFloat struct {
	pgx.Row
	out *float64
}

func (r *rowWithTrailingFloat) Scan(dest ...any) error {
	return r.Row.Scan(append(dest, r.out)...)
}

// hydrateScored fills in the full Memory row for each ID+similarity pair the
// vector index returned. The index only stores the embedding and the scope
// bucket as payload (qdrant.go:24-26); the canonical row still lives here,
// so every QdrantIndex.Search result must be rejoined against Postgres
// before the Retrieval Engine sees it.
func (s *PostgresStore) hydrateScored(ctx context.Context, hollow []ScoredMemory) ([]ScoredMemory, error) {
	if len(hollow) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(hollow))
	simByID := make(map[uuid.UUID]float64, len(hollow))
	for i, sm := range hollow {
		ids[i] = sm.Memory.ID
		simByID[sm.Memory.ID] = sm.Similarity
	}

	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "hydrate vector search results", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]memory.Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.Unavailable, "scan hydrated memory row", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "iterate hydrated memory rows", err)
	}

	out := make([]ScoredMemory, 0, len(hollow))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue // point still in the index but its row was deleted from Postgres
		}
		out = append(out, ScoredMemory{Memory: m, Similarity: simByID[id]})
	}
	return out, nil
}

func (s *PostgresStore) InsertMemory(ctx context.Context, m *memory.Memory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if err := s.insertMemoryTx(ctx, s.pool, m); err != nil {
		return err
	}
	return s.syncIndex(ctx, *m)
}

// syncIndex mirrors a memory's embedding into the Qdrant VectorIndex when
// one is configured; pgvector needs no separate sync since the embedding
// column is the index.
func (s *PostgresStore) syncIndex(ctx context.Context, m memory.Memory) error {
	if s.index == nil || len(m.Embedding) == 0 {
		return nil
	}
	bucket := VectorBucket{UserID: m.UserID, Scope: m.Scope, AgentID: m.AgentID}
	return s.index.Upsert(ctx, bucket, m)
}

// execer is the common Exec surface of *pgxpool.Pool and pgx.Tx, letting
// insertMemoryTx run identically inside and outside a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insertMemoryTx(ctx context.Context, q execer, m *memory.Memory) error {
	tagsJSON, _ := json.Marshal(m.Tags)
	relatedJSON, _ := json.Marshal(m.RelatedEntities)
	var embeddingLiteral *string
	if len(m.Embedding) > 0 {
		v := toVectorLiteral(m.Embedding)
		embeddingLiteral = &v
	}
	_, err := q.Exec(ctx, `INSERT INTO memories (`+memoryColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		m.ID, m.UserID, m.Scope, nullableString(m.AgentID), m.Content, m.ContentHash, embeddingLiteral, m.MemoryType,
		tagsJSON, relatedJSON, m.Importance, m.Confidence, nullableString(m.Source), string(m.InputChannel), m.EventTime,
		m.ValidFrom, m.ValidTo, m.SupersedesID, m.LastAccessed, m.CreatedAt, m.UpdatedAt)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SupersedeAndInsert locks the predecessor row with SELECT ... FOR UPDATE
// inside one transaction, then retires it and inserts the successor, per
// §4.4.1 and §5's locking discipline.
func (s *PostgresStore) SupersedeAndInsert(ctx context.Context, oldID uuid.UUID, newMemory *memory.Memory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "begin supersede transaction", err)
	}
	defer tx.Rollback(ctx)

	var validTo *time.Time
	err = tx.QueryRow(ctx, `SELECT valid_to FROM memories WHERE id=$1 FOR UPDATE`, oldID).Scan(&validTo)
	if err == pgx.ErrNoRows {
		return apierr.New(apierr.Conflict, "supersession target no longer exists")
	}
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "lock supersede target", err)
	}
	if validTo != nil {
		return apierr.New(apierr.Conflict, "supersession target already retired")
	}

	if newMemory.ID == uuid.Nil {
		newMemory.ID = uuid.New()
	}
	newMemory.SupersedesID = &oldID
	if newMemory.CreatedAt.IsZero() {
		newMemory.CreatedAt = newMemory.ValidFrom
	}
	newMemory.UpdatedAt = newMemory.ValidFrom

	if _, err := tx.Exec(ctx, `UPDATE memories SET valid_to=$1, updated_at=$1 WHERE id=$2`, newMemory.ValidFrom, oldID); err != nil {
		return apierr.Wrap(apierr.Unavailable, "retire predecessor", err)
	}
	if err := s.insertMemoryTx(ctx, tx, newMemory); err != nil {
		return apierr.Wrap(apierr.Unavailable, "insert successor", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Wrap(apierr.Unavailable, "commit supersede transaction", err)
	}
	if err := s.syncIndex(ctx, *newMemory); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec memory.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	diffJSON, _ := json.Marshal(rec.Diff)
	_, err := s.pool.Exec(ctx, `INSERT INTO memory_audit_logs (id, memory_id, action, actor_type, diff, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, rec.ID, rec.MemoryID, rec.Action, rec.ActorType, diffJSON, rec.CreatedAt)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "append audit record", err)
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, id uuid.UUID) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id=$1`, id)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "memory not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "get memory", err)
	}
	return &m, nil
}

// Query builds a dynamic WHERE clause over the structured filter, using
// `tags @> $n::jsonb` containment and `content ILIKE` for the free-text `q`.
func (s *PostgresStore) Query(ctx context.Context, f QueryFilter) (QueryPage, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	add("user_id=$%d", f.UserID)
	if f.HasScope {
		add("scope=$%d", f.Scope)
	}
	if f.HasAgentID {
		add("coalesce(agent_id,'')=$%d", f.AgentID)
	}
	if f.HasType {
		add("memory_type=$%d", f.MemoryType)
	}
	if f.ValidAt != nil {
		add("valid_from<=$%d", *f.ValidAt)
		args = append(args, *f.ValidAt)
		where = append(where, fmt.Sprintf("(valid_to IS NULL OR valid_to>$%d)", len(args)))
	} else {
		where = append(where, "valid_to IS NULL")
	}
	if f.Query != "" {
		add("content ILIKE $%d", "%"+f.Query+"%")
	}
	if len(f.Tags) > 0 {
		tagsJSON, _ := json.Marshal(f.Tags)
		add("tags @> $%d::jsonb", tagsJSON)
	}
	if f.EventFrom != nil {
		add("event_time>=$%d", *f.EventFrom)
	}
	if f.EventTo != nil {
		add("event_time<=$%d", *f.EventTo)
	}
	if f.Cursor != "" {
		createdAt, id, ok := parseCursor(f.Cursor)
		if ok {
			args = append(args, createdAt, id)
			where = append(where, fmt.Sprintf("(created_at < $%d OR (created_at = $%d AND id > $%d))", len(args)-1, len(args)-1, len(args)))
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit+1)
	sql := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return QueryPage{}, apierr.Wrap(apierr.Unavailable, "query memories", err)
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return QueryPage{}, apierr.Wrap(apierr.Unavailable, "scan memory row", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return QueryPage{}, apierr.Wrap(apierr.Unavailable, "iterate memory rows", err)
	}

	next := ""
	if len(out) > limit {
		last := out[limit-1]
		next = last.CreatedAt.Format(time.RFC3339Nano) + "_" + last.ID.String()
		out = out[:limit]
	}
	return QueryPage{Memories: out, NextCursor: next}, nil
}

func parseCursor(cursor string) (time.Time, uuid.UUID, bool) {
	idx := strings.LastIndex(cursor, "_")
	if idx < 0 {
		return time.Time{}, uuid.Nil, false
	}
	t, err := time.Parse(time.RFC3339Nano, cursor[:idx])
	if err != nil {
		return time.Time{}, uuid.Nil, false
	}
	id, err := uuid.Parse(cursor[idx+1:])
	if err != nil {
		return time.Time{}, uuid.Nil, false
	}
	return t, id, true
}

func (s *PostgresStore) VectorSearch(ctx context.Context, bucket VectorBucket, embedding []float32, kFetch int, includeRetired bool) ([]ScoredMemory, error) {
	if s.index != nil {
		results, err := s.index.Search(ctx, bucket, embedding, kFetch)
		if err != nil {
			return nil, err
		}
		return s.hydrateScored(ctx, results)
	}

	op := distanceOperator(s.metric)
	validClause := "valid_to IS NULL"
	if includeRetired {
		validClause = "TRUE"
	}
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding %s $4) AS sim FROM memories
		WHERE user_id=$1 AND scope=$2 AND coalesce(agent_id,'')=$3 AND embedding IS NOT NULL AND %s
		ORDER BY embedding %s $4 ASC LIMIT $5`, memoryColumns, op, validClause, op)
	rows, err := s.pool.Query(ctx, query, bucket.UserID, bucket.Scope, bucket.AgentID, toVectorLiteral(embedding), kFetch)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "vector search", err)
	}
	defer rows.Close()

	var out []ScoredMemory
	for rows.Next() {
		var sim float64
		m, err := scanMemory(&rowWithTrailingFloat{Row: rows, out: &sim})
		if err != nil {
			return nil, apierr.Wrap(apierr.Unavailable, "scan vector search row", err)
		}
		out = append(out, ScoredMemory{Memory: m, Similarity: sim})
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchLastAccessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE memories SET last_accessed=$1 WHERE id = ANY($2)`, at, ids)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "touch last_accessed", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemory(ctx context.Context, id uuid.UUID, patch MemoryPatch) (*memory.Memory, error) {
	existing, err := s.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil {
		existing.Content = *patch.Content
	}
	if patch.Tags != nil {
		existing.Tags = patch.Tags
	}
	if patch.RelatedEntities != nil {
		existing.RelatedEntities = patch.RelatedEntities
	}
	if patch.Importance != nil {
		existing.Importance = *patch.Importance
	}
	if patch.Confidence != nil {
		existing.Confidence = *patch.Confidence
	}
	existing.UpdatedAt = time.Now()

	tagsJSON, _ := json.Marshal(existing.Tags)
	relatedJSON, _ := json.Marshal(existing.RelatedEntities)
	_, err = s.pool.Exec(ctx, `UPDATE memories SET content=$1, tags=$2, related_entities=$3, importance=$4, confidence=$5, updated_at=$6 WHERE id=$7`,
		existing.Content, tagsJSON, relatedJSON, existing.Importance, existing.Confidence, existing.UpdatedAt, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "update memory", err)
	}
	return existing, nil
}

func (s *PostgresStore) DeleteMemory(ctx context.Context, id uuid.UUID, hard bool, at time.Time) error {
	if hard {
		ct, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id)
		if err != nil {
			return apierr.Wrap(apierr.Unavailable, "delete memory", err)
		}
		if s.index != nil {
			_ = s.index.Delete(ctx, id)
		}
		if ct.RowsAffected() == 0 {
			return apierr.New(apierr.NotFound, "memory not found")
		}
		return nil
	}
	ct, err := s.pool.Exec(ctx, `UPDATE memories SET valid_to=$1, updated_at=$1 WHERE id=$2 AND valid_to IS NULL`, at, id)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "soft delete memory", err)
	}
	if ct.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "memory not found or already retired")
	}
	return nil
}

// SweepExpiredState is the permitted-but-unused background extension named
// in spec.md §9; nothing in this repo calls it automatically.
func (s *PostgresStore) SweepExpiredState(ctx context.Context, freshnessWindow time.Duration, at time.Time) (int, error) {
	cutoff := at.Add(-freshnessWindow)
	ct, err := s.pool.Exec(ctx, `UPDATE memories SET valid_to=$1, updated_at=$1
		WHERE memory_type='state' AND valid_to IS NULL AND updated_at < $2`, at, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.Unavailable, "sweep expired state", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job memory.IngestJob) error {
	resultJSON, _ := json.Marshal(job.Result)
	_, err := s.pool.Exec(ctx, `INSERT INTO ingest_jobs
		(job_id, idempotency_key, user_id, agent_id, scope, received_at, status, result, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		job.JobID, nullableString(job.IdempotencyKey), job.UserID, nullableString(job.AgentID), job.Scope,
		job.ReceivedAt, job.Status, resultJSON, nullableString(job.Error))
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "create job", err)
	}
	return nil
}

func scanJob(row pgx.Row) (memory.IngestJob, error) {
	var j memory.IngestJob
	var idemKey, agentID, errMsg *string
	var resultJSON []byte
	err := row.Scan(&j.JobID, &idemKey, &j.UserID, &agentID, &j.Scope, &j.ReceivedAt, &j.Status, &resultJSON, &errMsg)
	if err != nil {
		return memory.IngestJob{}, err
	}
	if idemKey != nil {
		j.IdempotencyKey = *idemKey
	}
	if agentID != nil {
		j.AgentID = *agentID
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		_ = json.Unmarshal(resultJSON, &j.Result)
	}
	return j, nil
}

const jobColumns = `job_id, idempotency_key, user_id, agent_id, scope, received_at, status, result, error`

func (s *PostgresStore) FindJobByIdempotencyKey(ctx context.Context, userID, key string, retentionWindow time.Duration, now time.Time) (*memory.IngestJob, error) {
	if key == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingest_jobs
		WHERE user_id=$1 AND idempotency_key=$2 AND received_at >= $3 LIMIT 1`,
		userID, key, now.Add(-retentionWindow))
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "find job by idempotency key", err)
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID uuid.UUID) (*memory.IngestJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingest_jobs WHERE job_id=$1`, jobID)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "job not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "get job", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status memory.JobStatus, result *memory.IngestResult, errMsg string) error {
	resultJSON, _ := json.Marshal(result)
	_, err := s.pool.Exec(ctx, `UPDATE ingest_jobs SET status=$1, result=$2, error=$3 WHERE job_id=$4`,
		status, resultJSON, nullableString(errMsg), jobID)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "update job status", err)
	}
	return nil
}

func (s *PostgresStore) NextAcceptedJob(ctx context.Context, userID string) (*memory.IngestJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingest_jobs
		WHERE user_id=$1 AND status=$2 ORDER BY received_at ASC LIMIT 1`, userID, memory.JobAccepted)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Unavailable, "find next accepted job", err)
	}
	return &j, nil
}

func (s *PostgresStore) DumpMemories(ctx context.Context, userID string, fn func(memory.Memory) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=$1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return apierr.Wrap(apierr.Unavailable, "dump memories", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return apierr.Wrap(apierr.Unavailable, "scan dump row", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}
