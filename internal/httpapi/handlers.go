package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cortex/internal/apierr"
	"cortex/internal/ingest"
	"cortex/internal/jobs"
	"cortex/internal/memory"
	"cortex/internal/retrieve"
	"cortex/internal/store"
)

type ingestRequestBody struct {
	UserID    string         `json:"user_id"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Scope     memory.Scope   `json:"scope"`
	AgentID   string         `json:"agent_id"`
	EventTime *time.Time     `json:"event_time"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleEnqueueIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}

	job, err := s.jobs.Accept(r.Context(), jobs.AcceptRequest{
		UserID:         body.UserID,
		AgentID:        body.AgentID,
		Scope:          body.Scope,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Ingest: ingest.Request{
			UserID:    body.UserID,
			Text:      body.Text,
			Source:    body.Source,
			Scope:     body.Scope,
			AgentID:   body.AgentID,
			EventTime: body.EventTime,
			Metadata:  body.Metadata,
		},
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"job_id": job.JobID, "status": job.Status})
}

func (s *Server) handleGetIngestJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed job_id"))
		return
	}
	job, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type forceCreateRequestBody struct {
	UserID              string            `json:"user_id"`
	Content             string            `json:"content"`
	MemoryType          memory.Type       `json:"memory_type"`
	Tags                []string          `json:"tags"`
	RelatedEntities     map[string]string `json:"related_entities"`
	Importance          int               `json:"importance"`
	Confidence          float64           `json:"confidence"`
	Source              string            `json:"source"`
	Scope               memory.Scope      `json:"scope"`
	AgentID             string            `json:"agent_id"`
	EventTime           *time.Time        `json:"event_time"`
	AllowSemanticUpsert bool              `json:"allow_semantic_upsert"`
}

func (s *Server) handleForceCreateMemory(w http.ResponseWriter, r *http.Request) {
	var body forceCreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}
	result, err := s.ingest.ForceIngest(r.Context(), ingest.ForceRequest{
		UserID:              body.UserID,
		Content:             body.Content,
		MemoryType:          body.MemoryType,
		Tags:                body.Tags,
		RelatedEntities:     body.RelatedEntities,
		Importance:          body.Importance,
		Confidence:          body.Confidence,
		Source:              body.Source,
		Scope:               body.Scope,
		AgentID:             body.AgentID,
		EventTime:           body.EventTime,
		AllowSemanticUpsert: body.AllowSemanticUpsert,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleQueryMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := retrieve.QueryRequest{}
	filter.UserID = q.Get("user_id")
	if v := q.Get("scope"); v != "" {
		filter.Scope = memory.Scope(v)
		filter.HasScope = true
	}
	if v := q.Get("agent_id"); v != "" {
		filter.AgentID = v
		filter.HasAgentID = true
	}
	if v := q.Get("memory_type"); v != "" {
		filter.MemoryType = memory.Type(v)
		filter.HasType = true
	}
	if v := q.Get("tags"); v != "" {
		filter.Tags = splitCommaList(v)
	}
	filter.Query = q.Get("q")
	if v := q.Get("valid_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.ValidAt = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	filter.Cursor = q.Get("cursor")

	page, err := s.engine.Query(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": page.Memories, "next_cursor": page.NextCursor})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed id"))
		return
	}
	m, err := s.store.GetMemory(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

type patchMemoryBody struct {
	Content         *string           `json:"content"`
	Tags            []string          `json:"tags"`
	RelatedEntities map[string]string `json:"related_entities"`
	Importance      *int              `json:"importance"`
	Confidence      *float64          `json:"confidence"`
}

func (s *Server) handlePatchMemory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed id"))
		return
	}
	var body patchMemoryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}
	updated, err := s.store.UpdateMemory(r.Context(), id, store.MemoryPatch{
		Content:         body.Content,
		Tags:            body.Tags,
		RelatedEntities: body.RelatedEntities,
		Importance:      body.Importance,
		Confidence:      body.Confidence,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.audit(r.Context(), id, memory.ActionUpdate, map[string]any{
		"content":          body.Content,
		"tags":             body.Tags,
		"related_entities": body.RelatedEntities,
		"importance":       body.Importance,
		"confidence":       body.Confidence,
	})
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed id"))
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.store.DeleteMemory(r.Context(), id, hard, time.Now()); err != nil {
		respondError(w, r, err)
		return
	}
	action := memory.ActionRetire
	if hard {
		action = memory.ActionDelete
	}
	s.audit(r.Context(), id, action, map[string]any{"hard": hard})
	w.WriteHeader(http.StatusNoContent)
}

// audit records a user-initiated state transition (invariant 7). A failure
// to write the audit record never blocks the response; the error is
// discarded.
func (s *Server) audit(ctx context.Context, memoryID uuid.UUID, action memory.AuditAction, diff map[string]any) {
	rec := memory.AuditRecord{MemoryID: memoryID, Action: action, ActorType: memory.ActorUser, Diff: diff, CreatedAt: time.Now()}
	_ = s.store.AppendAudit(ctx, rec)
}

type contextRequestBody struct {
	UserID         string       `json:"user_id"`
	Query          string       `json:"query"`
	AppContext     string       `json:"app_context"`
	Scope          memory.Scope `json:"scope"`
	AgentID        string       `json:"agent_id"`
	K              int          `json:"k"`
	IncludeGlobal  bool         `json:"include_global"`
	ReturnEvidence bool         `json:"return_evidence"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var body contextRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}
	result, err := s.engine.Context(r.Context(), retrieve.ContextRequest{
		UserID:         body.UserID,
		Query:          body.Query,
		AppContext:     body.AppContext,
		Scope:          body.Scope,
		AgentID:        body.AgentID,
		K:              body.K,
		IncludeGlobal:  body.IncludeGlobal,
		ReturnEvidence: body.ReturnEvidence,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	payload := map[string]any{"memories": result.Memories}
	if result.Synth != nil {
		payload["summary"] = result.Synth.Summary
		payload["bullets"] = result.Synth.Bullets
		if body.ReturnEvidence {
			payload["evidence"] = result.Synth.Evidence
		}
	}
	respondJSON(w, http.StatusOK, payload)
}

// handleDump streams every memory for a user, current and retired alike, as
// json or jsonl
// (§5 Supplemented Features), writing incrementally rather than buffering
// the whole export in memory.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "jsonl" {
		respondError(w, r, apierr.New(apierr.InvalidArgument, "format must be json or jsonl"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	first := true
	if format == "json" {
		_, _ = w.Write([]byte("["))
	}
	err := s.store.DumpMemories(r.Context(), userID, func(m memory.Memory) error {
		if format == "json" {
			if !first {
				_, _ = w.Write([]byte(","))
			}
			first = false
			return enc.Encode(m)
		}
		return enc.Encode(m)
	})
	if format == "json" {
		_, _ = w.Write([]byte("]"))
	}
	if flusher != nil {
		flusher.Flush()
	}
	_ = err // partial output already flushed; nothing more can be reported
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.GetMemory(ctx, uuid.Nil); err != nil && apierr.CodeOf(err) == apierr.Unavailable {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func splitCommaList(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes the error envelope for err. When the request's own
// deadline (set by Server.withTimeout) has already elapsed, the response is
// reported as apierr.Timeout whatever the failing call returned (except an
// invalid_argument error, which is reported as is), since a deadline-cancelled store/adapter call surfaces as whatever error
// shape that dependency happens to wrap a context cancellation in.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if ctxErr := r.Context().Err(); errors.Is(ctxErr, context.DeadlineExceeded) && apierr.CodeOf(err) != apierr.InvalidArgument {
		err = apierr.New(apierr.Timeout, "request exceeded its deadline")
	}
	code := apierr.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(apierr.ToEnvelope(err))
}
