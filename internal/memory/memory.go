// Package memory defines the Antigravity Cortex domain model: the Memory
// record, its lineage/temporal fields, audit records, and the per-type
// update strategy that drives the ingestion pipeline.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Scope is the visibility boundary of a Memory.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
)

func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeAgent
}

// Type is the closed set of memory variants. Each variant carries its own
// update strategy (see Strategy) rather than being modeled as a subclass.
type Type string

const (
	TypeFact    Type = "fact"
	TypeState   Type = "state"
	TypeEpisode Type = "episode"
	TypePolicy  Type = "policy"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypeState, TypeEpisode, TypePolicy:
		return true
	}
	return false
}

// Channel is ingestion provenance.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelManual Channel = "manual"
	ChannelAPI    Channel = "api"
	ChannelImport Channel = "import"
)

// Memory is the atomic unit of knowledge.
type Memory struct {
	ID              uuid.UUID         `json:"id"`
	UserID          string            `json:"user_id"`
	Scope           Scope             `json:"scope"`
	AgentID         string            `json:"agent_id,omitempty"`
	Content         string            `json:"content"`
	ContentHash     string            `json:"content_hash"`
	Embedding       []float32         `json:"embedding,omitempty"`
	MemoryType      Type              `json:"memory_type"`
	Tags            []string          `json:"tags,omitempty"`
	RelatedEntities map[string]string `json:"related_entities,omitempty"`
	Importance      int               `json:"importance"`
	Confidence      float64           `json:"confidence"`
	Source          string            `json:"source,omitempty"`
	InputChannel    Channel           `json:"input_channel,omitempty"`
	EventTime       *time.Time        `json:"event_time,omitempty"`
	ValidFrom       time.Time         `json:"valid_from"`
	ValidTo         *time.Time        `json:"valid_to,omitempty"`
	SupersedesID    *uuid.UUID        `json:"supersedes_id,omitempty"`
	LastAccessed    *time.Time        `json:"last_accessed,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Current reports whether the memory is the live head of its lineage.
func (m Memory) Current() bool { return m.ValidTo == nil }

// EventOrUpdatedAt returns EventTime when set (episodes, dated facts), else
// UpdatedAt — the reference point the Retrieval Engine ages state/episode
// decay from.
func (m Memory) EventOrUpdatedAt() time.Time {
	if m.EventTime != nil {
		return *m.EventTime
	}
	return m.UpdatedAt
}

// ScopeKey returns the bucket memories of this scope/agent fall into, used
// for uniqueness and candidate-fetch partitioning. Global memories use the
// empty agent component, matching invariant 2's coalesce(agent_id, '').
func (m Memory) ScopeKey() string {
	if m.Scope == ScopeAgent {
		return m.AgentID
	}
	return ""
}

// ValidateScope enforces invariant 1: (scope = agent) <=> (agent_id != null).
func ValidateScope(scope Scope, agentID string) bool {
	switch scope {
	case ScopeAgent:
		return agentID != ""
	case ScopeGlobal:
		return agentID == ""
	default:
		return false
	}
}

// ActorType identifies who caused an audit transition.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
	ActorAdmin  ActorType = "admin"
)

// AuditAction enumerates the state transitions that must be audited
// (invariant 7).
type AuditAction string

const (
	ActionCreate  AuditAction = "create"
	ActionUpdate  AuditAction = "update"
	ActionRetire  AuditAction = "retire"
	ActionDelete  AuditAction = "delete"
	ActionRestore AuditAction = "restore"
	ActionConfirm AuditAction = "confirm"
	ActionReject  AuditAction = "reject"
)

// AuditRecord is an append-only log entry tied to a Memory.
type AuditRecord struct {
	ID        uuid.UUID      `json:"id"`
	MemoryID  uuid.UUID      `json:"memory_id"`
	Action    AuditAction    `json:"action"`
	ActorType ActorType      `json:"actor_type"`
	Diff      map[string]any `json:"diff,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobStatus is the ingest job lifecycle state.
type JobStatus string

const (
	JobAccepted JobStatus = "accepted"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
)

// IngestResult mirrors the response body of a completed ingest.
type IngestResult struct {
	CreatedCount int         `json:"created_count"`
	UpdatedCount int         `json:"updated_count"`
	SkippedCount int         `json:"skipped_count"`
	MemoryIDs    []uuid.UUID `json:"memory_ids"`
	Warnings     []string    `json:"warnings,omitempty"`
}

// IngestJob is the persisted row backing the async ingest lifecycle.
type IngestJob struct {
	JobID          uuid.UUID     `json:"job_id"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	UserID         string        `json:"user_id"`
	AgentID        string        `json:"agent_id,omitempty"`
	Scope          Scope         `json:"scope"`
	ReceivedAt     time.Time     `json:"received_at"`
	Status         JobStatus     `json:"status"`
	Result         *IngestResult `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
}
