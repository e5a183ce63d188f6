package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex/internal/ingest"
	"cortex/internal/jobs"
	"cortex/internal/llmadapter"
	"cortex/internal/retrieve"
	"cortex/internal/store"
	"cortex/internal/synth"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	st := store.NewInMemoryStore()
	analyzer := llmadapter.NewDeterministicAnalyzer()
	embedder := llmadapter.NewDeterministicEmbedder(16)
	ingestMgr := ingest.New(st, analyzer, embedder, 0.95)
	jobsMgr := jobs.New(st, ingestMgr, time.Hour)
	synthesizer := synth.New(analyzer)
	engine := retrieve.New(st, embedder, synthesizer, 8000, 24*time.Hour, 14)
	return NewServer(jobsMgr, ingestMgr, engine, st, apiKey, 30*time.Second)
}

func TestEnqueueIngest_ReturnsAcceptedWithJobID(t *testing.T) {
	srv := newTestServer(t, "")
	body, err := json.Marshal(ingestRequestBody{UserID: "u1", Text: "I live in Tokyo.", Scope: "global"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Equal(t, "accepted", decoded["status"])
	require.NotEmpty(t, decoded["job_id"])
}

func TestEnqueueIngest_RequiresAPIKeyWhenConfigured(t *testing.T) {
	srv := newTestServer(t, "secret")
	body, _ := json.Marshal(ingestRequestBody{UserID: "u1", Text: "x", Scope: "global"})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	req2.Header.Set("X-API-KEY", "secret")
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusAccepted, rec2.Code)
}

func TestForceCreateMemory_ReturnsCreated(t *testing.T) {
	srv := newTestServer(t, "")
	body, err := json.Marshal(forceCreateRequestBody{
		UserID: "u1", Content: "Risk tolerance: low.", MemoryType: "fact", Scope: "global",
		Importance: 4, Confidence: 0.9,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/memories", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetMemory_NotFoundReturnsEnvelope(t *testing.T) {
	srv := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/v1/memories/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	errBody, ok := env["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "not_found", errBody["code"])
}

func TestHealth_ReturnsOK(t *testing.T) {
	srv := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
