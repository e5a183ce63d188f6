// Package httpapi exposes the Antigravity Cortex HTTP surface (spec.md §6),
// grounded on the teacher's internal/httpapi: a plain http.ServeMux with
// method-prefixed patterns and r.PathValue path params, JSON in and out,
// and a respondJSON/respondError helper pair.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"cortex/internal/apierr"
	"cortex/internal/ingest"
	"cortex/internal/jobs"
	"cortex/internal/retrieve"
	"cortex/internal/store"
)

// Server wires the Job Manager, Memory Manager, Retrieval Engine, and Store
// into the HTTP surface.
type Server struct {
	jobs    *jobs.Manager
	ingest  *ingest.Manager
	engine  *retrieve.Engine
	store   store.Store
	apiKey  string
	timeout time.Duration
	mux     *http.ServeMux
}

// NewServer constructs a Server and registers its routes.
func NewServer(jobsMgr *jobs.Manager, ingestMgr *ingest.Manager, engine *retrieve.Engine, st store.Store, apiKey string, requestTimeout time.Duration) *Server {
	s := &Server{jobs: jobsMgr, ingest: ingestMgr, engine: engine, store: st, apiKey: apiKey, timeout: requestTimeout, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/ingest", s.withTimeout(s.withAuth(s.handleEnqueueIngest)))
	s.mux.HandleFunc("GET /v1/ingest/{job_id}", s.withTimeout(s.handleGetIngestJob))

	s.mux.HandleFunc("POST /v1/memories", s.withTimeout(s.withAuth(s.handleForceCreateMemory)))
	s.mux.HandleFunc("GET /v1/memories", s.withTimeout(s.handleQueryMemories))
	s.mux.HandleFunc("GET /v1/memories/{id}", s.withTimeout(s.handleGetMemory))
	s.mux.HandleFunc("PATCH /v1/memories/{id}", s.withTimeout(s.withAuth(s.handlePatchMemory)))
	s.mux.HandleFunc("DELETE /v1/memories/{id}", s.withTimeout(s.withAuth(s.handleDeleteMemory)))

	s.mux.HandleFunc("POST /v1/context", s.withTimeout(s.handleContext))
	// GET /v1/dump streams a potentially large export; it is deliberately
	// exempt from the fixed per-request deadline (§5 names it for
	// "synchronous endpoints").
	s.mux.HandleFunc("GET /v1/dump", s.handleDump)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// withAuth enforces X-API-KEY on mutating requests per §6. A blank
// configured apiKey disables the check (local/dev use).
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-KEY") != s.apiKey {
			respondError(w, r, apierr.New(apierr.Unauthenticated, "missing or invalid X-API-KEY"))
			return
		}
		next(w, r)
	}
}

// withTimeout enforces the per-request deadline (§5: "enforced end-to-end
// for synchronous endpoints") by replacing the request's context with one
// bounded by s.timeout; respondError reports apierr.Timeout when a handler
// fails after that deadline elapses.
func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.timeout <= 0 {
			next(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
