// Command cortexd runs the Antigravity Cortex HTTP service: config load,
// logging/OTel init, Store/Analyzer/Embedder wiring, and the Memory
// Manager/Retrieval Engine/Job Manager/HTTP server stack, grounded on the
// teacher's cmd/agentd main (env load before logger init, deferred OTel
// shutdown, zerolog throughout).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cortex/internal/config"
	"cortex/internal/httpapi"
	"cortex/internal/ingest"
	"cortex/internal/jobs"
	"cortex/internal/llmadapter"
	"cortex/internal/normalize"
	"cortex/internal/observability"
	"cortex/internal/retrieve"
	"cortex/internal/store"
	"cortex/internal/synth"
)

// resolveRelativeDate implements normalize.DateResolver for "today",
// "tomorrow", and "yesterday". Every other expression the normalizer's regex
// matches, including "next <weekday>" and "last <weekday>", is left
// unresolved.
func resolveRelativeDate(expr string, ref time.Time) (string, bool) {
	switch strings.ToLower(expr) {
	case "today":
		return ref.Format("2006-01-02"), true
	case "tomorrow":
		return ref.AddDate(0, 0, 1).Format("2006-01-02"), true
	case "yesterday":
		return ref.AddDate(0, 0, -1).Format("2006-01-02"), true
	default:
		return "", false
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}
	metrics := observability.NewOtelMetrics()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	analyzer, err := llmadapter.NewAnalyzer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct analyzer")
	}
	embedder, err := llmadapter.NewEmbedder(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct embedder")
	}

	ingestMgr := ingest.New(st, analyzer, embedder, cfg.UpsertThreshold,
		ingest.WithMetrics(metrics),
		ingest.WithNormalizeOptions(normalize.Options{
			Synonyms:     normalize.DefaultSynonyms,
			ResolveDate:  resolveRelativeDate,
			SubjectToken: "the user",
		}),
	)

	synthesizer := synth.New(analyzer)
	engine := retrieve.New(st, embedder, synthesizer,
		cfg.ContextBudgetChars,
		time.Duration(cfg.StateFreshnessWindowSeconds)*time.Second,
		cfg.StateHalfLifeDays,
		retrieve.WithMetrics(metrics),
	)

	idempotencyCache, err := jobs.NewRedisIdempotencyCache(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis idempotency cache unavailable, falling back to store lookup")
		idempotencyCache = nil
	}
	publisher := jobs.NewKafkaEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)

	jobOpts := []jobs.Option{
		jobs.WithMetrics(metrics),
		jobs.WithMaxAdapterRetries(cfg.MaxAdapterRetries),
		jobs.WithWorkerPoolSize(cfg.WorkerPoolSize),
		jobs.WithPerUserConcurrency(cfg.PerUserConcurrency),
		jobs.WithChunkTimeout(time.Duration(cfg.ChunkTimeoutSeconds) * time.Second),
		jobs.WithJobWallClock(time.Duration(cfg.JobWallClockSeconds) * time.Second),
	}
	if idempotencyCache != nil {
		jobOpts = append(jobOpts, jobs.WithIdempotencyCache(idempotencyCache))
	}
	if publisher != nil {
		jobOpts = append(jobOpts, jobs.WithEventPublisher(publisher))
		defer publisher.Close()
	}
	jobsMgr := jobs.New(st, ingestMgr, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second, jobOpts...)

	server := httpapi.NewServer(jobsMgr, ingestMgr, engine, st, cfg.APIKey, time.Duration(cfg.RequestTimeoutSeconds)*time.Second)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // GET /v1/dump streams large exports
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("cortexd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
