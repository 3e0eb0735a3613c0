package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/analysis"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/config"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/highlight"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/httpapi"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/logging"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/orchestrator"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/persistence"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/projector"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/search"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/translate"
)

func main() {
	logging.Init()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	persister, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job database")
	}
	store := jobs.NewStore(cfg.Orchestrator.MaxActiveJobs, persister)

	client, err := analysis.NewClient(&analysis.Config{
		APIURL:  cfg.Inference.APIURL,
		APIKey:  cfg.Inference.APIKey,
		Timeout: cfg.Inference.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inference client")
	}

	orch := orchestrator.New(store, analysis.NewRegistry(client),
		orchestrator.WithWorkers(cfg.Orchestrator.Workers),
		orchestrator.WithMaxAttempts(cfg.Orchestrator.MaxAttempts),
		orchestrator.WithBackoffBase(cfg.Orchestrator.BackoffBase),
		orchestrator.WithTaskTimeout(cfg.Orchestrator.TaskTimeout),
	)

	index, err := search.NewIndex(cfg.Search.Addresses, cfg.Search.Index)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create search client")
	}
	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 10*time.Second)
	if err := index.Ensure(ensureCtx); err != nil {
		// The reindex sweep repairs the index once Elasticsearch is back.
		log.Warn().Err(err).Msg("Search index not ready, continuing without it")
	}
	cancelEnsure()

	indexer := projector.NewIndexer(store, index, cfg.Reindex.CronExpr)
	store.SetTerminalHook(indexer.OnJobTerminal)
	if err := indexer.Schedule(); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reindex sweep")
	}

	orch.Start()

	srv := httpapi.NewServer(store, orch, cfg.Storage.UploadDir,
		httpapi.WithSearch(index),
		httpapi.WithTranslator(translate.NewService(store, client)),
		httpapi.WithHighlights(highlight.NewService(store, cfg.Storage.UploadDir)),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		orch.Stop()
		indexer.StopSchedule()
		if err := persister.Close(); err != nil {
			log.Error().Err(err).Msg("Closing job database failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting analyzer server")
	if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	<-done
}
