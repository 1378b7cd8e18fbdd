// Command cortexmemd is the cortex-mem process entrypoint: it loads
// configuration, constructs every subsystem (filesystem, vector store,
// LLM/embedding clients, layer manager, sync engine, retrieval engine,
// session manager, extraction, optimiser, MCP tool server), starts the
// automation event loop, and blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cortexmem/internal/automation"
	"cortexmem/internal/classification"
	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/embedding"
	"cortexmem/internal/extraction"
	"cortexmem/internal/layers"
	"cortexmem/internal/llmclient"
	"cortexmem/internal/mcptools"
	"cortexmem/internal/observability"
	"cortexmem/internal/optimizer"
	"cortexmem/internal/retrieval"
	"cortexmem/internal/session"
	"cortexmem/internal/storage"
	"cortexmem/internal/syncengine"
	"cortexmem/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "cortexmem.yaml", "path to the cortexmem YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("", cfg.LogLevel)
	log.Info().Str("data_dir", cfg.DataDir).Str("tenant_id", cfg.TenantID).Msg("starting cortexmemd")

	fs, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize filesystem")
	}

	useLLM := cfg.LLM.Key != ""
	var llm llmclient.Client
	if useLLM {
		llm, err = llmclient.New(cfg.LLM)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct llm client")
		}
	} else {
		log.Warn().Msg("no llm key configured, running with rule-based fallbacks only")
	}

	embedder := embedding.NewClient(cfg.Embedding)

	store, err := newVectorStore(cfg.Vector)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vector store")
	}

	var layerGenerator layers.Generator
	if useLLM {
		layerGenerator = layers.NewLLMGenerator(llm, cfg.Embedding.BatchSize*512)
	}
	layerMgr := layers.NewManager(fs, layerGenerator, cfg.Layer)

	classifier := classification.New(llm, useLLM, cfg.Optimisation.MaxActionsPerPlan/10)

	syncMgr := syncengine.NewManager(fs, embedder, store, layerMgr, syncengine.DefaultConfig())
	retrievalEngine := retrieval.NewEngine(fs, store, embedder, cfg.Retrieval)

	events := make(chan cortextypes.MemoryEvent, 64)
	sessions := session.NewManager(fs, events)

	extractor := extraction.New(llm, useLLM)
	extractionMgr := extraction.NewManager(fs, sessions, extractor, layerMgr, extraction.DefaultConfig())

	merger := optimizer.NewMerger(llm, useLLM)
	optimizerCfg := optimizer.DefaultConfig()
	optimizerCfg.ConservativeMode = cfg.Optimisation.ConservativeMode
	if cfg.Optimisation.MaxActionsPerPlan > 0 {
		optimizerCfg.MaxActionsPerPlan = cfg.Optimisation.MaxActionsPerPlan
	}
	optimizerMgr := optimizer.NewManager(fs, optimizerCfg, merger, classifier)

	var pendingStore automation.PendingStore
	if cfg.RedisAddr != "" {
		pendingStore, err = automation.NewRedisPendingStore(cfg.RedisAddr, "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis for automation pending store")
		}
	}

	automationCfg := automation.DefaultConfig()
	automationCfg.AutoIndex = cfg.Automation.AutoIndex
	automationCfg.AutoExtract = cfg.Automation.AutoExtract
	automationCfg.IndexOnMessage = cfg.Automation.IndexOnMessage
	automationCfg.IndexOnClose = cfg.Automation.IndexOnClose
	automationCfg.IndexBatchDelaySeconds = cfg.Automation.BatchDelaySecs
	automationCfg.AutoGenerateLayersOnStartup = cfg.Automation.AutoGenerateLayersOnStartup

	automationMgr := automation.NewManager(syncMgr, extractionMgr, syncMgr, pendingStore, automationCfg)

	mcpServer := mcptools.NewServer("cortexmem", "0.1.0", mcptools.Deps{
		Retrieval: retrievalEngine,
		Sessions:  sessions,
		Optimizer: optimizerMgr,
	})
	_ = mcpServer // transport wiring (stdio/HTTP) is left to the caller/deployment

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	automationDone := make(chan error, 1)
	go func() { automationDone <- automationMgr.Run(ctx, events) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutdown signal received")
	case err := <-automationDone:
		if err != nil {
			log.Error().Err(err).Msg("automation manager exited unexpectedly")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	select {
	case <-automationDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("automation manager did not shut down within timeout")
	}

	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close vector store")
		}
	}

	log.Info().Msg("cortexmemd stopped")
}

func newVectorStore(cfg config.VectorConfig) (vectorstore.Store, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("no vector store endpoint configured, using in-process memory store")
		return vectorstore.NewMemoryStore(cfg.Dimension), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSecs)*time.Second)
	defer cancel()
	return vectorstore.NewQdrantStore(ctx, cfg.Endpoint, cfg.Collection, cfg.Dimension, cfg.Metric)
}
