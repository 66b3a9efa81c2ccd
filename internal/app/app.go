// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/markdave123-py/docpipe/internal/api/handlers"
	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	db "github.com/markdave123-py/docpipe/internal/core/database"
	"github.com/markdave123-py/docpipe/internal/core/embedding"
	"github.com/markdave123-py/docpipe/internal/core/ingestion_engine"
	"github.com/markdave123-py/docpipe/internal/core/llm"
	objectclient "github.com/markdave123-py/docpipe/internal/core/object-client"
	"github.com/markdave123-py/docpipe/internal/core/retrieval"
	"github.com/markdave123-py/docpipe/internal/core/retry"
)

type App struct {
	Store        core.Store
	ObjectClient core.ObjectClient
	DocProcessor ingestion_engine.Ingestor
	Retriever    *retrieval.Retriever
	Server       *Server

	workers int
	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{workers: cfg.IngestWorkers}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := db.Open(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)
	log.Printf("Database (%s) initialized and ready.", cfg.StoreDriver)

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	if c, isCloser := objClient.(io.Closer); isCloser {
		a.closers = append(a.closers, c)
	}
	log.Println("Object client initialized and ready.")

	embedder, llmProvider, err := a.newProviders(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{Retries: cfg.RetryCount, InitialDelay: cfg.RetryInitialDelay, Jitter: 100 * time.Millisecond}
	embedClient := embedding.NewClient(embedder, embedding.Config{
		Dim:         cfg.EmbedDim,
		Concurrency: cfg.EmbedConcurrency,
		RPS:         cfg.EmbedRPS,
		Retry:       policy,
	})

	enricher, err := newEnricher(cfg)
	if err != nil {
		return nil, err
	}

	useReadability := false
	documentExtractor := ingestion_engine.NewDocconvExtractor(useReadability)

	ingCfg := ingestion_engine.DefaultIngestConfig()
	ingCfg.BatchSize = cfg.IngestBatchSize
	ingCfg.EmbedBatchSize = cfg.EmbedBatchSize
	ingCfg.Concurrency = cfg.IngestConcurrency
	ingCfg.Retry = policy
	ingCfg.FetchRetry = policy

	docIngestor := ingestion_engine.NewDocumentIngestor(store, store, objClient, embedClient, documentExtractor, enricher, ingCfg)
	a.DocProcessor = docIngestor

	a.Retriever = retrieval.NewRetriever(embedClient, store)
	builder := retrieval.NewContextBuilder(llmProvider, cfg.SummarizeThreshold)

	a.Server = NewServer(cfg,
		handlers.NewDocumentHandler(store, docIngestor),
		handlers.NewChatHandler(a.Retriever, builder, llmProvider),
	)

	ok = true
	return a, nil
}

func (a *App) newProviders(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.LLMProvider, error) {
	switch cfg.AIProvider {
	case "openai":
		embedder, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		gen, err := llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		return embedder, gen, nil

	default:
		gemini, err := llm.NewGemini(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize gemini, %w", err)
		}
		a.closers = append(a.closers, gemini)
		return gemini, gemini, nil
	}
}

func newEnricher(cfg *config.Config) (*ingestion_engine.Enricher, error) {
	opts := []ingestion_engine.EnricherOption{
		ingestion_engine.WithTokenCounter(ingestion_engine.NewTokenCounter(cfg.Tokenizer)),
	}
	if cfg.TopicsFile != "" {
		topics, err := ingestion_engine.LoadTopicClassifier(cfg.TopicsFile)
		if err != nil {
			return nil, fmt.Errorf("load topics: %w", err)
		}
		opts = append(opts, ingestion_engine.WithTopicClassifier(topics))
	}
	return ingestion_engine.NewEnricher(opts...), nil
}

// Run starts the ingestion workers and the HTTP server, and blocks until ctx
// is done. In-flight documents are allowed to finish their current step.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	a.DocProcessor.Start(workerCtx, a.workers)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	stopWorkers()
	a.DocProcessor.Wait()
	return serveErr
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}
