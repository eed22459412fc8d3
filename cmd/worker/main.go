package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/deepresearch/orchestrator/config"
	"github.com/deepresearch/orchestrator/internal/artifact"
	"github.com/deepresearch/orchestrator/internal/claim"
	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/ledger"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/internal/pipeline"
	"github.com/deepresearch/orchestrator/internal/queue/streams"
	"github.com/deepresearch/orchestrator/internal/store"
	"github.com/deepresearch/orchestrator/internal/sweeper"
	"github.com/deepresearch/orchestrator/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.LoadConfig(*cfgPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tel, _, _, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, telemetry.Options{
		ServiceName:  "orchestrator-worker",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		MetricsPort:  cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		log.Fatalf("worker: telemetry setup: %v", err)
	}
	defer tel.Shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
	if err != nil {
		log.Fatalf("worker: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("worker: ping postgres: %v", err)
	}
	st := store.New(db)

	art, err := buildArtifactStore(cfg)
	if err != nil {
		log.Fatalf("worker: build artifact store: %v", err)
	}
	renderer := artifact.NewMarkdownRenderer()

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("worker: redis unavailable, rate limiting and job.rescued events disabled: %v", err)
			rdb = nil
		}
	}

	chat := gateway.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel)
	searchChain := gateway.NewSearchChain(
		searchProviderOrder(cfg.Gateway.Search.DefaultOrder),
		cfg.Gateway.Search.SearxngURL, cfg.Gateway.Search.SerperAPIKey, cfg.Gateway.Search.BraveAPIKey,
		nil, cfg.Gateway.Search.Timeout,
	).WithRateLimiter(gateway.NewRateLimiter(rdb, time.Minute), cfg.Gateway.Search.RateLimitPerMin)
	fetcher := gateway.NewHeadlessFetcher(
		cfg.Gateway.Fetch.ChromedpEnabled, cfg.Gateway.Fetch.TimeoutMS, cfg.Gateway.Fetch.MaxChars,
		cfg.Gateway.Fetch.UserAgent, cfg.Gateway.Fetch.DirectTimeout,
	)
	vectors, err := gateway.NewBleveVectorStore(cfg.Storage.Vector.IndexPath)
	if err != nil {
		log.Fatalf("worker: open warm-note index: %v", err)
	}

	ledgerMgr := ledger.New(st)

	pipelineCfg := pipeline.Config{
		MaxSteps:            cfg.JobEngine.MaxSteps,
		MaxLLMTokens:        cfg.JobEngine.MaxLLMTokens,
		MaxContext:          cfg.JobEngine.MaxContext,
		MaxNotesForSynth:    cfg.JobEngine.MaxNotesForSynth,
		WarmNotesLimit:      cfg.JobEngine.WarmNotesLimit,
		WarmImportanceMin:   cfg.JobEngine.WarmImportanceMin,
		LongformEnabled:     cfg.JobEngine.Features.LongformEnabled,
		Temperature:         cfg.LLM.Temperature,
		SearchResultsPerHit: cfg.Gateway.Search.ResultsPerHit,
	}
	pipelineLogger := log.New(os.Stdout, "[PIPELINE] ", log.LstdFlags)
	executor := pipeline.New(st, ledgerMgr, art, renderer, searchChain, fetcher, chat, chat, vectors, pipelineCfg, pipelineLogger)

	claimer := claim.New(st)

	var notifier sweeper.Notifier
	if rdb != nil {
		registry := streams.NewSchemaRegistry()
		if err := streams.RegisterBaseSchemas(registry); err != nil {
			log.Fatalf("worker: register event schemas: %v", err)
		}
		publisher := streams.NewPublisher(rdb, registry)
		notifier = streams.NewJobEventNotifier(publisher, log.New(os.Stdout, "[EVENTS] ", log.LstdFlags))
	}

	sweeperLogger := log.New(os.Stdout, "[SWEEPER] ", log.LstdFlags)
	sweeperCfg := sweeper.Config{
		StartThresholdSeconds:     cfg.JobEngine.Rescue.StartSeconds,
		HeartbeatThresholdSeconds: cfg.JobEngine.Rescue.HeartbeatSeconds,
		GraceSeconds:              cfg.JobEngine.Rescue.GraceSeconds,
	}
	rescueSweeper := sweeper.New(st, sweeperCfg, notifier, sweeperLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rescueSweeper.Run(ctx, cfg.JobEngine.TickInterval*5)
	}()

	workerLogger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
	sem := make(chan struct{}, cfg.JobEngine.MaxConcurrent)
	ticker := time.NewTicker(cfg.JobEngine.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
			default:
				continue
			}
			job, err := claimer.Next(ctx)
			if err != nil {
				<-sem
				if err != claim.ErrNone {
					workerLogger.Printf("claim next queued job: %v", err)
				}
				continue
			}
			metrics.RecordJobClaimed(ctx)
			wg.Add(1)
			go func(j jobs.Job) {
				defer wg.Done()
				defer func() { <-sem }()
				runCtx := ctx
				if j.Options.MaxDurationSeconds > 0 {
					var cancel context.CancelFunc
					runCtx, cancel = context.WithTimeout(ctx, time.Duration(j.Options.MaxDurationSeconds)*time.Second)
					defer cancel()
				}
				if err := executor.Run(runCtx, j.ID); err != nil {
					workerLogger.Printf("job %s run returned: %v", j.ID, err)
				}
			}(job)
		}
	}
}

func searchProviderOrder(names []string) []gateway.SearchProvider {
	out := make([]gateway.SearchProvider, 0, len(names))
	for _, n := range names {
		out = append(out, gateway.SearchProvider(n))
	}
	return out
}

func buildArtifactStore(cfg *config.Config) (artifact.Store, error) {
	a := cfg.Storage.Artifact
	if a.Bucket == "" {
		return nil, fmt.Errorf("storage.artifact.bucket is required")
	}
	return artifact.NewS3Store(a.Endpoint, a.Region, a.Bucket, a.AccessKeyID, a.SecretAccessKey, a.UseSSL), nil
}
