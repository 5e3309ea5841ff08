package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"genqueue/internal/adapter/repo"
	"genqueue/internal/adapter/sqlite"
	"genqueue/internal/backend"
	"genqueue/internal/batching"
	"genqueue/internal/breaker"
	"genqueue/internal/deadletter"
	"genqueue/internal/domain"
	"genqueue/internal/fingerprint"
	"genqueue/internal/http/handlers"
	"genqueue/internal/http/httpapi"
	"genqueue/internal/infra"
	"genqueue/internal/infra/credentials"
	"genqueue/internal/pipeline"
	"genqueue/internal/ratelimit"
	"genqueue/internal/retry"
	"genqueue/internal/scheduler"
	"genqueue/internal/storage"
	"genqueue/internal/worker"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	if err := repo.EnsureSchema(ctx, runner); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema setup failed")
	}

	sink, closeSink := buildSink(ctx, cfg, runner, logger)
	defer closeSink()

	var dlq domain.DeadLetterRepository
	if cfg.EnableDLQ {
		dlq = buildDeadLetters(ctx, cfg, runner, logger)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		MinRequests:      uint32(cfg.BreakerMinRequests),
		Window:           cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
	}, logger)

	orch := retry.New(retry.Options{
		Breakers:    breakers,
		DeadLetters: dlq,
		Sink:        sink,
		Logger:      logger,
	})

	limiter := ratelimit.New(ratelimit.Config{
		PerActorRequests: cfg.PerUserRequestsPerMinute,
		Window:           time.Minute,
		PerScopeRequests: cfg.PerProjectRequestsPerMinute,
		BucketCapacity:   cfg.TokenBucketCapacity,
	}, nil)

	workers := worker.New(worker.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Budget:            scheduler.Budget{Total: cfg.BudgetTotal, Threshold: cfg.BudgetThreshold},
	}, worker.Options{
		Orchestrator: orch,
		Executor:     buildBackend(ctx, cfg, runner, logger).Execute,
		Limiter:      limiter,
		Logger:       logger,
	})

	cache := buildCache(ctx, cfg, logger)
	requests := repo.NewRequestRepository(runner)

	pipe := pipeline.New(pipeline.Options{
		Cache: cache,
		Assembler: batching.NewAssembler(batching.Config{
			MaxBatchSize:        cfg.MaxBatchSize,
			MaxBatchCost:        cfg.MaxBatchCost,
			MaxBatchDuration:    cfg.MaxBatchDuration,
			SimilarityThreshold: cfg.SimilarityThreshold,
		}),
		Pool:   workers,
		Retry:  cfg.RetryConfig(),
		Logger: logger,
		OnDone: settle(context.WithoutCancel(ctx), requests, logger),
	})

	app := &handlers.App{
		DeadLetters: dlq,
		Breakers:    breakers,
		Cache:       cache,
		Pool:        workers,
		Limiter:     limiter,
		Bulk:        pipeline.NewRegistry(pipe),
		Logger:      logger,
	}
	opsLimiter := ratelimit.New(ratelimit.Config{PerActorRequests: 120, Window: time.Minute, PerScopeRequests: 6000, BucketCapacity: 200}, nil)
	server := infra.NewOpsServer(cfg, httpapi.NewRouter(app, logger, opsLimiter), logger)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("worker: ops server stopped")
			stop()
		}
	}()

	go pruneIdle(ctx, limiter)

	workers.Start(ctx)
	in := &intake{
		requests: requests,
		pipeline: pipe,
		logger:   logger,
		limit:    cfg.IntakeBatchLimit,
		poll:     cfg.IntakePollInterval,
		flush:    cfg.FlushInterval,
	}
	if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: intake stopped with error")
	}

	logger.Info().Msg("worker: shutting down")
	stop()
	<-serverDone
	workers.Stop()
	logger.Info().Msg("worker: stopped")
}

func buildSink(ctx context.Context, cfg *infra.Config, runner infra.SQLExecutor, logger infra.Logger) (domain.JobStateSink, func()) {
	jobs := repo.NewJobRepository(runner)
	if cfg.SQLiteJournalPath == "" {
		return jobs, func() {}
	}
	journal, err := sqlite.Open(ctx, cfg.SQLiteJournalPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.SQLiteJournalPath).Msg("worker: journal disabled")
		return jobs, func() {}
	}
	logger.Info().Str("path", cfg.SQLiteJournalPath).Msg("worker: journaling job transitions")
	return sqlite.Fanout{jobs, journal}, func() { _ = journal.Close() }
}

func buildDeadLetters(ctx context.Context, cfg *infra.Config, runner infra.SQLExecutor, logger infra.Logger) domain.DeadLetterRepository {
	var archiver deadletter.Archiver
	switch {
	case cfg.MinioEndpoint != "":
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("worker: minio archive disabled")
			break
		}
		archiver = deadletter.NewObjectArchiver(store, "")
	case cfg.DLQArchivePath != "":
		store, err := storage.NewFileStore(cfg.DLQArchivePath)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: file archive disabled")
			break
		}
		archiver = deadletter.NewObjectArchiver(store, "")
	}
	if cfg.DLQStore == infra.DLQStoreMemory {
		logger.Warn().Msg("worker: dead letters held in memory only")
		return deadletter.NewMemoryStore(archiver, logger)
	}
	if archiver == nil {
		return repo.NewDeadLetterRepository(runner)
	}
	return archivingStore{DeadLetterRepository: repo.NewDeadLetterRepository(runner), archiver: archiver, logger: logger}
}

// archivingStore persists to Postgres and mirrors each entry to object
// storage. Archive failures are logged only.
type archivingStore struct {
	domain.DeadLetterRepository
	archiver deadletter.Archiver
	logger   infra.Logger
}

func (s archivingStore) Append(ctx context.Context, entry domain.DeadLetterEntry) error {
	if err := s.DeadLetterRepository.Append(ctx, entry); err != nil {
		return err
	}
	if err := s.archiver.Archive(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("id", entry.ID).Msg("worker: archive dead letter failed")
	}
	return nil
}

func buildCache(ctx context.Context, cfg *infra.Config, logger infra.Logger) *fingerprint.Cache {
	opts := []fingerprint.Option{fingerprint.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("worker: redis mirror disabled")
		} else {
			opts = append(opts, fingerprint.WithMirror(fingerprint.NewRedisMirror(client, "", cfg.CacheTTL)))
		}
	}
	cache, err := fingerprint.New(fingerprint.Config{
		Capacity:               cfg.CacheMemorySize,
		TTL:                    cfg.CacheTTL,
		NearDuplicateThreshold: cfg.NearDuplicateThreshold,
	}, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: cache setup failed")
	}
	return cache
}

func buildBackend(ctx context.Context, cfg *infra.Config, runner infra.SQLExecutor, logger infra.Logger) *backend.Router {
	var gen backend.Generator = backend.Synthetic{}
	if cfg.BackendURL != "" {
		apiKey := strings.TrimSpace(cfg.BackendAPIKey)
		if apiKey == "" {
			stored, err := credentials.NewStore(runner).BackendAPIKey(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("worker: failed to load backend api key from store")
			}
			apiKey = stored
		}
		client, err := backend.NewHTTPGenerator(backend.HTTPOptions{
			BaseURL:        cfg.BackendURL,
			APIKey:         apiKey,
			Logger:         &logger,
			RequestTimeout: cfg.BackendTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: backend setup failed")
		}
		gen = client
	} else {
		logger.Warn().Msg("worker: backend url missing, using synthetic generation")
	}
	return backend.NewRouter().
		Handle(domain.ContentVideo, gen).
		Handle(domain.ContentImage, gen).
		Handle(domain.ContentAudio, gen)
}

func pruneIdle(ctx context.Context, limiter *ratelimit.Limiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			limiter.Prune()
		}
	}
}
