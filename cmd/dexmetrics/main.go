package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"DexMetrics/internal/cache"
	"DexMetrics/internal/changeset"
	"DexMetrics/internal/config"
	"DexMetrics/internal/core"
	"DexMetrics/internal/ingestion"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/persistence"
	"DexMetrics/internal/projection"
	"DexMetrics/internal/query"
	"DexMetrics/internal/server"
	chsink "DexMetrics/internal/sink/clickhouse"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger("dexmetrics", cfg.LogLevel)
	log.Info().Msg("DexMetrics starting")

	if os.Getenv("GOGC") == "" {
		log.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("DexMetrics stopped")
	}
	log.Info().Msg("DexMetrics shutdown complete")
}

func run(cfg config.Config, log zerolog.Logger) error {
	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ref, err := config.LoadReference(cfg.ReferenceFile)
	if err != nil {
		return err
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	log.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.Module(log, "migrate"))
	if err := migrator.Up(ctx); err != nil {
		return err
	}

	// --- Observability ---
	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Dedupe tiers: Redis (optional), then the unit log ---
	tiers := []core.UnitChecker{}
	var redisChecker *cache.RedisUnitChecker
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisChecker, err = cache.NewRedisUnitChecker(rdb, "", cfg.RedisTTL)
		if err != nil {
			return err
		}
		tiers = append(tiers, redisChecker)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Redis dedupe tier enabled")
	}
	tiers = append(tiers, persistence.NewPostgresUnitChecker(db))

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops.
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.Output, cfg.ProjectionChanSize)

	engine := core.NewEngine(config.EngineConfig(cfg, ref), persistChan, projectionCoreChan, metrics,
		observability.Module(log, "core"), tiers...)
	defer engine.Close()

	checkpoints := persistence.NewCheckpointManager(db)
	cp := newCheckpointer(engine, checkpoints, cfg.CheckpointInterval, cfg.CheckpointsKept, metrics,
		observability.Module(log, "checkpoint"))

	// Workers outlive ctx: they stop when their input closes, after the
	// engine has stopped, so every committed unit reaches the log.
	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	errChan := make(chan error, 16)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.Module(log, "persistence"))
	persistWorker.OnFlushed(func(units []persistence.UnitRow) {
		cp.onFlushed(units)
		if redisChecker != nil {
			keys := make([]string, len(units))
			for i, u := range units {
				keys[i] = u.Key()
			}
			if err := redisChecker.MarkProcessed(workerCtx, keys...); err != nil {
				log.Warn().Err(err).Msg("redis mark failed")
			}
		}
	})
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	// 2. Projection worker
	projectionChan := make(chan core.Output, cfg.ProjectionChanSize)
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.Module(log, "projection"))
	workers.Add(1)
	go func() {
		defer workers.Done()
		projWorker.Run(workerCtx)
	}()

	// 3. ClickHouse snapshot sink (optional)
	var analyticsChan chan core.Output
	if cfg.ClickHouseDSN != "" {
		conn, err := chsink.Connect(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := chsink.EnsureSchema(ctx, conn); err != nil {
			return err
		}
		analyticsChan = make(chan core.Output, cfg.ProjectionChanSize)
		sink := chsink.NewSnapshotWriter(conn, analyticsChan, chsink.Config{}, metrics, observability.Module(log, "clickhouse"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			sink.Run(workerCtx)
		}()
		log.Info().Msg("ClickHouse snapshot sink enabled")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		return err
	}

	// 4. Changeset publisher
	publishChan := make(chan *changeset.Changeset, cfg.ProjectionChanSize)
	publisher := ingestion.NewChangesetPublisher(js, publishChan, metrics, observability.Module(log, "publisher"))
	workers.Add(1)
	go func() {
		defer workers.Done()
		publisher.Run(workerCtx)
	}()

	// 5. Output fan-out
	workers.Add(1)
	go func() {
		defer workers.Done()
		fanOutputs(projectionCoreChan, projectionChan, publishChan, analyticsChan, metrics)
	}()

	// --- Recovery: restore checkpoint + replay the unit log ---
	healthChecker.SetStage(observability.StageRecovering)
	from, err := restore(ctx, engine, checkpoints, log)
	if err != nil {
		return err
	}
	replayed, err := replayUnitLog(ctx, persistWorker.Writer(), engine, from, metrics, log)
	if err != nil {
		return err
	}
	if last, ok := engine.LastUnit(); ok {
		healthChecker.SetLastUnit(last)
		log.Info().Int("replayed", replayed).Uint64("unit", last).Msg("recovery complete")
	}

	// --- Unit channel from NATS and manual injection to the engine ---
	rawChan := make(chan ingestion.RawUnit, cfg.UnitChanSize)
	subscriber := ingestion.NewUnitSubscriber(js, rawChan, observability.Module(log, "nats"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultConsumerConfig()); err != nil {
		return err
	}

	// 6. Engine loop
	cpReqs := make(chan checkpointRequest)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runUnitLoop(ctx, rawChan, cpReqs, engine, cp, healthChecker, metrics, observability.Module(log, "loop"))
	}()

	// 7. gRPC server + HTTP gateway
	grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Query:    query.NewQueryService(db),
		Injector: ingestion.NewUnitInjector(rawChan),
		Checkpoint: func(rctx context.Context) (uint64, error) {
			req := checkpointRequest{reply: make(chan checkpointReply, 1)}
			select {
			case cpReqs <- req:
			case <-rctx.Done():
				return 0, rctx.Err()
			}
			select {
			case r := <-req.reply:
				return r.unit, r.err
			case <-rctx.Done():
				return 0, rctx.Err()
			}
		},
		Rebuild: func(rctx context.Context) error {
			return projection.RebuildProjections(rctx, db, observability.Module(log, "projection"))
		},
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Log:           observability.Module(log, "server"),
	})
	if err != nil {
		return err
	}
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 8. Prometheus metrics server
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr, log)
	}()

	healthChecker.SetStage(observability.StageServing)
	grpcServer.SetServing(true)
	log.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("DexMetrics ready")

	// --- Wait for shutdown signal ---
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	// --- Graceful shutdown ---
	// Stop intake, let the engine finish its unit, drain the workers, then
	// take the final checkpoint against a fully flushed log.
	healthChecker.SetStage(observability.StageDraining)
	grpcServer.SetServing(false)
	cancel()
	subscriber.Stop()
	<-loopDone

	close(persistChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("workers did not drain in time")
		stopWorkers()
		<-drained
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if n, err := cp.take(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final checkpoint failed")
	} else {
		log.Info().Uint64("unit", n).Msg("final checkpoint saved")
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
