package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/analyzer"
	"github.com/mohans/mineru-api/internal/config"
	"github.com/mohans/mineru-api/internal/health"
	"github.com/mohans/mineru-api/internal/task"
	"github.com/mohans/mineru-api/internal/transport"
	"github.com/mohans/mineru-api/internal/workerpool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("mineru-api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadCfg(ctx)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	staging, err := task.NewStaging(cfg.ScratchDir)
	if err != nil {
		return err
	}

	store, probe, closeStore, err := openStore(ctx, cfg, staging)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	defer closeStore()

	mineru := analyzer.NewMinerU(analyzer.Config{
		Binary: cfg.Binary,
		Method: cfg.ParseMethod,
		Logger: logger.With("component", "analyzer"),
	})
	exec := task.NewExecutor(mineru, cfg.AnalysisTimeout, logger)

	sched, stopSched, err := startScheduler(cfg, exec, store, logger)
	if err != nil {
		return fmt.Errorf("start %s executor: %w", cfg.Executor, err)
	}

	dispatcher, err := task.NewDispatcher(store, staging, sched, logger)
	if err != nil {
		return err
	}

	httpServer := transport.NewHttpServer(transport.ServerConfig{
		Host:      cfg.Host,
		Port:      cfg.Port,
		BodyLimit: cfg.BodyLimit,
		AccessLog: true,
	}, logger)
	httpServer.SetupRoute(transport.NewTaskHandler(dispatcher, store, sched))
	httpServer.Start()

	janitor := task.NewJanitor(store, staging, cfg.Retention, cfg.JanitorInterval, logger.With("component", "janitor"))
	go janitor.Run(ctx)

	var hs *health.Server
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		hs = health.NewServer(logger)
		go func() {
			if err := hs.Serve(lis); err != nil {
				logger.Error("grpc health stopped", "error", err)
			}
		}()
		if probe != nil {
			go hs.Watch(ctx, probe, 15*time.Second)
		}
	}

	logger.Info("mineru-api started",
		"addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"executor", cfg.Executor,
		"store", cfg.Driver,
		"workers", cfg.Workers,
	)

	// Gracefully shutdown
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if hs != nil {
		hs.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown http server", "error", err)
	}
	if err := stopSched(shutdownCtx); err != nil {
		logger.Error("Failed to stop scheduler", "error", err)
	}
	logger.Info("mineru-api stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, staging *task.Staging) (asyncx.Store, health.Probe, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		store := asyncx.NewMemoryStore(asyncx.MemoryOptions{
			Capacity: cfg.Capacity,
			TTL:      cfg.Retention,
			OnEvict:  func(id string) { _ = staging.Release(id) },
		})
		return store, nil, func() {}, nil

	case config.DriverSQLite, config.DriverPostgres:
		driver, dialect := "sqlite", asyncx.DialectSQLite
		if cfg.Driver == config.DriverPostgres {
			driver, dialect = "pgx", asyncx.DialectPostgres
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Driver == config.DriverSQLite {
			db.SetMaxOpenConns(1)
		}
		store := asyncx.NewSQLStore(db, dialect)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return store, db.PingContext, func() { db.Close() }, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, err
		}
		// the hash TTL only catches tasks that never finish; the janitor
		// handles normal retention
		store := asyncx.NewRedisStore(rdb, asyncx.RedisOptions{TTL: 2 * cfg.Retention})
		probe := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return store, probe, func() { rdb.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func startScheduler(cfg config.Config, exec *task.Executor, store asyncx.Store, logger *slog.Logger) (task.Scheduler, func(context.Context) error, error) {
	switch cfg.Executor {
	case config.ExecutorAsynq:
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		processor := asyncx.NewProcessor(redisOpt, store, asyncx.ProcessorConfig{
			Concurrency:     cfg.Workers,
			ShutdownTimeout: 25 * time.Second,
			Logger:          logger,
		})
		if err := processor.Start(task.NewAnalyzeMux(exec)); err != nil {
			return nil, nil, err
		}
		client := asyncx.NewClient(redisOpt, asyncx.ClientOptions{Timeout: cfg.AnalysisTimeout})
		stop := func(context.Context) error {
			processor.Shutdown()
			return client.Close()
		}
		return task.NewAsynqScheduler(client), stop, nil

	default:
		pool, err := workerpool.New(cfg.Workers,
			workerpool.WithQueueLimit(cfg.QueueLimit),
			workerpool.WithLogger(logger.With("component", "workerpool")),
		)
		if err != nil {
			return nil, nil, err
		}
		sched := task.NewLocalScheduler(pool, exec, store, logger)
		return sched, sched.Stop, nil
	}
}
