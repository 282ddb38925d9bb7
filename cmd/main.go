/**
 * @description
 * This is the main entry point for the risk-analysis-service. It consumes
 * 'user created' events from RabbitMQ, runs the risk assessment for each user and
 * publishes the result back to the user events exchange.
 *
 * Key features:
 * - Loads configuration from a .env file and environment variables.
 * - Connects to RabbitMQ with separate consume and publish channels.
 * - Optionally records every published result in PostgreSQL (DATABASE_URL).
 * - Caps redeliveries of failing messages when MAX_REDELIVERIES is set, tracking
 *   attempts in Redis (REDIS_URL) or in process memory.
 * - Serves /health, /ready and /stats for container probes, plus
 *   /assessments/{userID} when the audit store is enabled.
 * - Optionally binds the inbound queue to a source exchange (USER_CREATED_EXCHANGE).
 * - Implements graceful shutdown: in-flight messages are settled before exit.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: For the optional audit database.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - github.com/redis/go-redis/v9: For the shared redelivery counters.
 * - go.uber.org/zap: Structured logging.
 * - github.com/investnethub/risk-analysis-service/pkg/rabbitmq: The broker channel.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/investnethub/risk-analysis-service/internal/api"
	"github.com/investnethub/risk-analysis-service/internal/app"
	"github.com/investnethub/risk-analysis-service/internal/config"
	"github.com/investnethub/risk-analysis-service/internal/store"
	"github.com/investnethub/risk-analysis-service/pkg/logger"
	"github.com/investnethub/risk-analysis-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("cannot create logger: %v", err)
	}

	err = run(cfg, zlog)
	if err != nil {
		zlog.Error("risk-analysis-service stopped with an error", zap.Error(err))
	}
	_ = zlog.Sync()
	if err != nil {
		// non-zero exit lets the orchestrator restart the worker with a fresh connection
		os.Exit(1)
	}
}

// run wires the service and blocks until a shutdown signal or a consumer failure.
// Every resource it opens is released before it returns.
func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	amqpURL := cfg.RabbitMQURL
	if !cfg.HasRabbitMQURL() {
		amqpURL = rabbitmq.BuildURL(cfg.RabbitMQHost, cfg.RabbitMQPort, cfg.RabbitMQUser, cfg.RabbitMQPassword, cfg.RabbitMQVHost)
	}
	broker, err := rabbitmq.Dial(amqpURL, rabbitmq.Options{
		Prefetch:           cfg.PrefetchCount,
		DeadLetterExchange: cfg.DeadLetterExchange,
		ConnectionName:     "risk-analysis-service",
	}, zlog)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer broker.Close()

	if err := broker.DeclareExchange(cfg.Exchange, cfg.ExchangeType); err != nil {
		return fmt.Errorf("declare result exchange %q: %w", cfg.Exchange, err)
	}
	if cfg.UserCreatedExchange != "" && cfg.UserCreatedExchange != cfg.Exchange {
		if err := broker.DeclareExchange(cfg.UserCreatedExchange, cfg.ExchangeType); err != nil {
			return fmt.Errorf("declare source exchange %q: %w", cfg.UserCreatedExchange, err)
		}
	}

	var recorder app.AssessmentRecorder
	var assessments api.AssessmentReader
	if cfg.DatabaseURL != "" {
		dbpool, err := connectDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbpool.Close()
		zlog.Info("Database connection established")

		repo := store.NewPostgresAssessmentRepository(dbpool)
		if err := repo.EnsureAssessmentTable(ctx); err != nil {
			return err
		}
		recorder = repo
		assessments = repo
	}

	var scheduler *app.Scheduler
	var policy *app.RedeliveryPolicy
	if cfg.MaxRedeliveries > 0 {
		var tracker app.RedeliveryTracker
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			zlog.Info("Redis connection established")
			tracker = store.NewRedisRedeliveryTracker(rdb, cfg.RedisKeyPrefix, cfg.RedeliveryTTL)
		} else {
			memTracker := app.NewMemoryRedeliveryTracker(cfg.RedeliveryTTL)
			scheduler = app.NewScheduler(zlog)
			if err := scheduler.SchedulePrune(cfg.RedeliveryPruneSchedule, memTracker); err != nil {
				return fmt.Errorf("invalid REDELIVERY_PRUNE_SCHEDULE: %w", err)
			}
			tracker = memTracker
		}
		policy = app.NewRedeliveryPolicy(cfg.MaxRedeliveries, tracker, zlog)
		zlog.Info("Redelivery cap enabled",
			zap.Int("max_redeliveries", cfg.MaxRedeliveries),
			zap.String("dead_letter_exchange", cfg.DeadLetterExchange),
		)
	}

	// Set up dependencies
	assessor := app.NewSimulatedAssessor(zlog, app.WithDelays(cfg.AssessmentStepDelay, cfg.AssessmentSettleDelay))
	handler := app.NewRiskEventHandler(assessor, app.NewResultCodec(), broker, recorder, app.HandlerConfig{
		Exchange:          cfg.Exchange,
		RoutingKey:        cfg.ResultRoutingKey,
		AssessmentTimeout: cfg.AssessmentTimeout,
		PublishTimeout:    cfg.PublishTimeout,
	}, zlog)
	worker := app.NewWorker(broker, handler, policy, app.WorkerConfig{
		Queue:        cfg.UserCreatedQueue,
		Concurrency:  cfg.WorkerCount,
		BindExchange: cfg.UserCreatedExchange,
		BindingKey:   cfg.UserCreatedBindingKey,
	}, zlog)

	if scheduler != nil {
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.NewRouter(broker, worker, assessments, zlog),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info("Ops server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("Ops server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("Ops server shutdown error", zap.Error(err))
		}
	}()

	zlog.Info("Risk analysis service is running. Waiting for events.",
		zap.String("queue", cfg.UserCreatedQueue),
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.ResultRoutingKey),
	)

	runErr := worker.Run(ctx)
	zlog.Info("Shutting down risk-analysis-service...", zap.Any("stats", worker.Stats()))
	if runErr != nil {
		return fmt.Errorf("consumer stopped unexpectedly: %w", runErr)
	}
	return nil
}

func connectDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	dbConfig.MaxConns = 5
	dbConfig.MinConns = 1
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	dbpool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return dbpool, nil
}
