package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	contacthandler "contactlink/internal/contact/handler"
	contactmetrics "contactlink/internal/contact/metrics"
	contactservice "contactlink/internal/contact/service"
	contactstore "contactlink/internal/contact/store"
	"contactlink/internal/platform/config"
	"contactlink/internal/platform/httpserver"
	"contactlink/internal/platform/logger"
	platformredis "contactlink/internal/platform/redis"
	"contactlink/pkg/platform/audit"
	auditkafka "contactlink/pkg/platform/audit/kafka"
	auditmemory "contactlink/pkg/platform/audit/store/memory"
	auditpostgres "contactlink/pkg/platform/audit/store/postgres"
	auditworker "contactlink/pkg/platform/audit/worker"
	"contactlink/pkg/platform/middleware/metadata"
	"contactlink/pkg/platform/middleware/requestid"
	"contactlink/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal/contact.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db       *sql.DB
		storeTx  contactservice.StoreTx
		auditSvc contactservice.AuditPublisher
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := contactstore.RunMigrations(ctx, db); err != nil {
			log.Error("run migrations", "error", err)
			os.Exit(1)
		}
		storeTx = newContactPostgresTx(db)
		auditSvc = audit.NewPublisher(auditpostgres.New(db))
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		storeTx = contactservice.NewMemoryTx(contactstore.NewInMemory())
		auditSvc = audit.NewPublisher(auditmemory.New())
	}

	opts := []contactservice.Option{
		contactservice.WithLogger(log),
		contactservice.WithMetrics(contactmetrics.New()),
		contactservice.WithAuditPublisher(auditSvc),
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, contactservice.WithViewCache(
			contactstore.NewRedisViewCache(redisClient.Client, cfg.ViewCacheTTL)))
	}

	svc := contactservice.New(storeTx, opts...)

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	contacthandler.New(svc, log).Register(r)

	srv := httpserver.New(cfg.Addr, r)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting contactlink", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if db != nil && len(cfg.Kafka.Brokers) > 0 {
		publisher, err := auditkafka.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		relay := auditworker.New(db, publisher, log)
		group.Go(func() error {
			log.Info("starting audit outbox relay", "brokers", cfg.Kafka.Brokers)
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
