package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/todo-audit/pipeline/internal/app/auditapi"
	"github.com/todo-audit/pipeline/internal/audit/logstore"
	"github.com/todo-audit/pipeline/internal/platform/dbpool"
	"github.com/todo-audit/pipeline/internal/platform/env"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/platform/s3util"
	"github.com/todo-audit/pipeline/internal/primarydata"
	"github.com/todo-audit/pipeline/internal/snapshot/catalog"
	"github.com/todo-audit/pipeline/internal/snapshot/restore"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("AUDIT_API_ADDR", env.DefaultAuditAPIAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	mongoURI := env.String("MONGODB_URI", env.DefaultMongoURI)
	mongoDB := env.String("MONGODB_DATABASE", env.DefaultMongoDB)
	region := env.String("AWS_REGION", env.DefaultAWSRegion)
	bucket := env.String("SNAPSHOT_BUCKET", "todo-snapshots")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	logs := logstore.NewRepository(pool)
	if err := waitForPostgres(runCtx, pool, logs, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	store, err := s3util.New(region, bucket)
	if err != nil {
		log.Fatal(err)
	}

	primary, err := primarydata.Connect(runCtx, mongoURI, mongoDB)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = primary.Close(closeCtx)
	}()

	snapshots := catalog.New(store)
	coordinator := restore.NewCoordinator(store, primary)
	handler := auditapi.NewHandler(logs, snapshots, coordinator)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			http.Error(w, fmt.Sprintf("postgres ping failed: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Infof("Audit API listening on %s", addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("audit-api graceful shutdown failed: %v", err)
	}
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, repo *logstore.Repository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repo.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Warnf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
