package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/todo-audit/pipeline/internal/audit/logstore"
	"github.com/todo-audit/pipeline/internal/audit/publisher"
	"github.com/todo-audit/pipeline/internal/audit/sink"
	"github.com/todo-audit/pipeline/internal/messaging"
	"github.com/todo-audit/pipeline/internal/platform/dbpool"
	"github.com/todo-audit/pipeline/internal/platform/env"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/platform/natsutil"
	"github.com/todo-audit/pipeline/internal/primarydata"
	"github.com/todo-audit/pipeline/internal/snapshot/capture"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	mongoURI := env.String("MONGODB_URI", env.DefaultMongoURI)
	mongoDB := env.String("MONGODB_DATABASE", env.DefaultMongoDB)
	metricsAddr := env.String("METRICS_ADDR", ":9091")

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repository := logstore.NewRepository(pool)
	if err := waitForPostgres(runCtx, pool, repository, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	primary, err := primarydata.Connect(runCtx, mongoURI, mongoDB)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = primary.Close(closeCtx)
	}()

	jsPublisher := natsutil.JetStreamPublisher{JS: client.JS}
	notePublisher := publisher.New(jsPublisher.Publish)
	notePublisher.Ready = client.Connected

	captureSvc := capture.NewService(primary, jsPublisher.Publish)
	captureSvc.Note = notePublisher.PublishEvent

	service := sink.NewService(repository)
	service.TriggerSnapshot = captureSvc.CaptureAsync

	sub, err := client.JS.QueueSubscribe(messaging.EventSubjects, "event-sink", func(msg *nats.Msg) {
		insertCtx, cancel := context.WithTimeout(runCtx, 3*time.Second)
		defer cancel()
		if err := service.Handle(insertCtx, msg.Data); err != nil {
			if errors.Is(err, sink.ErrInvalidEventPayload) {
				log.Warnf("discarding invalid event payload: %v", err)
				_ = msg.Term()
				return
			}
			if errors.Is(err, sink.ErrUnsupportedEventType) {
				log.Warnf("discarding unsupported event type: %v", err)
				_ = msg.Term()
				return
			}
			log.Errorf("event persistence failed: %v", err)
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		log.Fatal(err)
	}

	go runMetricsServer(metricsAddr, func(ctx context.Context) error {
		if !client.Connected() {
			return errors.New("nats is not connected")
		}
		checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		return pool.Ping(checkCtx)
	})

	log.Infof("Event sink listening on subject: %s", sub.Subject)
	<-runCtx.Done()
	_ = sub.Drain()
}

func runMetricsServer(addr string, ready func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, repository *logstore.Repository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
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
