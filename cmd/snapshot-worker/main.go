package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/todo-audit/pipeline/internal/messaging"
	"github.com/todo-audit/pipeline/internal/platform/env"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/platform/natsutil"
	"github.com/todo-audit/pipeline/internal/platform/s3util"
	"github.com/todo-audit/pipeline/internal/snapshot/uploader"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	region := env.String("AWS_REGION", env.DefaultAWSRegion)
	bucket := env.String("SNAPSHOT_BUCKET", "todo-snapshots")
	metricsAddr := env.String("METRICS_ADDR", ":9092")

	store, err := s3util.New(region, bucket)
	if err != nil {
		log.Fatal(err)
	}
	service := uploader.NewService(store)

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe(messaging.SnapshotSubjects, "snapshot-worker", func(msg *nats.Msg) {
		// audit.snapshot.<snapshotId>, id is the last token
		tokens := strings.Split(msg.Subject, ".")
		snapshotID := tokens[len(tokens)-1]

		uploadCtx, cancel := context.WithTimeout(runCtx, 30*time.Second)
		defer cancel()
		if err := service.Handle(uploadCtx, snapshotID, msg.Data); err != nil {
			if errors.Is(err, uploader.ErrMissingSnapshotID) {
				log.Warnf("discarding snapshot message without id: %s", msg.Subject)
				_ = msg.Term()
				return
			}
			log.Errorf("snapshot upload failed (%s): %v", snapshotID, err)
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		log.Fatal(err)
	}

	go runMetricsServer(metricsAddr, func(context.Context) error {
		if !client.Connected() {
			return errors.New("nats is not connected")
		}
		return nil
	})

	log.Infof("Snapshot worker listening on subject: %s", sub.Subject)
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
