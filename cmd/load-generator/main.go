package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nuid"
	log "github.com/sirupsen/logrus"

	"github.com/todo-audit/pipeline/internal/audit/publisher"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/env"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/platform/natsutil"
)

type config struct {
	NATSURL             string
	Workspaces          int
	Duration            time.Duration
	ActionsPerWorkspace float64
	SnapshotEvery       time.Duration
	MetricsAddr         string
	ConnectTimeout      time.Duration
	MaxGroupsPerDriver  int
	MaxTasksPerGroup    int
}

type group struct {
	ID    string
	Name  string
	Tasks []task
}

type task struct {
	ID   string
	Name string
}

// driver simulates the mutation traffic of one workspace.
type driver struct {
	Index     int
	Workspace string
	User      string

	mu     sync.Mutex
	groups []group
}

var (
	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "audit_loadgen_actions_total",
		Help: "Synthetic mutations generated, by action.",
	}, []string{"action"})

	activeDrivers atomic.Int64
)

func init() {
	metrics.Default.MustRegister(actionsTotal)
	metrics.Default.MustRegister(metrics.NewGaugeFunc(metrics.Opts{
		Name: "audit_loadgen_active_drivers",
		Help: "Current number of workspace drivers generating events.",
	}, func() float64 { return float64(activeDrivers.Load()) }))
}

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	if cfg.Workspaces <= 0 {
		log.Fatal("LOADGEN_WORKSPACES must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATSURL, cfg.ConnectTimeout)
	if err != nil {
		log.Fatalf("channel readiness failed: %v", err)
	}
	defer client.Close()

	jsPublisher := natsutil.JetStreamPublisher{JS: client.JS}
	pub := publisher.New(jsPublisher.Publish)
	pub.Ready = client.Connected

	log.Infof("load generator initialized: workspaces=%d duration=%s rate_per_workspace=%.2f ev/s snapshot_every=%s",
		cfg.Workspaces, cfg.Duration.String(), cfg.ActionsPerWorkspace, cfg.SnapshotEvery.String())

	if cfg.SnapshotEvery > 0 {
		go runSnapshotTriggers(ctx, pub, cfg.SnapshotEvery)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workspaces; i++ {
		d := &driver{
			Index:     i,
			Workspace: fmt.Sprintf("load-%04d", i),
			User:      fmt.Sprintf("loadgen-user-%04d", i),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.run(ctx, pub, cfg)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	log.Info("load run complete")
}

func loadConfig() config {
	return config{
		NATSURL:             env.String("NATS_URL", env.DefaultNATSURL),
		Workspaces:          env.Int("LOADGEN_WORKSPACES", 50),
		Duration:            env.Duration("LOADGEN_DURATION", 10*time.Minute),
		ActionsPerWorkspace: envFloat("LOADGEN_ACTIONS_PER_WORKSPACE_PER_SECOND", 0.5),
		SnapshotEvery:       env.Duration("LOADGEN_SNAPSHOT_EVERY", 2*time.Minute),
		MetricsAddr:         env.String("LOADGEN_METRICS_ADDR", ":9099"),
		ConnectTimeout:      env.Duration("LOADGEN_CONNECT_TIMEOUT", 2*time.Minute),
		MaxGroupsPerDriver:  env.Int("LOADGEN_MAX_GROUPS", 5),
		MaxTasksPerGroup:    env.Int("LOADGEN_MAX_TASKS_PER_GROUP", 20),
	}
}

func (d *driver) run(ctx context.Context, pub *publisher.Publisher, cfg config) {
	activeDrivers.Add(1)
	defer activeDrivers.Add(-1)

	interval := time.Second
	if cfg.ActionsPerWorkspace > 0 {
		interval = time.Duration(float64(time.Second) / cfg.ActionsPerWorkspace)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(d.Index*7)))
	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runAction(pub, cfg, rng)
		}
	}
}

func (d *driver) runAction(pub *publisher.Publisher, cfg config, rng *rand.Rand) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.groups) == 0 {
		d.createGroup(pub, rng)
		return
	}

	g := &d.groups[rng.Intn(len(d.groups))]
	choice := rng.Float64()
	switch {
	case choice < 0.10 && len(d.groups) < cfg.MaxGroupsPerDriver:
		d.createGroup(pub, rng)
	case choice < 0.40 || len(g.Tasks) == 0:
		if len(g.Tasks) >= cfg.MaxTasksPerGroup {
			d.updateTask(pub, g, rng)
			return
		}
		d.createTask(pub, g, rng)
	case choice < 0.60:
		d.updateTask(pub, g, rng)
	case choice < 0.75:
		d.changeStatus(pub, g, rng)
	case choice < 0.85:
		d.updateProgress(pub, g, rng)
	case choice < 0.95:
		d.addComment(pub, g, rng)
	default:
		d.deleteTask(pub, g, rng)
	}
}

func (d *driver) createGroup(pub *publisher.Publisher, rng *rand.Rand) {
	g := group{ID: nuid.Next(), Name: fmt.Sprintf("Load Group %d", rng.Intn(1_000_000))}
	d.groups = append(d.groups, g)
	pub.PublishEvent(contracts.GroupChange{
		EventType: contracts.EventGroupCreated,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Created group '%s'", g.Name),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("group_create").Inc()
}

func (d *driver) createTask(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	t := task{ID: nuid.Next(), Name: fmt.Sprintf("Load Task %d", rng.Intn(1_000_000))}
	g.Tasks = append(g.Tasks, t)
	pub.PublishEvent(contracts.TaskChange{
		EventType: contracts.EventTaskCreated,
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Created task '%s'", t.Name),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("task_create").Inc()
}

func (d *driver) updateTask(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	if len(g.Tasks) == 0 {
		return
	}
	t := &g.Tasks[rng.Intn(len(g.Tasks))]
	t.Name = fmt.Sprintf("Updated Load Task %d", rng.Intn(1_000_000))
	pub.PublishEvent(contracts.TaskChange{
		EventType: contracts.EventTaskUpdated,
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Renamed task to '%s'", t.Name),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("task_update").Inc()
}

func (d *driver) changeStatus(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	if len(g.Tasks) == 0 {
		return
	}
	statuses := []string{"todo", "in-progress", "done"}
	t := g.Tasks[rng.Intn(len(g.Tasks))]
	pub.PublishEvent(contracts.TaskChange{
		EventType: contracts.EventStatusChanged,
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Status changed to '%s'", statuses[rng.Intn(len(statuses))]),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("status_change").Inc()
}

func (d *driver) updateProgress(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	if len(g.Tasks) == 0 {
		return
	}
	t := g.Tasks[rng.Intn(len(g.Tasks))]
	pub.PublishEvent(contracts.TaskChange{
		EventType: contracts.EventProgressUpdated,
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Progress updated to %d%%", rng.Intn(101)),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("progress_update").Inc()
}

func (d *driver) addComment(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	if len(g.Tasks) == 0 {
		return
	}
	t := g.Tasks[rng.Intn(len(g.Tasks))]
	pub.PublishEvent(contracts.CommentAdded{
		CommentID: nuid.Next(),
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Commented: note %d", rng.Intn(1_000_000)),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("comment_add").Inc()
}

func (d *driver) deleteTask(pub *publisher.Publisher, g *group, rng *rand.Rand) {
	if len(g.Tasks) == 0 {
		return
	}
	idx := rng.Intn(len(g.Tasks))
	t := g.Tasks[idx]
	g.Tasks = append(g.Tasks[:idx], g.Tasks[idx+1:]...)
	pub.PublishEvent(contracts.TaskChange{
		EventType: contracts.EventTaskDeleted,
		TaskID:    t.ID,
		TaskName:  t.Name,
		GroupID:   g.ID,
		GroupName: g.Name,
		Changes:   fmt.Sprintf("Deleted task '%s'", t.Name),
		User:      d.User,
		Workspace: d.Workspace,
	}.Event())
	actionsTotal.WithLabelValues("task_delete").Inc()
}

func runSnapshotTriggers(ctx context.Context, pub *publisher.Publisher, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pub.PublishEvent(contracts.DomainEvent{
				EventType: contracts.EventSnapshotTrigger,
				Payload: contracts.EventPayload{
					Entity:   contracts.EntitySystem,
					EntityID: "scheduler",
					Changes:  "Scheduled snapshot trigger",
					User:     "scheduler",
				},
			})
			actionsTotal.WithLabelValues("snapshot_trigger").Inc()
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}

func envFloat(key string, fallback float64) float64 {
	raw := env.String(key, "")
	if raw == "" {
		return fallback
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
		return fallback
	}
	return v
}
