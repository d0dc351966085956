// Command loadtest drives the command handler and a projection thread
// against one of the event store backends and prints throughput.
//
//	LOADTEST_BACKEND=sqlite LOADTEST_N=20000 go run ./cmd/loadtest
//
// For the nats backend run a server with JetStream enabled and point
// NATS_URL at it:
//
//	docker run --net=host nats:latest -js
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/cqrs-go/adapters/nats"
	"github.com/codewandler/cqrs-go/adapters/otel"
	promadapter "github.com/codewandler/cqrs-go/adapters/prometheus"
	"github.com/codewandler/cqrs-go/adapters/sqlite"
	"github.com/codewandler/cqrs-go/core/es"
)

// === Config ===

type config struct {
	Backend      string        `env:"BACKEND" envDefault:"memory"` // memory, sqlite or nats
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"loadtest.db"`
	Tenant       string        `env:"TENANT" envDefault:"loadtest"`
	N            int           `env:"N" envDefault:"50000"`
	BatchSize    int           `env:"B" envDefault:"1000"`
	Workers      int           `env:"WORKERS" envDefault:"4"`
	Snapshots    bool          `env:"SNAPSHOT" envDefault:"true"`
	CacheSize    int           `env:"CACHE_SIZE" envDefault:"1000"`
	PollLimit    int           `env:"POLL_LIMIT" envDefault:"256"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"120s"`
	MetricsAddr  string        `env:"METRICS_ADDR"`
	OtelEndpoint string        `env:"OTEL_ENDPOINT"`
	LogLevel     slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOADTEST_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	checkErr(err)

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Timeout)
	defer cancelTimeout()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("loadtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	fmt.Printf("Backend:  %s\n", cfg.Backend)
	fmt.Printf("Snapshot: %t\n", cfg.Snapshots)
	fmt.Printf("Workers:  %d\n", cfg.Workers)

	// === observability ===

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := promadapter.NewESMetrics(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	shutdownTracing, err := otel.Setup(ctx, "cqrs-loadtest", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	var tracer es.Tracer = es.NopTracer()
	if cfg.OtelEndpoint != "" {
		tracer = otel.NewTracer(nil)
	}

	// === wiring ===

	store, closeStore, err := openStore(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer closeStore()

	userType := UserType
	if !cfg.Snapshots {
		userType = UserNoSnapshotsType
	}
	reader, err := es.NewStreamReader(store, es.WithLog(log), es.WithMetrics(metrics), es.WithTracer(tracer))
	if err != nil {
		return err
	}
	projection := NewEmailChanges()
	runner, err := es.NewRunner(reader, []es.Subscription{{
		Tenant:   cfg.Tenant,
		Thread:   "loadtest",
		Handlers: []es.EventHandler{projection},
		Options:  []es.PollOption{es.WithLimit(cfg.PollLimit)},
	}}, es.WithLog(log), es.WithInterval(100*time.Millisecond))
	if err != nil {
		return err
	}
	defer runner.Close()

	handler, err := es.NewCommandHandler(
		store,
		[]*es.AggregateType{userType},
		es.WithLog(log),
		es.WithMetrics(metrics),
		es.WithTracer(tracer),
		es.WithCacheSize(cfg.CacheSize),
		es.NotifyRunner(runner),
	)
	if err != nil {
		return err
	}
	defer handler.Close()

	runCtx, stopRunner := context.WithCancel(ctx)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(runCtx) }()

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		startAt  = time.Now()
		written  atomic.Int64
		perUser  = cfg.N / cfg.Workers
		statsMu  sync.Mutex
		lastTime = startAt
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			actor := es.Actor{Tenant: cfg.Tenant, ID: fmt.Sprintf("worker-%d", w), Name: "loadtest", Roles: []string{}}
			return writeUser(gctx, handler, actor, perUser, func() {
				n := written.Add(1)
				if n%100 == 0 {
					print(".")
				}
				if n%int64(cfg.BatchSize) == 0 {
					statsMu.Lock()
					defer statsMu.Unlock()
					mu := getMemUsage()
					now := time.Now()
					took := now.Sub(lastTime)
					fmt.Printf(
						" | %5d events | %6d ms | %6d events/s | (%d / %d) MiB mem (sys) |\n",
						cfg.BatchSize,
						took.Milliseconds(),
						int(float64(cfg.BatchSize)/took.Seconds()),
						mu.Alloc/1024/1024,
						mu.Sys/1024/1024,
					)
					lastTime = now
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		stopRunner()
		<-runnerDone
		return err
	}
	writeTook := time.Since(startAt)

	// catch the projection up before stopping the runner
	if err := runner.Drain(ctx); err != nil {
		log.Warn("final drain failed", slog.Any("error", err))
	}
	stopRunner()
	if err := <-runnerDone; err != nil {
		return err
	}

	// === stats ===
	println("")
	println("==========================================")
	runtime.GC()

	took := time.Since(startAt)
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("       writes: %d\n", written.Load())
	fmt.Printf("avg. writes/s: %d\n", int(float64(written.Load())/writeTook.Seconds()))
	fmt.Printf("    projected: %d\n", projection.Total())
	return nil
}

// writeUser creates one user and changes its email n times, pinning each
// command to the version the previous one produced.
func writeUser(ctx context.Context, h *es.CommandHandler, actor es.Actor, n int, progress func()) error {
	if n <= 0 {
		return nil
	}
	cc, err := h.Command(ctx, actor, RegisterUser, Registration{Name: actor.ID, Email: actor.ID + "@host-0.com"})
	if err != nil {
		return err
	}
	progress()

	id, version := cc.Aggregate().ID(), cc.Aggregate().Version()
	for i := 1; i < n; i++ {
		cc, err = h.Command(ctx, actor, ChangeEmail, EmailChange{Email: fmt.Sprintf("%s@host-%d.com", actor.ID, i)},
			es.WithAggregateID(id),
			es.WithExpectedVersion(version),
		)
		if err != nil {
			return err
		}
		version = cc.Aggregate().Version()
		progress()
	}
	return nil
}

// === Backends ===

func openStore(ctx context.Context, cfg config, log *slog.Logger, metrics es.ESMetrics) (es.EventStore, func(), error) {
	switch cfg.Backend {
	case "memory", "":
		return es.NewMemoryStore(es.WithLog(log), es.WithMetrics(metrics)), func() {}, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, Log: log, Metrics: metrics})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "nats":
		s, err := nats.NewEventStore(ctx, nats.StoreConfig{
			Connect:       nats.ConnectDefault(),
			Log:           log,
			Metrics:       metrics,
			SubjectPrefix: "cqrs.loadtest",
			StreamName:    "CQRS_LOADTEST",
			Bucket:        "cqrs_loadtest",
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
