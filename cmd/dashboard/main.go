package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pglobe/pkg/api"
	"pglobe/pkg/discovery"
	"pglobe/pkg/enrich"
	"pglobe/pkg/logging"
	"pglobe/pkg/prpc"
	"pglobe/pkg/refresh"
	"pglobe/pkg/snapshot"
	"pglobe/pkg/store"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	seeds := flag.String("seeds", "", "comma-separated seed node addresses (host:port)")
	storeType := flag.String("store", "memory", "store backend: memory|consul|mysql")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	snapshotPath := flag.String("snapshot-db", "pglobe-snapshots.db", "sqlite snapshot file; empty disables snapshots")
	retention := flag.Duration("snapshot-retention", 7*24*time.Hour, "drop snapshots older than this; 0 keeps everything")
	interval := flag.Duration("interval", 5*time.Minute, "refresh cycle interval")
	flag.Parse()

	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	log, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	seedList := splitList(*seeds)
	if env := os.Getenv("SEED_NODES"); len(seedList) == 0 && env != "" {
		seedList = splitList(env)
	}
	if len(seedList) == 0 {
		log.Fatal("no seed nodes configured; pass -seeds or set SEED_NODES")
	}

	var nodes store.NodeStore
	switch *storeType {
	case "memory":
		nodes = store.NewMemoryStore()
	case "consul":
		cs, err := store.NewConsulStore(*consulAddr)
		if err != nil {
			log.Fatal("consul store init failed", zap.Error(err))
		}
		nodes = cs
	case "mysql":
		ms, err := store.NewMySQLStore()
		if err != nil {
			log.Fatal("mysql store init failed", zap.Error(err))
		}
		nodes = ms
	default:
		log.Fatal("unsupported store type", zap.String("store", *storeType))
	}

	var sink *snapshot.Sink
	if *snapshotPath != "" {
		var err error
		sink, err = snapshot.Open(*snapshotPath)
		if err != nil {
			log.Fatal("snapshot store init failed", zap.Error(err))
		}
		defer func() { _ = sink.Close() }()
	}

	client := prpc.NewClient(log)
	crawler := discovery.NewCrawler(client, discovery.Config{Seeds: seedList}, log)
	enricher := enrich.NewEnricher(
		client,
		enrich.NewHTTPGeoResolver(log),
		enrich.NewHTTPCreditsSource(log),
		latencyMeasurer(log),
		enrich.Config{},
		log,
	)

	hub := api.NewHub(log)
	// A nil *Sink stored in the interface would not compare equal to nil
	// inside the runner, so only assign when a sink exists.
	var runnerSink refresh.SnapshotSink
	if sink != nil {
		runnerSink = sink
	}
	runner := refresh.NewRunner(crawler, enricher, nodes, runnerSink, hub.Broadcast, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runner.Loop(ctx, *interval)
	if sink != nil && *retention > 0 {
		go pruneLoop(ctx, sink, *retention, log)
	}

	mux := http.NewServeMux()
	handler := &api.Handler{Nodes: nodes, Refresher: runner, Hub: hub, Log: log}
	if sink != nil {
		handler.Snapshots = sink
	}
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("dashboard listening",
		zap.String("addr", *addr),
		zap.String("store", *storeType),
		zap.Int("seeds", len(seedList)),
		zap.Duration("interval", *interval))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pruneLoop(ctx context.Context, sink *snapshot.Sink, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		dropped, err := sink.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn("snapshot prune failed", zap.Error(err))
		} else if dropped > 0 {
			log.Info("snapshots pruned", zap.Int64("dropped", dropped))
		}
	}
}

// latencyMeasurer builds the multi-region measurer from LATENCY_PROXIES,
// formatted as name=url pairs separated by commas. Without proxies the
// enricher falls back to direct probing on its own.
func latencyMeasurer(log *zap.Logger) enrich.LatencyMeasurer {
	var regions []enrich.RegionProxy
	for _, pair := range splitList(os.Getenv("LATENCY_PROXIES")) {
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			log.Warn("skipping malformed latency proxy entry", zap.String("entry", pair))
			continue
		}
		regions = append(regions, enrich.RegionProxy{Name: name, Endpoint: url})
	}
	if len(regions) == 0 {
		return nil
	}
	return enrich.NewProxyMeasurer(regions, log)
}
