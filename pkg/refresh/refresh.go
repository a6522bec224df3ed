// Package refresh drives the periodic discovery cycle: crawl the gossip
// network, enrich what was found, reconcile against persisted state, and
// publish the result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/discovery"
	"pglobe/pkg/model"
	"pglobe/pkg/reconcile"
	"pglobe/pkg/store"
	"pglobe/pkg/telemetry"
)

// ErrCycleInProgress is returned when a manual trigger overlaps a running
// cycle. Cycles never run concurrently.
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

// Discoverer produces the deduplicated crawl result.
type Discoverer interface {
	Crawl(ctx context.Context) discovery.Result
}

// Enricher attaches stats, latency, geo and credits in place.
type Enricher interface {
	EnrichAll(ctx context.Context, nodes map[string]*model.NodeRecord)
}

// SnapshotSink persists one capture per successful cycle.
type SnapshotSink interface {
	Append(ctx context.Context, snap *model.Snapshot) (int64, error)
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	Discovered int
	Reconciled int
	Rounds     int
	Stats      model.NetworkStats
	Duration   time.Duration
}

// Runner owns the cycle pipeline. The snapshot sink and the broadcast hook
// are optional; nil skips them.
type Runner struct {
	discoverer Discoverer
	enricher   Enricher
	nodes      store.NodeStore
	snapshots  SnapshotSink
	broadcast  func(model.NetworkStats)
	log        *zap.Logger
	now        func() time.Time

	running chan struct{}
}

func NewRunner(d Discoverer, e Enricher, nodes store.NodeStore, snapshots SnapshotSink, broadcast func(model.NetworkStats), log *zap.Logger) *Runner {
	r := &Runner{
		discoverer: d,
		enricher:   e,
		nodes:      nodes,
		snapshots:  snapshots,
		broadcast:  broadcast,
		log:        log,
		now:        time.Now,
		running:    make(chan struct{}, 1),
	}
	return r
}

// RunCycle executes one full cycle. A cycle that discovers nothing at all
// is treated as a total failure: persisted state is left untouched rather
// than marking the whole network offline on what is far more likely an
// outage on our side.
func (r *Runner) RunCycle(ctx context.Context) (CycleResult, error) {
	select {
	case r.running <- struct{}{}:
		defer func() { <-r.running }()
	default:
		return CycleResult{}, ErrCycleInProgress
	}

	start := r.now()
	crawl := r.discoverer.Crawl(ctx)
	if len(crawl.Nodes) == 0 {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return CycleResult{}, fmt.Errorf("discovery produced no nodes (queried %d, responded %d)", crawl.Queried, crawl.Responded)
	}
	telemetry.NodesDiscovered.Set(float64(len(crawl.Nodes)))

	r.enricher.EnrichAll(ctx, crawl.Nodes)

	persisted, err := r.nodes.ListNodes(ctx)
	if err != nil {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return CycleResult{}, fmt.Errorf("list persisted nodes: %w", err)
	}

	now := r.now()
	merged := reconcile.Merge(crawl.Nodes, store.AsMap(persisted), now)
	records := make([]*model.NodeRecord, 0, len(merged))
	for _, rec := range merged {
		records = append(records, rec)
	}
	if err := r.nodes.UpsertNodes(ctx, records); err != nil {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return CycleResult{}, fmt.Errorf("persist reconciled nodes: %w", err)
	}
	telemetry.NodesReconciled.Set(float64(len(records)))

	stats := model.ComputeNetworkStats(records, now)

	if r.snapshots != nil {
		snap := &model.Snapshot{TakenAt: now, Stats: stats, Nodes: records, NodeCount: len(records)}
		if _, err := r.snapshots.Append(ctx, snap); err != nil {
			// Snapshots are trend data; losing one does not fail the cycle.
			r.log.Warn("snapshot append failed", zap.Error(err))
		}
	}

	duration := r.now().Sub(start)
	telemetry.CycleDuration.Observe(duration.Seconds())
	telemetry.CyclesTotal.WithLabelValues("success").Inc()

	if r.broadcast != nil {
		r.broadcast(stats)
	}

	r.log.Info("refresh cycle complete",
		zap.Int("discovered", len(crawl.Nodes)),
		zap.Int("reconciled", len(records)),
		zap.Int("rounds", crawl.Rounds),
		zap.Int("online", stats.OnlineNodes),
		zap.Duration("duration", duration))

	return CycleResult{
		Discovered: len(crawl.Nodes),
		Reconciled: len(records),
		Rounds:     crawl.Rounds,
		Stats:      stats,
		Duration:   duration,
	}, nil
}

// Loop runs cycles at the given interval until the context ends. The first
// cycle starts immediately so the dashboard has data at boot.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// A cycle never outlives its schedule slot; the next tick retries.
		cycleCtx, cancel := context.WithTimeout(ctx, interval)
		if _, err := r.RunCycle(cycleCtx); err != nil && !errors.Is(err, ErrCycleInProgress) {
			r.log.Error("refresh cycle failed", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
