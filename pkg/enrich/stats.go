// Package enrich attaches best-effort data to already-discovered nodes:
// runtime stats, latency, geolocation and on-chain credits. Everything
// here is strictly additive: a node that answers nothing keeps its
// gossip-derived fields and is never demoted for failing enrichment.
package enrich

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/model"
	"pglobe/pkg/prpc"
)

// NodeClient is the slice of the RPC client enrichment needs.
type NodeClient interface {
	GetStats(ctx context.Context, addr string, timeout time.Duration) (model.StatsResponse, bool)
	Probe(ctx context.Context, host string, knownPort int, timeout time.Duration) (prpc.ProbeResult, bool)
}

// LatencyMeasurer is the batched multi-region measurement path.
type LatencyMeasurer interface {
	MeasureAll(ctx context.Context, addrs []string) map[string]map[string]float64
}

// Config bounds one enrichment pass.
type Config struct {
	BatchSize   int
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	return c
}

// Enricher runs the post-discovery pass. Geo, credits and latency
// collaborators are optional; nil skips that dimension.
type Enricher struct {
	client  NodeClient
	geo     GeoResolver
	credits CreditsSource
	latency LatencyMeasurer
	cfg     Config
	log     *zap.Logger
}

func NewEnricher(client NodeClient, geo GeoResolver, credits CreditsSource, latency LatencyMeasurer, cfg Config, log *zap.Logger) *Enricher {
	return &Enricher{
		client:  client,
		geo:     geo,
		credits: credits,
		latency: latency,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// EnrichAll mutates the records in place. It runs only after discovery has
// produced the full set; each worker owns exactly one record, so no record
// is touched by two goroutines.
func (e *Enricher) EnrichAll(ctx context.Context, nodes map[string]*model.NodeRecord) {
	records := make([]*model.NodeRecord, 0, len(nodes))
	for _, rec := range nodes {
		records = append(records, rec)
	}

	// Batched multi-region measurement first: one call per region covers
	// every address, so it is the cheapest and the most trusted source.
	measured := e.measureProxied(ctx, records)

	for start := 0; start < len(records); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		var wg sync.WaitGroup
		for _, rec := range records[start:end] {
			wg.Add(1)
			go func(rec *model.NodeRecord) {
				defer wg.Done()
				e.enrichOne(ctx, rec, measured[rec])
			}(rec)
		}
		wg.Wait()
	}
}

// measureProxied applies proxy measurements and reports which records got
// one, so enrichOne knows whether a direct probe fallback is warranted.
func (e *Enricher) measureProxied(ctx context.Context, records []*model.NodeRecord) map[*model.NodeRecord]bool {
	measured := make(map[*model.NodeRecord]bool, len(records))
	if e.latency == nil {
		return measured
	}
	byAddr := make(map[string]*model.NodeRecord, len(records))
	addrs := make([]string, 0, len(records))
	for _, rec := range records {
		addr := prpc.ControlAddress(rec.NetworkAddress, rec.WorkingPort)
		if addr == "" {
			continue
		}
		byAddr[addr] = rec
		addrs = append(addrs, addr)
	}
	for region, latencies := range e.latency.MeasureAll(ctx, addrs) {
		for addr, millis := range latencies {
			rec, ok := byAddr[addr]
			if !ok {
				continue
			}
			ApplyLatency(rec, millis, model.LatencyProxy, region)
			measured[rec] = true
		}
	}
	return measured
}

func (e *Enricher) enrichOne(ctx context.Context, rec *model.NodeRecord, proxied bool) {
	addr := prpc.ControlAddress(rec.NetworkAddress, rec.WorkingPort)
	if addr == "" {
		return
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}

	probe, reachable := e.client.Probe(ctx, host, rec.WorkingPort, e.cfg.CallTimeout)
	if reachable {
		// The probe's own RTT, so failed port attempts before the answering
		// one never inflate the estimate.
		rtt := float64(probe.RTT.Microseconds()) / 1000
		rec.WorkingPort = probe.Port
		if probe.Version != "" {
			rec.ProtocolVersion = probe.Version
		}
		// Answering a direct call is stronger liveness evidence than any
		// gossip timestamp; the reverse is not true, so failures change
		// nothing.
		rec.LifecycleState = model.StateOnline
		ApplyLatency(rec, rtt, model.LatencyRPC, "")

		if stats, ok := e.client.GetStats(ctx, probe.Addr, e.cfg.CallTimeout); ok {
			applyStats(rec, stats)
		}
	} else if !proxied {
		// No proxy region reached this node either; direct probing is the
		// last resort for a latency estimate.
		if millis, ok := DirectProbe(ctx, addr, e.cfg.CallTimeout); ok {
			ApplyLatency(rec, millis, model.LatencyDirect, "")
		}
	}

	if e.geo != nil && rec.Country == "" {
		if loc, ok := e.geo.Lookup(ctx, host); ok {
			rec.Country = loc.Country
			rec.City = loc.City
			rec.Lat = loc.Lat
			rec.Lon = loc.Lon
		}
	}
	if e.credits != nil && rec.Identity != "" {
		if credits, ok := e.credits.Lookup(ctx, rec.Identity); ok {
			rec.Credits = credits.Credits
			rec.CreditsRank = credits.Rank
		}
	}
}

func applyStats(rec *model.NodeRecord, stats model.StatsResponse) {
	m := rec.Metrics
	if m == nil {
		m = &model.NodeMetrics{}
		rec.Metrics = m
	}
	cpu := stats.CPUPercent
	m.CPUPercent = &cpu
	ramUsed, ramTotal := stats.RAMUsed, stats.RAMTotal
	m.RAMUsedBytes = &ramUsed
	m.RAMTotalBytes = &ramTotal
	sent, recv := stats.PacketsSent, stats.PacketsReceived
	m.PacketsSent = &sent
	m.PacketsReceived = &recv
	streams := stats.ActiveStreams
	m.ActiveStreams = &streams
	used := stats.TotalBytes
	m.StorageUsedBytes = &used
	if stats.FileSize > 0 {
		committed := stats.FileSize
		m.StorageCommitted = &committed
	}
	if stats.Uptime > 0 {
		up := stats.Uptime
		m.UptimeSeconds = &up
	}
	if stats.PeerCount > 0 {
		peers := stats.PeerCount
		m.PeerCount = &peers
	}
}
