// Package discovery implements the multi-round breadth-first gossip crawl
// and the identity resolution that deduplicates what it finds.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/liveness"
	"pglobe/pkg/model"
	"pglobe/pkg/prpc"
)

// PodsClient is the slice of the RPC client the crawler needs.
type PodsClient interface {
	GetPods(ctx context.Context, addr string, timeout time.Duration) (model.PodsResponse, bool)
}

// Config bounds one crawl.
type Config struct {
	Seeds []string
	// RoundCap limits expansion rounds after the seed round.
	RoundCap int
	// BatchSize caps concurrent peer queries within a round.
	BatchSize int
	// QueryTimeout covers one get-pods call; discovery responses are large,
	// so this is deliberately generous.
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundCap <= 0 {
		c.RoundCap = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 25 * time.Second
	}
	return c
}

// Result is the deduplicated outcome of one crawl.
type Result struct {
	Nodes     map[string]*model.NodeRecord
	Rounds    int
	Queried   int
	Responded int
}

// Crawler expands the network view round by round: the seeds' answers form
// the first frontier, every newly-seen address is queried exactly once,
// and the crawl stops when a round turns up nothing new or the cap hits.
type Crawler struct {
	client PodsClient
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewCrawler(client PodsClient, cfg Config, log *zap.Logger) *Crawler {
	return &Crawler{client: client, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

type queryOutcome struct {
	addr string
	pods []model.Pod
	ok   bool
}

// Crawl runs the full expansion. It only fails by returning an empty
// result: endpoint errors are absorbed, a dead round does not stop the
// next one, and only "no new nodes" or the round cap end the crawl.
func (c *Crawler) Crawl(ctx context.Context) Result {
	merger := NewMerger()
	visited := make(map[string]struct{}, len(c.cfg.Seeds))
	res := Result{}

	frontier := append([]string(nil), c.cfg.Seeds...)

	for round := 0; round <= c.cfg.RoundCap && len(frontier) > 0; round++ {
		if ctx.Err() != nil {
			break
		}
		provenance := model.ProvenancePeer
		if round == 0 {
			provenance = model.ProvenanceSeed
		}
		before := merger.Size()

		responded := 0
		for start := 0; start < len(frontier); start += c.cfg.BatchSize {
			end := start + c.cfg.BatchSize
			if end > len(frontier) {
				end = len(frontier)
			}
			batch := frontier[start:end]
			for _, addr := range batch {
				visited[addr] = struct{}{}
			}
			res.Queried += len(batch)

			// Workers own their one query; results land in the merger
			// only here, after the batch resolves (single writer).
			for _, out := range c.queryBatch(ctx, batch) {
				if !out.ok {
					continue
				}
				responded++
				for i := range out.pods {
					merger.Add(c.recordFromPod(&out.pods[i], provenance))
				}
			}
		}
		res.Responded += responded
		res.Rounds = round + 1

		discovered := merger.Size() - before
		c.log.Info("crawl round complete",
			zap.Int("round", round),
			zap.Int("queried", len(frontier)),
			zap.Int("responded", responded),
			zap.Int("new_nodes", discovered),
			zap.Int("total", merger.Size()))

		if discovered == 0 && round > 0 {
			break
		}
		frontier = nextFrontier(merger, visited)
	}

	res.Nodes = merger.Reconcile()
	return res
}

func (c *Crawler) queryBatch(ctx context.Context, addrs []string) []queryOutcome {
	outcomes := make([]queryOutcome, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			pods, ok := c.client.GetPods(ctx, addr, c.cfg.QueryTimeout)
			outcomes[i] = queryOutcome{addr: addr, pods: pods.Pods, ok: ok}
		}(i, addr)
	}
	wg.Wait()
	return outcomes
}

// QueryAddress derives the control endpoint to dial for a record. The
// observed NetworkAddress is left untouched: it is identity-relevant
// state, the dial address is not.
func QueryAddress(rec *model.NodeRecord) string {
	return prpc.ControlAddress(rec.NetworkAddress, rec.WorkingPort)
}

// nextFrontier collects dial addresses discovered but never queried.
// Consuming the working set into a fresh slice per round keeps rounds
// strictly sequential with no shared mutation.
func nextFrontier(m *Merger, visited map[string]struct{}) []string {
	var frontier []string
	seen := make(map[string]struct{})
	for _, rec := range m.Records() {
		addr := QueryAddress(rec)
		if addr == "" {
			continue
		}
		if _, ok := visited[addr]; ok {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		frontier = append(frontier, addr)
	}
	return frontier
}

func (c *Crawler) recordFromPod(pod *model.Pod, provenance model.Provenance) *model.NodeRecord {
	now := c.now()
	lastSeen := liveness.NormalizeMillis(pod.LastSeenTimestamp)
	// Keep the address as observed in gossip; only fall back to the
	// derived control address when the entry carries no port at all.
	observed := pod.Address
	if _, _, err := net.SplitHostPort(observed); err != nil {
		observed = prpc.RPCAddress(*pod)
	}
	rec := &model.NodeRecord{
		Identity:        pod.Pubkey,
		NetworkAddress:  observed,
		ProtocolVersion: pod.Version,
		LifecycleState:  liveness.Classify(lastSeen, now),
		LastSeenAt:      lastSeen,
		FirstSeenAt:     now.UnixMilli(),
		UpdatedAt:       now.UnixMilli(),
		SeenInGossip:    true,
		IsPublic:        pod.IsPublic,
		Provenance:      provenance,
	}
	if pod.RPCPort > 0 {
		rec.WorkingPort = pod.RPCPort
	}
	if pod.Uptime > 0 || pod.StorageCommitted > 0 || pod.StorageUsed > 0 {
		m := &model.NodeMetrics{}
		if pod.Uptime > 0 {
			up := pod.Uptime
			m.UptimeSeconds = &up
		}
		if pod.StorageCommitted > 0 {
			sc := pod.StorageCommitted
			m.StorageCommitted = &sc
		}
		if pod.StorageUsed > 0 {
			su := pod.StorageUsed
			m.StorageUsedBytes = &su
		}
		rec.Metrics = m
	}
	return rec
}
