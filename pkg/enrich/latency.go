package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/model"
)

// Latency precedence is fixed: proxy-measured beats direct-probed beats
// request-round-trip. The source ordering lives on model.LatencySource;
// ApplyLatency enforces it so no code path can regress to the original
// inconsistent fallback behavior.

// ApplyLatency records a measurement on rec unless a stronger source
// already measured it this cycle. Same-source measurements overwrite
// (last write wins); region breakouts accumulate.
func ApplyLatency(rec *model.NodeRecord, millis float64, source model.LatencySource, region string) {
	if millis <= 0 {
		return
	}
	if rec.Latency == nil || source > rec.Latency.Source {
		rec.Latency = &model.Latency{Millis: millis, Source: source}
	} else if source < rec.Latency.Source {
		if region != "" && rec.Latency.ByRegion != nil {
			// keep the breakout even when the headline number stands
			rec.Latency.ByRegion[region] = millis
		}
		return
	} else {
		rec.Latency.Millis = millis
	}
	if region != "" {
		if rec.Latency.ByRegion == nil {
			rec.Latency.ByRegion = make(map[string]float64)
		}
		rec.Latency.ByRegion[region] = millis
	}
}

// RegionProxy is one measurement region: a proxy that can time all node
// addresses from its vantage point in a single batched call.
type RegionProxy struct {
	Name     string
	Endpoint string
}

// ProxyMeasurer batches latency measurement through regional proxies,
// one call per region covering every address, and is preferred over
// per-node probing because it scales with regions, not nodes.
type ProxyMeasurer struct {
	regions []RegionProxy
	httpc   *http.Client
	log     *zap.Logger
}

func NewProxyMeasurer(regions []RegionProxy, log *zap.Logger) *ProxyMeasurer {
	return &ProxyMeasurer{
		regions: regions,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// MeasureAll returns per-region latencies: region name -> addr -> millis.
// Regions fail independently; an empty outer map means proxy measurement
// was unavailable and the caller should fall back to direct probing.
func (p *ProxyMeasurer) MeasureAll(ctx context.Context, addrs []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	if len(addrs) == 0 {
		return out
	}
	for _, region := range p.regions {
		latencies, ok := p.measureRegion(ctx, region, addrs)
		if !ok {
			p.log.Debug("region measurement unavailable", zap.String("region", region.Name))
			continue
		}
		out[region.Name] = latencies
	}
	return out
}

func (p *ProxyMeasurer) measureRegion(ctx context.Context, region RegionProxy, addrs []string) (map[string]float64, bool) {
	body, err := json.Marshal(map[string]any{"addresses": addrs})
	if err != nil {
		return nil, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, region.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var payload struct {
		Latencies map[string]float64 `json:"latencies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false
	}
	return payload.Latencies, true
}

// DirectProbe times connection plus first byte against one address. Used
// only when no proxy region could measure the node.
func DirectProbe(ctx context.Context, addr string, timeout time.Duration) (float64, bool) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, false
	}
	defer conn.Close()
	connected := time.Since(start)

	_ = conn.SetDeadline(deadline)
	if _, err := conn.Write([]byte("HEAD / HTTP/1.0\r\n\r\n")); err != nil {
		return float64(connected.Microseconds()) / 1000, true
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		// Connect succeeded but the peer never spoke; the dial time is
		// still a usable lower bound.
		return float64(connected.Microseconds()) / 1000, true
	}
	return float64(time.Since(start).Microseconds()) / 1000, true
}
