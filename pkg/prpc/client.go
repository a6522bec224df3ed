// Package prpc is the client side of the pod RPC surface: JSON over HTTP,
// no auth, and a fail-soft contract. Most pods only answer on localhost,
// so "no result" is the normal outcome and is never reported as an error.
package prpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/model"
	"pglobe/pkg/telemetry"
)

const (
	MethodGetPods          = "get-pods"
	MethodGetPodsWithStats = "get-pods-with-stats"
	MethodGetStats         = "get-stats"
	MethodGetVersion       = "get-version"

	// Responses to discovery methods can run to megabytes on well-connected
	// aggregators; anything bigger is a broken peer.
	maxResponseBytes = 32 << 20
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type response struct {
	Result json.RawMessage `json:"result"`
}

// Client issues single request/response calls against node endpoints.
// Every method returns (value, false) on timeout, refusal or a malformed
// payload; callers treat that as "no data", not as a failure to handle.
type Client struct {
	httpc *http.Client
	log   *zap.Logger
}

func NewClient(log *zap.Logger) *Client {
	return &Client{
		// Timeouts are enforced per call via context; the client-level
		// timeout is only a backstop against leaked calls.
		httpc: &http.Client{Timeout: 60 * time.Second},
		log:   log,
	}
}

// Call posts one method to addr and decodes the result into out.
// The returned bool is false for every flavor of failure.
func (c *Client) Call(ctx context.Context, addr, method string, timeout time.Duration, out any) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method})
	if err != nil {
		return false
	}
	url := fmt.Sprintf("http://%s/rpc", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		telemetry.RPCCalls.WithLabelValues(method, "unreachable").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.RPCCalls.WithLabelValues(method, "http_error").Inc()
		return false
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		telemetry.RPCCalls.WithLabelValues(method, "read_error").Inc()
		return false
	}
	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Result == nil {
		telemetry.RPCCalls.WithLabelValues(method, "malformed").Inc()
		c.log.Debug("malformed rpc response", zap.String("addr", addr), zap.String("method", method))
		return false
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		telemetry.RPCCalls.WithLabelValues(method, "malformed").Inc()
		return false
	}
	telemetry.RPCCalls.WithLabelValues(method, "ok").Inc()
	return true
}

// GetPods fetches addr's view of the network, preferring the richer
// get-pods-with-stats and falling back to get-pods for older versions.
func (c *Client) GetPods(ctx context.Context, addr string, timeout time.Duration) (model.PodsResponse, bool) {
	var pods model.PodsResponse
	if c.Call(ctx, addr, MethodGetPodsWithStats, timeout, &pods) {
		return pods, true
	}
	pods = model.PodsResponse{}
	if c.Call(ctx, addr, MethodGetPods, timeout, &pods) {
		return pods, true
	}
	return model.PodsResponse{}, false
}

// GetStats fetches detailed runtime metrics from one node.
func (c *Client) GetStats(ctx context.Context, addr string, timeout time.Duration) (model.StatsResponse, bool) {
	var stats model.StatsResponse
	ok := c.Call(ctx, addr, MethodGetStats, timeout, &stats)
	return stats, ok
}

// GetVersion fetches the node's reported version string. It doubles as the
// cheapest liveness probe the protocol offers.
func (c *Client) GetVersion(ctx context.Context, addr string, timeout time.Duration) (model.VersionResponse, bool) {
	var ver model.VersionResponse
	ok := c.Call(ctx, addr, MethodGetVersion, timeout, &ver)
	return ver, ok
}
