package prpc

import (
	"context"
	"net"
	"strconv"
	"time"

	"pglobe/pkg/model"
)

const (
	// DefaultRPCPort is the control port pods listen on by convention.
	DefaultRPCPort = 6000
	// DefaultGossipPort is the data/gossip port; some operators expose RPC
	// there instead.
	DefaultGossipPort = 9001
)

// ProbeResult is the endpoint that answered and the node's version string.
// RTT covers only the call that answered, not earlier failed port attempts.
type ProbeResult struct {
	Addr    string
	Port    int
	Version string
	RTT     time.Duration
}

// Probe tries a node's candidate ports strictly in priority order:
// the remembered working port, then the default RPC port, then the gossip
// port. It stops at the first success and never runs ports in parallel,
// so one struggling node sees at most one in-flight probe.
func (c *Client) Probe(ctx context.Context, host string, knownPort int, timeout time.Duration) (ProbeResult, bool) {
	for _, port := range candidatePorts(knownPort) {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		start := time.Now()
		if ver, ok := c.GetVersion(ctx, addr, timeout); ok {
			return ProbeResult{Addr: addr, Port: port, Version: ver.Version, RTT: time.Since(start)}, true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return ProbeResult{}, false
}

func candidatePorts(knownPort int) []int {
	ports := make([]int, 0, 3)
	add := func(p int) {
		if p <= 0 {
			return
		}
		for _, q := range ports {
			if q == p {
				return
			}
		}
		ports = append(ports, p)
	}
	add(knownPort)
	add(DefaultRPCPort)
	add(DefaultGossipPort)
	return ports
}

// ControlAddress derives the endpoint to dial for a record observed at
// networkAddr: the remembered working port when there is one, the default
// RPC port otherwise.
func ControlAddress(networkAddr string, workingPort int) string {
	host, _, err := net.SplitHostPort(networkAddr)
	if err != nil {
		host = networkAddr
	}
	if host == "" {
		return ""
	}
	if workingPort <= 0 {
		workingPort = DefaultRPCPort
	}
	return net.JoinHostPort(host, strconv.Itoa(workingPort))
}

// RPCAddress derives the control endpoint for a gossip entry: explicit RPC
// port when advertised, otherwise the default.
func RPCAddress(pod model.Pod) string {
	host, _, err := net.SplitHostPort(pod.Address)
	if err != nil {
		host = pod.Address
	}
	port := pod.RPCPort
	if port <= 0 {
		port = DefaultRPCPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
