package model

import "time"

// NetworkStats aggregates one reconciled cycle for the dashboard.
type NetworkStats struct {
	TotalPods  int `json:"total_pods"`  // unique identities
	TotalNodes int `json:"total_nodes"` // all records, address-only included

	OnlineNodes  int `json:"online_nodes"`
	SyncingNodes int `json:"syncing_nodes"`
	OfflineNodes int `json:"offline_nodes"`

	PublicNodes  int `json:"public_nodes"`
	PrivateNodes int `json:"private_nodes"`

	TotalStorageCommitted uint64 `json:"total_storage_committed_bytes"`
	TotalStorageUsed      uint64 `json:"total_storage_used_bytes"`

	AverageLatencyMillis float64 `json:"average_latency_ms,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot is one full-network capture, written after every successful
// cycle so trend analysis can tell "never existed" from "went offline".
type Snapshot struct {
	ID        int64         `json:"id"`
	TakenAt   time.Time     `json:"taken_at"`
	Stats     NetworkStats  `json:"stats"`
	Nodes     []*NodeRecord `json:"nodes,omitempty"`
	NodeCount int           `json:"node_count"`
}

// ComputeNetworkStats derives the aggregate view from a reconciled set.
func ComputeNetworkStats(nodes []*NodeRecord, now time.Time) NetworkStats {
	s := NetworkStats{LastUpdated: now}
	identities := map[string]struct{}{}
	var latSum float64
	var latN int
	for _, n := range nodes {
		s.TotalNodes++
		if n.Identity != "" {
			identities[n.Identity] = struct{}{}
		}
		switch n.LifecycleState {
		case StateOnline:
			s.OnlineNodes++
		case StateSyncing:
			s.SyncingNodes++
		default:
			s.OfflineNodes++
		}
		if n.IsPublic {
			s.PublicNodes++
		} else {
			s.PrivateNodes++
		}
		if n.Metrics != nil {
			if n.Metrics.StorageCommitted != nil {
				s.TotalStorageCommitted += *n.Metrics.StorageCommitted
			}
			if n.Metrics.StorageUsedBytes != nil {
				s.TotalStorageUsed += *n.Metrics.StorageUsedBytes
			}
		}
		if n.Latency != nil {
			latSum += n.Latency.Millis
			latN++
		}
	}
	s.TotalPods = len(identities)
	if latN > 0 {
		s.AverageLatencyMillis = latSum / float64(latN)
	}
	return s
}
