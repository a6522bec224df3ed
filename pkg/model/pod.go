package model

// Pod is one gossip entry as reported by a node's peer list. Field presence
// varies by protocol version: older nodes only fill Address and Pubkey,
// newer ones include storage and uptime via get-pods-with-stats.
type Pod struct {
	Pubkey            string  `json:"pubkey,omitempty"`
	Address           string  `json:"address"`
	RPCPort           int     `json:"rpc_port,omitempty"`
	Version           string  `json:"version,omitempty"`
	IsPublic          bool    `json:"is_public,omitempty"`
	LastSeenTimestamp int64   `json:"last_seen_timestamp,omitempty"` // seconds or millis
	Uptime            uint64  `json:"uptime,omitempty"`
	StorageUsed       uint64  `json:"storage_used,omitempty"`
	StorageCommitted  uint64  `json:"storage_committed,omitempty"`
	StorageUsagePct   float64 `json:"storage_usage_percent,omitempty"`
}

// PodsResponse is the payload of get-pods / get-pods-with-stats.
type PodsResponse struct {
	Pods []Pod `json:"pods"`
}

// VersionResponse is the payload of get-version.
type VersionResponse struct {
	Version string `json:"version"`
}

// StatsResponse is the payload of get-stats.
type StatsResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsed         uint64  `json:"ram_used"`
	RAMTotal        uint64  `json:"ram_total"`
	PacketsSent     uint64  `json:"packets_sent"`
	PacketsReceived uint64  `json:"packets_received"`
	ActiveStreams   int     `json:"active_streams"`
	TotalBytes      uint64  `json:"total_bytes"`
	FileSize        uint64  `json:"file_size"`
	Uptime          uint64  `json:"uptime"`
	PeerCount       int     `json:"peer_count"`
}
