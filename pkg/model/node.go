package model

// LifecycleState describes how recently a node has been seen in gossip.
type LifecycleState string

const (
	StateOnline  LifecycleState = "online"
	StateSyncing LifecycleState = "syncing"
	StateOffline LifecycleState = "offline"
)

// Provenance records which discovery path produced a sighting. It is used
// only for merge tie-breaking and is never serialized for consumers.
type Provenance int

const (
	ProvenanceSeed Provenance = iota
	ProvenancePeer
	ProvenanceDirect
)

// NodeRecord is one provider node as currently understood. Identity is the
// node's base58 pubkey when known; the network address is authoritative for
// reachability, never for identity.
type NodeRecord struct {
	Identity          string         `json:"identity,omitempty"`
	NetworkAddress    string         `json:"networkAddress,omitempty"`
	PreviousAddresses []string       `json:"previousAddresses,omitempty"`
	ProtocolVersion   string         `json:"protocolVersion,omitempty"`
	LifecycleState    LifecycleState `json:"lifecycleState"`
	LastSeenAt        int64          `json:"lastSeenAt,omitempty"` // unix millis
	FirstSeenAt       int64          `json:"firstSeenAt,omitempty"`
	UpdatedAt         int64          `json:"updatedAt,omitempty"`
	SeenInGossip      bool           `json:"seenInGossip"`
	IsPublic          bool           `json:"isPublic,omitempty"`

	// WorkingPort is the control port that answered last cycle, remembered
	// so the prober can skip the port scan next time.
	WorkingPort int `json:"workingPort,omitempty"`

	Metrics *NodeMetrics `json:"metrics,omitempty"`
	Latency *Latency     `json:"latency,omitempty"`

	// Enrichment fields keyed by identity or IP; absence of a collaborator
	// response leaves them unset, and reconciliation never clears them.
	Country     string  `json:"country,omitempty"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Credits     int64   `json:"credits,omitempty"`
	CreditsRank int     `json:"creditsRank,omitempty"`

	Provenance Provenance `json:"-"`
}

// NodeMetrics is the optional per-node stats bag. Every field is
// independently optional; a nil pointer means "not measured this cycle".
type NodeMetrics struct {
	CPUPercent       *float64 `json:"cpuPercent,omitempty"`
	RAMUsedBytes     *uint64  `json:"ramUsedBytes,omitempty"`
	RAMTotalBytes    *uint64  `json:"ramTotalBytes,omitempty"`
	PacketsSent      *uint64  `json:"packetsSent,omitempty"`
	PacketsReceived  *uint64  `json:"packetsReceived,omitempty"`
	ActiveStreams    *int     `json:"activeStreams,omitempty"`
	StorageUsedBytes *uint64  `json:"storageUsedBytes,omitempty"`
	StorageCommitted *uint64  `json:"storageCommittedBytes,omitempty"`
	UptimeSeconds    *uint64  `json:"uptimeSeconds,omitempty"`
	PeerCount        *int     `json:"peerCount,omitempty"`
}

// LatencySource identifies how a latency estimate was obtained, in
// increasing order of trust: request round-trip, direct probe, proxy
// (batched multi-region).
type LatencySource int

const (
	LatencyUnknown LatencySource = iota
	LatencyRPC                   // round-trip of an ordinary enrichment call
	LatencyDirect                // timing-to-first-byte probe
	LatencyProxy                 // batched multi-region measurement
)

// Latency is a best-effort round-trip estimate, optionally broken out per
// measurement region.
type Latency struct {
	Millis   float64            `json:"millis"`
	Source   LatencySource      `json:"-"`
	ByRegion map[string]float64 `json:"byRegion,omitempty"`
}

// Valid reports whether the record carries enough to be reconciled at all.
// A record with neither identity nor address is noise and must be dropped.
func (n *NodeRecord) Valid() bool {
	return n.Identity != "" || n.NetworkAddress != ""
}

// PopulatedFields counts non-empty attributes, used as the local merge
// tie-breaker: the richer sighting wins.
func (n *NodeRecord) PopulatedFields() int {
	count := 0
	if n.Identity != "" {
		count++
	}
	if n.NetworkAddress != "" {
		count++
	}
	if n.ProtocolVersion != "" {
		count++
	}
	if n.LastSeenAt != 0 {
		count++
	}
	if n.IsPublic {
		count++
	}
	if n.WorkingPort != 0 {
		count++
	}
	if n.Metrics != nil {
		count++
	}
	if n.Latency != nil {
		count++
	}
	if n.Country != "" {
		count++
	}
	if n.Credits != 0 {
		count++
	}
	return count
}

// Clone returns a deep copy so merge steps never alias caller state.
func (n *NodeRecord) Clone() *NodeRecord {
	out := *n
	if n.PreviousAddresses != nil {
		out.PreviousAddresses = append([]string(nil), n.PreviousAddresses...)
	}
	if n.Metrics != nil {
		m := *n.Metrics
		out.Metrics = &m
	}
	if n.Latency != nil {
		l := *n.Latency
		if n.Latency.ByRegion != nil {
			l.ByRegion = make(map[string]float64, len(n.Latency.ByRegion))
			for k, v := range n.Latency.ByRegion {
				l.ByRegion[k] = v
			}
		}
		out.Latency = &l
	}
	return &out
}
