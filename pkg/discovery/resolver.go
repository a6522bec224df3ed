package discovery

import (
	"time"

	"pglobe/pkg/identity"
	"pglobe/pkg/liveness"
	"pglobe/pkg/model"
)

// Resolution is two-phase: sightings are merged per key while the crawl is
// still running (identity information often arrives rounds after the first
// sighting of an address), then the completed set is reconciled globally.

// Key assigns the resolution key for a sighting: a syntactically valid
// identity wins, otherwise the network address stands in for one.
func Key(n *model.NodeRecord) string {
	if identity.Valid(n.Identity) {
		return n.Identity
	}
	return n.NetworkAddress
}

// provenanceRank orders discovery paths for tie-breaking. Talking to the
// node directly beats seed gossip, which beats hearsay from a peer.
func provenanceRank(p model.Provenance) int {
	switch p {
	case model.ProvenanceDirect:
		return 2
	case model.ProvenanceSeed:
		return 1
	default:
		return 0
	}
}

// Merger accumulates sightings during a crawl, deduplicating as they
// arrive. It is not goroutine-safe: the crawler feeds it from the
// single-writer merge step between batches.
type Merger struct {
	byKey map[string]*model.NodeRecord
	now   func() time.Time
}

func NewMerger() *Merger {
	return &Merger{byKey: make(map[string]*model.NodeRecord), now: time.Now}
}

// Add merges one sighting. On a key collision the record with more
// populated fields is kept; ties go to the stronger provenance, then to
// the later-discovered sighting.
func (m *Merger) Add(rec *model.NodeRecord) {
	if rec == nil || !rec.Valid() {
		return
	}
	if !identity.Valid(rec.Identity) {
		// Garbage in the pubkey field must not become a key.
		rec.Identity = ""
	}
	key := Key(rec)
	existing, ok := m.byKey[key]
	if !ok {
		m.byKey[key] = rec
		return
	}
	if betterSighting(rec, existing) {
		// Carry the older sighting's address history forward.
		rec.PreviousAddresses = unionAddresses(existing.PreviousAddresses, rec.PreviousAddresses)
		if existing.NetworkAddress != "" && existing.NetworkAddress != rec.NetworkAddress {
			rec.PreviousAddresses = appendAddress(rec.PreviousAddresses, existing.NetworkAddress)
		}
		if rec.FirstSeenAt == 0 || (existing.FirstSeenAt != 0 && existing.FirstSeenAt < rec.FirstSeenAt) {
			rec.FirstSeenAt = existing.FirstSeenAt
		}
		if rec.LastSeenAt < existing.LastSeenAt {
			rec.LastSeenAt = existing.LastSeenAt
		}
		// The merged timestamp may differ from what either sighting was
		// classified against; the state must stay derivable from it.
		rec.LifecycleState = liveness.Classify(rec.LastSeenAt, m.now())
		m.byKey[key] = rec
		return
	}
	// Incumbent stays, but a losing sighting of the same identity at a
	// different address is still a superseded address worth remembering.
	if rec.NetworkAddress != "" && rec.NetworkAddress != existing.NetworkAddress {
		existing.PreviousAddresses = appendAddress(existing.PreviousAddresses, rec.NetworkAddress)
	}
	if existing.LastSeenAt < rec.LastSeenAt {
		existing.LastSeenAt = rec.LastSeenAt
		existing.LifecycleState = liveness.Classify(existing.LastSeenAt, m.now())
	}
}

// betterSighting decides whether candidate replaces incumbent within one
// key. The candidate is always the later-discovered of the two.
func betterSighting(candidate, incumbent *model.NodeRecord) bool {
	cf, inf := candidate.PopulatedFields(), incumbent.PopulatedFields()
	if cf != inf {
		return cf > inf
	}
	cr, ir := provenanceRank(candidate.Provenance), provenanceRank(incumbent.Provenance)
	if cr != ir {
		return cr > ir
	}
	return true // exact tie: later discovery wins
}

// Size reports distinct keys seen so far.
func (m *Merger) Size() int { return len(m.byKey) }

// Records returns the current working set.
func (m *Merger) Records() []*model.NodeRecord {
	out := make([]*model.NodeRecord, 0, len(m.byKey))
	for _, rec := range m.byKey {
		out = append(out, rec)
	}
	return out
}

// Reconcile runs the global cross-key pass over a completed crawl:
//
//   - two records sharing an identity but differing in address collapse to
//     one, the superseded address retired into PreviousAddresses;
//   - two valid identities sharing one address stay two records (NAT and
//     address reuse are legitimate, dropping one would hide a node);
//   - an anonymous record whose address is claimed by an identity-bearing
//     record, currently or earlier in this crawl, is discarded as a
//     duplicate sighting;
//   - records with neither identity nor address are dropped.
func (m *Merger) Reconcile() map[string]*model.NodeRecord {
	out := make(map[string]*model.NodeRecord, len(m.byKey))
	claimed := make(map[string]struct{}) // addresses owned by identity-bearing records

	for key, rec := range m.byKey {
		if rec.Identity == "" {
			continue
		}
		out[key] = rec
		if rec.NetworkAddress != "" {
			claimed[rec.NetworkAddress] = struct{}{}
		}
		// Addresses the identity moved away from during this crawl are
		// claimed too, or an anonymous sighting of the old address would
		// survive as a phantom second node.
		for _, addr := range rec.PreviousAddresses {
			claimed[addr] = struct{}{}
		}
	}
	for key, rec := range m.byKey {
		if rec.Identity != "" {
			continue
		}
		if _, taken := claimed[rec.NetworkAddress]; taken {
			continue
		}
		out[key] = rec
	}
	return out
}

func appendAddress(list []string, addr string) []string {
	for _, a := range list {
		if a == addr {
			return list
		}
	}
	return append(list, addr)
}

func unionAddresses(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, addr := range b {
		out = appendAddress(out, addr)
	}
	return out
}
