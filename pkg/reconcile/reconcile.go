// Package reconcile merges one cycle's discovered set with everything
// ever persisted. Nodes are never deleted: absence from gossip marks a
// node offline and keeps its history.
package reconcile

import (
	"time"

	"pglobe/pkg/liveness"
	"pglobe/pkg/model"
)

// Merge produces the complete post-cycle set. discovered is keyed the way
// the resolver keys (identity, else address); persisted is everything the
// store currently holds under the same keying.
func Merge(discovered, persisted map[string]*model.NodeRecord, now time.Time) map[string]*model.NodeRecord {
	out := make(map[string]*model.NodeRecord, len(persisted)+len(discovered))
	nowMillis := now.UnixMilli()

	for key, prev := range persisted {
		if _, seen := discovered[key]; seen {
			continue
		}
		// Absent from this cycle's gossip: carried forward untouched except
		// for liveness. A missed crawl is not evidence the node changed.
		carried := prev.Clone()
		carried.SeenInGossip = false
		carried.LifecycleState = model.StateOffline
		carried.UpdatedAt = nowMillis
		out[key] = carried
	}

	for key, fresh := range discovered {
		rec := fresh.Clone()
		rec.SeenInGossip = true
		rec.UpdatedAt = nowMillis
		if prev, ok := persisted[key]; ok {
			inheritHistory(rec, prev, now)
		}
		out[key] = rec
	}
	return out
}

// inheritHistory copies forward identity-bearing fields a crawl cannot
// see: first sighting, address history, and enrichments (geo, credits)
// that this cycle failed to refresh.
func inheritHistory(rec, prev *model.NodeRecord, now time.Time) {
	if prev.FirstSeenAt != 0 && (rec.FirstSeenAt == 0 || prev.FirstSeenAt < rec.FirstSeenAt) {
		rec.FirstSeenAt = prev.FirstSeenAt
	}
	for _, addr := range prev.PreviousAddresses {
		rec.PreviousAddresses = appendAddress(rec.PreviousAddresses, addr)
	}
	if prev.NetworkAddress != "" && prev.NetworkAddress != rec.NetworkAddress {
		rec.PreviousAddresses = appendAddress(rec.PreviousAddresses, prev.NetworkAddress)
	}
	if rec.Country == "" && prev.Country != "" {
		rec.Country = prev.Country
		rec.City = prev.City
		rec.Lat = prev.Lat
		rec.Lon = prev.Lon
	}
	if rec.Credits == 0 && prev.Credits != 0 {
		rec.Credits = prev.Credits
		rec.CreditsRank = prev.CreditsRank
	}
	if rec.WorkingPort == 0 {
		rec.WorkingPort = prev.WorkingPort
	}
	if rec.LastSeenAt < prev.LastSeenAt {
		rec.LastSeenAt = prev.LastSeenAt
		// The adopted timestamp must keep the state derivable; Strongest
		// keeps a verdict earned by answering a direct call this cycle.
		rec.LifecycleState = liveness.Strongest(rec.LifecycleState, liveness.Classify(rec.LastSeenAt, now))
	}
}

func appendAddress(list []string, addr string) []string {
	for _, a := range list {
		if a == addr {
			return list
		}
	}
	return append(list, addr)
}
