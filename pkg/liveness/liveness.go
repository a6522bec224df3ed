// Package liveness maps gossip last-seen timestamps to lifecycle states.
// It is the single source of truth for state derived from gossip; only a
// successful direct call to the node itself may override its verdict.
package liveness

import (
	"time"

	"pglobe/pkg/model"
)

const (
	onlineWindow  = 5 * time.Minute
	syncingWindow = 60 * time.Minute

	// Epochs below this are taken as seconds; at or above, milliseconds.
	// 1e12 ms is Sep 2001, 1e12 s is year 33658, so no live gossip data
	// falls between the two readings.
	millisCutoff = int64(1e12)
)

// NormalizeMillis accepts second- or millisecond-epoch inputs and returns
// milliseconds. Zero stays zero.
func NormalizeMillis(ts int64) int64 {
	if ts == 0 {
		return 0
	}
	if ts < millisCutoff {
		return ts * 1000
	}
	return ts
}

func rank(s model.LifecycleState) int {
	switch s {
	case model.StateOnline:
		return 2
	case model.StateSyncing:
		return 1
	default:
		return 0
	}
}

// Strongest returns the more alive of two states. Used where a merged
// timestamp re-derives the state on a record whose current state may come
// from a successful direct call: gossip evidence may raise a verdict but
// never lower one.
func Strongest(a, b model.LifecycleState) model.LifecycleState {
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

// Classify is a pure function of the last-seen timestamp and the clock.
func Classify(lastSeen int64, now time.Time) model.LifecycleState {
	if lastSeen == 0 {
		return model.StateOffline
	}
	age := now.UnixMilli() - NormalizeMillis(lastSeen)
	switch {
	case age < onlineWindow.Milliseconds():
		return model.StateOnline
	case age < syncingWindow.Milliseconds():
		return model.StateSyncing
	default:
		return model.StateOffline
	}
}
