package discovery

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"pglobe/pkg/liveness"
	"pglobe/pkg/model"
)

// testIdentity builds a syntactically valid base58 pubkey from a seed byte.
func testIdentity(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

func TestKeyPrefersValidIdentity(t *testing.T) {
	id := testIdentity(1)
	rec := &model.NodeRecord{Identity: id, NetworkAddress: "10.0.0.1:6000"}
	if got := Key(rec); got != id {
		t.Fatalf("Key = %q, want identity", got)
	}

	rec = &model.NodeRecord{Identity: "not-a-pubkey", NetworkAddress: "10.0.0.1:6000"}
	if got := Key(rec); got != "10.0.0.1:6000" {
		t.Fatalf("Key = %q, want address fallback", got)
	}
}

func TestMergerKeepsRicherSighting(t *testing.T) {
	id := testIdentity(2)
	m := NewMerger()

	rich := &model.NodeRecord{
		Identity:        id,
		NetworkAddress:  "10.0.0.2:6000",
		ProtocolVersion: "1.2.0",
		LastSeenAt:      1000,
		Provenance:      model.ProvenancePeer,
	}
	poor := &model.NodeRecord{
		Identity:   id,
		Provenance: model.ProvenancePeer,
	}

	m.Add(rich)
	m.Add(poor)

	got := m.byKey[id]
	if got.NetworkAddress != "10.0.0.2:6000" || got.ProtocolVersion != "1.2.0" {
		t.Fatalf("poorer later sighting replaced richer one: %+v", got)
	}
}

func TestMergerTieGoesToLaterSighting(t *testing.T) {
	id := testIdentity(3)
	m := NewMerger()

	first := &model.NodeRecord{Identity: id, NetworkAddress: "1.1.1.1:9001", LastSeenAt: 5, Provenance: model.ProvenancePeer}
	second := &model.NodeRecord{Identity: id, NetworkAddress: "1.1.1.1:9002", LastSeenAt: 5, Provenance: model.ProvenancePeer}

	m.Add(first)
	m.Add(second)

	got := m.byKey[id]
	if got.NetworkAddress != "1.1.1.1:9002" {
		t.Fatalf("address = %q, want the later sighting", got.NetworkAddress)
	}
	if len(got.PreviousAddresses) != 1 || got.PreviousAddresses[0] != "1.1.1.1:9001" {
		t.Fatalf("previousAddresses = %v, want the superseded address", got.PreviousAddresses)
	}
}

func TestMergerLosingAddressStillRemembered(t *testing.T) {
	id := testIdentity(4)
	m := NewMerger()

	rich := &model.NodeRecord{
		Identity:        id,
		NetworkAddress:  "10.0.0.4:6000",
		ProtocolVersion: "1.2.0",
		LastSeenAt:      1000,
	}
	poorElsewhere := &model.NodeRecord{
		Identity:       id,
		NetworkAddress: "10.9.9.9:6000",
	}

	m.Add(rich)
	m.Add(poorElsewhere)

	got := m.byKey[id]
	if got.NetworkAddress != "10.0.0.4:6000" {
		t.Fatalf("richer sighting should hold the address, got %q", got.NetworkAddress)
	}
	if len(got.PreviousAddresses) != 1 || got.PreviousAddresses[0] != "10.9.9.9:6000" {
		t.Fatalf("superseded address lost: %v", got.PreviousAddresses)
	}
}

func TestMergerStateDerivableFromMergedTimestamp(t *testing.T) {
	id := testIdentity(8)
	now := time.Now()
	m := NewMerger()

	rich := &model.NodeRecord{
		Identity:        id,
		NetworkAddress:  "10.0.0.8:6000",
		ProtocolVersion: "1.2.0",
		LastSeenAt:      now.Add(-10 * time.Minute).UnixMilli(),
		LifecycleState:  model.StateSyncing,
	}
	freshPoor := &model.NodeRecord{
		Identity:       id,
		LastSeenAt:     now.UnixMilli(),
		LifecycleState: model.StateOnline,
	}

	m.Add(rich)
	m.Add(freshPoor) // loses on populated fields but carries the fresher timestamp

	got := m.byKey[id]
	if got.LastSeenAt != freshPoor.LastSeenAt {
		t.Fatalf("lastSeenAt = %d, want the fresher sighting's %d", got.LastSeenAt, freshPoor.LastSeenAt)
	}
	if want := liveness.Classify(got.LastSeenAt, now); got.LifecycleState != want {
		t.Fatalf("state = %q, not derivable from lastSeenAt (classify says %q)", got.LifecycleState, want)
	}
	if got.LifecycleState != model.StateOnline {
		t.Fatalf("state = %q, a node sighted just now must be online", got.LifecycleState)
	}
}

func TestMergerWinnerAdoptsFresherTimestamp(t *testing.T) {
	id := testIdentity(9)
	now := time.Now()
	m := NewMerger()

	freshPoor := &model.NodeRecord{
		Identity:       id,
		LastSeenAt:     now.UnixMilli(),
		LifecycleState: model.StateOnline,
	}
	staleRich := &model.NodeRecord{
		Identity:        id,
		NetworkAddress:  "10.0.0.9:6000",
		ProtocolVersion: "1.2.0",
		LastSeenAt:      now.Add(-10 * time.Minute).UnixMilli(),
		LifecycleState:  model.StateSyncing,
	}

	m.Add(freshPoor)
	m.Add(staleRich)

	got := m.byKey[id]
	if got.NetworkAddress != "10.0.0.9:6000" {
		t.Fatalf("richer sighting should win: %+v", got)
	}
	if got.LastSeenAt != freshPoor.LastSeenAt {
		t.Fatalf("lastSeenAt = %d, the incumbent's fresher timestamp was discarded", got.LastSeenAt)
	}
	if got.LifecycleState != model.StateOnline {
		t.Fatalf("state = %q, want online after adopting the fresher timestamp", got.LifecycleState)
	}
}

func TestMergerDropsInvalidRecords(t *testing.T) {
	m := NewMerger()
	m.Add(&model.NodeRecord{})
	m.Add(nil)
	if m.Size() != 0 {
		t.Fatalf("invalid records accepted, size = %d", m.Size())
	}
}

func TestMergerInvalidIdentityKeyedByAddress(t *testing.T) {
	m := NewMerger()
	m.Add(&model.NodeRecord{Identity: "garbage", NetworkAddress: "10.0.0.5:6000"})

	rec, ok := m.byKey["10.0.0.5:6000"]
	if !ok {
		t.Fatal("record not keyed by address")
	}
	if rec.Identity != "" {
		t.Fatalf("invalid identity kept: %q", rec.Identity)
	}
}

func TestReconcileAddressReuseKeepsBothIdentities(t *testing.T) {
	idA, idB := testIdentity(5), testIdentity(6)
	m := NewMerger()
	m.Add(&model.NodeRecord{Identity: idA, NetworkAddress: "198.51.100.7:6000"})
	m.Add(&model.NodeRecord{Identity: idB, NetworkAddress: "198.51.100.7:6000"})

	out := m.Reconcile()
	if len(out) != 2 {
		t.Fatalf("reconciled %d records, want 2 distinct identities behind one address", len(out))
	}
	if _, ok := out[idA]; !ok {
		t.Fatal("identity A collapsed away")
	}
	if _, ok := out[idB]; !ok {
		t.Fatal("identity B collapsed away")
	}
}

func TestReconcileAnonymousLosesToIdentity(t *testing.T) {
	id := testIdentity(7)
	m := NewMerger()
	// The anonymous sighting of the address arrives first; the pubkey for
	// it only shows up later in the crawl.
	m.Add(&model.NodeRecord{NetworkAddress: "198.51.100.8:6000"})
	m.Add(&model.NodeRecord{Identity: id, NetworkAddress: "198.51.100.8:6000"})

	out := m.Reconcile()
	if len(out) != 1 {
		t.Fatalf("reconciled %d records, want 1", len(out))
	}
	rec, ok := out[id]
	if !ok {
		t.Fatal("identity-bearing record missing")
	}
	if rec.Identity != id {
		t.Fatalf("identity = %q", rec.Identity)
	}
}

func TestReconcileAnonymousLosesToSupersededAddress(t *testing.T) {
	id := testIdentity(10)
	m := NewMerger()
	// The identity moves ports mid-crawl; an anonymous sighting of the old
	// endpoint is the same node, not a second one.
	m.Add(&model.NodeRecord{NetworkAddress: "198.51.100.10:9001"})
	m.Add(&model.NodeRecord{Identity: id, NetworkAddress: "198.51.100.10:9001", LastSeenAt: 5})
	m.Add(&model.NodeRecord{Identity: id, NetworkAddress: "198.51.100.10:9002", ProtocolVersion: "1.2.0", LastSeenAt: 5})

	out := m.Reconcile()
	if len(out) != 1 {
		t.Fatalf("reconciled %d records, want 1", len(out))
	}
	rec, ok := out[id]
	if !ok {
		t.Fatal("identity-bearing record missing")
	}
	if rec.NetworkAddress != "198.51.100.10:9002" {
		t.Fatalf("address = %q", rec.NetworkAddress)
	}
	if len(rec.PreviousAddresses) != 1 || rec.PreviousAddresses[0] != "198.51.100.10:9001" {
		t.Fatalf("previousAddresses = %v", rec.PreviousAddresses)
	}
}

func TestReconcileKeepsAnonymousWithUniqueAddress(t *testing.T) {
	m := NewMerger()
	m.Add(&model.NodeRecord{NetworkAddress: "198.51.100.9:6000"})

	out := m.Reconcile()
	if _, ok := out["198.51.100.9:6000"]; !ok {
		t.Fatal("anonymous record with unclaimed address should survive")
	}
}
