package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/model"
)

// fakeGossip serves canned peer lists keyed by dial address and counts
// how often each address is queried.
type fakeGossip struct {
	mu      sync.Mutex
	views   map[string][]model.Pod
	queries map[string]int
}

func newFakeGossip(views map[string][]model.Pod) *fakeGossip {
	return &fakeGossip{views: views, queries: make(map[string]int)}
}

func (f *fakeGossip) GetPods(_ context.Context, addr string, _ time.Duration) (model.PodsResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[addr]++
	pods, ok := f.views[addr]
	if !ok {
		return model.PodsResponse{}, false
	}
	return model.PodsResponse{Pods: pods}, true
}

func freshTS() int64 { return time.Now().UnixMilli() }

func TestCrawlIdentityStableAcrossAddresses(t *testing.T) {
	idA, idB, idD := testIdentity(10), testIdentity(11), testIdentity(12)

	// D is reported by A at one address and by B, a round later, at
	// another. The crawl must collapse both sightings into one record.
	gossip := newFakeGossip(map[string][]model.Pod{
		"203.0.113.1:6000": {
			{Pubkey: idA, Address: "10.0.1.1:9001", RPCPort: 6001, LastSeenTimestamp: freshTS()},
		},
		"10.0.1.1:6001": {
			{Pubkey: idB, Address: "10.0.1.2:9001", RPCPort: 6002, LastSeenTimestamp: freshTS()},
			{Pubkey: idD, Address: "1.1.1.1:9001", LastSeenTimestamp: freshTS()},
		},
		"10.0.1.2:6002": {
			{Pubkey: idD, Address: "1.1.1.1:9002", LastSeenTimestamp: freshTS()},
		},
	})

	c := NewCrawler(gossip, Config{Seeds: []string{"203.0.113.1:6000"}, RoundCap: 5}, zap.NewNop())
	res := c.Crawl(context.Background())

	if len(res.Nodes) != 3 {
		t.Fatalf("discovered %d nodes, want 3 (A, B, D)", len(res.Nodes))
	}
	d, ok := res.Nodes[idD]
	if !ok {
		t.Fatal("node D missing")
	}
	if d.NetworkAddress != "1.1.1.1:9002" {
		t.Fatalf("D address = %q, want the later-observed 1.1.1.1:9002", d.NetworkAddress)
	}
	if len(d.PreviousAddresses) != 1 || d.PreviousAddresses[0] != "1.1.1.1:9001" {
		t.Fatalf("D previousAddresses = %v, want the superseded 1.1.1.1:9001", d.PreviousAddresses)
	}
}

func TestCrawlStopsWhenRoundFindsNothingNew(t *testing.T) {
	idA, idB := testIdentity(20), testIdentity(21)
	podA := model.Pod{Pubkey: idA, Address: "10.0.2.1:9001", RPCPort: 6001, LastSeenTimestamp: freshTS()}
	podB := model.Pod{Pubkey: idB, Address: "10.0.2.2:9001", RPCPort: 6002, LastSeenTimestamp: freshTS()}

	gossip := newFakeGossip(map[string][]model.Pod{
		"203.0.113.1:6000": {podA, podB},
		"10.0.2.1:6001":    {podA, podB},
		"10.0.2.2:6002":    {podA, podB},
	})

	c := NewCrawler(gossip, Config{Seeds: []string{"203.0.113.1:6000"}, RoundCap: 10}, zap.NewNop())
	res := c.Crawl(context.Background())

	if res.Rounds != 2 {
		t.Fatalf("crawl ran %d rounds, want 2 (seed round + one empty expansion)", res.Rounds)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("discovered %d nodes, want 2", len(res.Nodes))
	}
}

func TestCrawlEachAddressQueriedAtMostOnce(t *testing.T) {
	idA, idB := testIdentity(30), testIdentity(31)
	podA := model.Pod{Pubkey: idA, Address: "10.0.3.1:9001", RPCPort: 6001, LastSeenTimestamp: freshTS()}
	podB := model.Pod{Pubkey: idB, Address: "10.0.3.2:9001", RPCPort: 6002, LastSeenTimestamp: freshTS()}

	gossip := newFakeGossip(map[string][]model.Pod{
		"203.0.113.1:6000": {podA, podB},
		"10.0.3.1:6001":    {podA, podB},
		"10.0.3.2:6002":    {podA, podB},
	})

	c := NewCrawler(gossip, Config{Seeds: []string{"203.0.113.1:6000"}, RoundCap: 10}, zap.NewNop())
	c.Crawl(context.Background())

	gossip.mu.Lock()
	defer gossip.mu.Unlock()
	for addr, n := range gossip.queries {
		if n > 1 {
			t.Fatalf("address %s queried %d times", addr, n)
		}
	}
}

func TestCrawlSurvivesFailingSeeds(t *testing.T) {
	idA := testIdentity(40)
	gossip := newFakeGossip(map[string][]model.Pod{
		// first seed is dead, second answers
		"203.0.113.2:6000": {
			{Pubkey: idA, Address: "10.0.4.1:9001", LastSeenTimestamp: freshTS()},
		},
	})

	c := NewCrawler(gossip, Config{
		Seeds: []string{"203.0.113.1:6000", "203.0.113.2:6000"},
	}, zap.NewNop())
	res := c.Crawl(context.Background())

	if len(res.Nodes) != 1 {
		t.Fatalf("discovered %d nodes, want 1 from the live seed", len(res.Nodes))
	}
	if res.Responded != 1 {
		t.Fatalf("responded = %d, want 1", res.Responded)
	}
}

func TestCrawlEmptyNetwork(t *testing.T) {
	gossip := newFakeGossip(map[string][]model.Pod{})
	c := NewCrawler(gossip, Config{Seeds: []string{"203.0.113.1:6000"}}, zap.NewNop())
	res := c.Crawl(context.Background())

	if len(res.Nodes) != 0 {
		t.Fatalf("nodes = %d, want 0", len(res.Nodes))
	}
	if res.Responded != 0 {
		t.Fatalf("responded = %d, want 0", res.Responded)
	}
}

func TestQueryAddress(t *testing.T) {
	cases := []struct {
		rec  model.NodeRecord
		want string
	}{
		{model.NodeRecord{NetworkAddress: "1.1.1.1:9001"}, "1.1.1.1:6000"},
		{model.NodeRecord{NetworkAddress: "1.1.1.1:9001", WorkingPort: 6100}, "1.1.1.1:6100"},
		{model.NodeRecord{NetworkAddress: "1.1.1.1"}, "1.1.1.1:6000"},
		{model.NodeRecord{}, ""},
	}
	for _, tc := range cases {
		if got := QueryAddress(&tc.rec); got != tc.want {
			t.Fatalf("QueryAddress(%+v) = %q, want %q", tc.rec, got, tc.want)
		}
	}
}
