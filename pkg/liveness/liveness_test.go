package liveness

import (
	"testing"
	"time"

	"pglobe/pkg/model"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		lastSeen int64
		want     model.LifecycleState
	}{
		{"no timestamp", 0, model.StateOffline},
		{"seen just now (ms)", now.UnixMilli(), model.StateOnline},
		{"seen 4m59s ago (ms)", now.Add(-4*time.Minute - 59*time.Second).UnixMilli(), model.StateOnline},
		{"seen exactly 5m ago (ms)", now.Add(-5 * time.Minute).UnixMilli(), model.StateSyncing},
		{"seen 59m ago (ms)", now.Add(-59 * time.Minute).UnixMilli(), model.StateSyncing},
		{"seen exactly 60m ago (ms)", now.Add(-60 * time.Minute).UnixMilli(), model.StateOffline},
		{"seen 2d ago (ms)", now.Add(-48 * time.Hour).UnixMilli(), model.StateOffline},
		{"seen just now (s)", now.Unix(), model.StateOnline},
		{"seen 30m ago (s)", now.Add(-30 * time.Minute).Unix(), model.StateSyncing},
		{"seen 3h ago (s)", now.Add(-3 * time.Hour).Unix(), model.StateOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.lastSeen, now); got != tc.want {
				t.Fatalf("Classify(%d) = %q, want %q", tc.lastSeen, got, tc.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	now := time.Now()
	ts := now.Add(-10 * time.Minute).UnixMilli()
	first := Classify(ts, now)
	second := Classify(ts, now)
	if first != second {
		t.Fatalf("classification not stable: %q then %q", first, second)
	}
}

func TestNormalizeMillis(t *testing.T) {
	if got := NormalizeMillis(0); got != 0 {
		t.Fatalf("zero should stay zero, got %d", got)
	}
	if got := NormalizeMillis(1_700_000_000); got != 1_700_000_000_000 {
		t.Fatalf("seconds not scaled: %d", got)
	}
	if got := NormalizeMillis(1_700_000_000_000); got != 1_700_000_000_000 {
		t.Fatalf("millis changed: %d", got)
	}
}
