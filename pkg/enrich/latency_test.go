package enrich

import (
	"testing"

	"pglobe/pkg/model"
)

func TestApplyLatencyPrecedence(t *testing.T) {
	rec := &model.NodeRecord{}

	ApplyLatency(rec, 120, model.LatencyRPC, "")
	if rec.Latency == nil || rec.Latency.Millis != 120 {
		t.Fatalf("rpc latency not applied: %+v", rec.Latency)
	}

	// direct beats rpc
	ApplyLatency(rec, 80, model.LatencyDirect, "")
	if rec.Latency.Millis != 80 || rec.Latency.Source != model.LatencyDirect {
		t.Fatalf("direct did not override rpc: %+v", rec.Latency)
	}

	// proxy beats direct
	ApplyLatency(rec, 45, model.LatencyProxy, "eu-west")
	if rec.Latency.Millis != 45 || rec.Latency.Source != model.LatencyProxy {
		t.Fatalf("proxy did not override direct: %+v", rec.Latency)
	}
	if rec.Latency.ByRegion["eu-west"] != 45 {
		t.Fatalf("region breakout missing: %v", rec.Latency.ByRegion)
	}

	// weaker sources never downgrade the headline number
	ApplyLatency(rec, 300, model.LatencyDirect, "")
	if rec.Latency.Millis != 45 || rec.Latency.Source != model.LatencyProxy {
		t.Fatalf("weaker source overwrote proxy: %+v", rec.Latency)
	}

	// a second region accumulates
	ApplyLatency(rec, 90, model.LatencyProxy, "us-east")
	if rec.Latency.ByRegion["us-east"] != 90 || rec.Latency.ByRegion["eu-west"] != 45 {
		t.Fatalf("regions = %v", rec.Latency.ByRegion)
	}
}

func TestApplyLatencyIgnoresNonPositive(t *testing.T) {
	rec := &model.NodeRecord{}
	ApplyLatency(rec, 0, model.LatencyProxy, "eu")
	ApplyLatency(rec, -3, model.LatencyProxy, "eu")
	if rec.Latency != nil {
		t.Fatalf("bogus measurement stored: %+v", rec.Latency)
	}
}
