package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Location is the geolocation attached to a node's IP.
type Location struct {
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// GeoResolver looks up the location for an IP. Implementations are
// best-effort; a miss leaves the record's location fields unset.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) (Location, bool)
}

// HTTPGeoResolver queries an external geolocation service and memoizes
// results: node IPs barely churn, so a long TTL saves the rate limit.
type HTTPGeoResolver struct {
	endpoint string
	httpc    *http.Client
	cache    *TTLCache[Location]
	log      *zap.Logger
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func NewHTTPGeoResolver(log *zap.Logger) *HTTPGeoResolver {
	return &HTTPGeoResolver{
		endpoint: envDefault("GEOIP_ENDPOINT", "http://ip-api.com/json"),
		httpc:    &http.Client{Timeout: 5 * time.Second},
		cache:    NewTTLCache[Location](24 * time.Hour),
		log:      log,
	}
}

func (g *HTTPGeoResolver) Lookup(ctx context.Context, ip string) (Location, bool) {
	if ip == "" {
		return Location{}, false
	}
	if loc, ok := g.cache.Get(ip); ok {
		return loc, true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.endpoint, ip), nil)
	if err != nil {
		return Location{}, false
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return Location{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, false
	}
	var loc Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		g.log.Debug("geoip decode failed", zap.String("ip", ip), zap.Error(err))
		return Location{}, false
	}
	g.cache.Set(ip, loc)
	return loc, true
}
