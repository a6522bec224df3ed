package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Credits is a node's on-chain standing, keyed by identity.
type Credits struct {
	Credits int64 `json:"credits"`
	Rank    int   `json:"rank"`
}

// CreditsSource resolves on-chain credits for an identity. Best-effort:
// a miss leaves the record's credits fields unset, and reconciliation
// preserves whatever an earlier cycle learned.
type CreditsSource interface {
	Lookup(ctx context.Context, identity string) (Credits, bool)
}

// HTTPCreditsSource queries the chain indexer with a short-TTL cache so
// one cycle never asks twice for the same identity.
type HTTPCreditsSource struct {
	endpoint string
	httpc    *http.Client
	cache    *TTLCache[Credits]
	log      *zap.Logger
}

func NewHTTPCreditsSource(log *zap.Logger) *HTTPCreditsSource {
	return &HTTPCreditsSource{
		endpoint: envDefault("CREDITS_ENDPOINT", "https://credits.xandeum.network/api/v1/credits"),
		httpc:    &http.Client{Timeout: 5 * time.Second},
		cache:    NewTTLCache[Credits](10 * time.Minute),
		log:      log,
	}
}

func (s *HTTPCreditsSource) Lookup(ctx context.Context, identity string) (Credits, bool) {
	if identity == "" {
		return Credits{}, false
	}
	if c, ok := s.cache.Get(identity); ok {
		return c, true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.endpoint, identity), nil)
	if err != nil {
		return Credits{}, false
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return Credits{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Credits{}, false
	}
	var c Credits
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		s.log.Debug("credits decode failed", zap.String("identity", identity), zap.Error(err))
		return Credits{}, false
	}
	s.cache.Set(identity, c)
	return c, true
}
