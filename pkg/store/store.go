package store

import (
	"context"

	"pglobe/pkg/model"
)

// NodeStore is the persistence layer for reconciled node state: one
// document per key (identity when known, address otherwise).
// Implementations never delete documents; the reconciler marks nodes
// offline instead.
type NodeStore interface {
	UpsertNode(ctx context.Context, rec *model.NodeRecord) error
	UpsertNodes(ctx context.Context, recs []*model.NodeRecord) error
	GetNode(ctx context.Context, key string) (*model.NodeRecord, bool, error)
	ListNodes(ctx context.Context) ([]*model.NodeRecord, error)
	// Ping reports readiness for health endpoints.
	Ping(ctx context.Context) error
}

// Key is the document key for a record.
func Key(rec *model.NodeRecord) string {
	if rec.Identity != "" {
		return rec.Identity
	}
	return rec.NetworkAddress
}

// AsMap indexes a listing by document key for reconciliation.
func AsMap(recs []*model.NodeRecord) map[string]*model.NodeRecord {
	out := make(map[string]*model.NodeRecord, len(recs))
	for _, rec := range recs {
		out[Key(rec)] = rec
	}
	return out
}
