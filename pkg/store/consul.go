package store

import (
	"context"
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"pglobe/pkg/model"
)

const nodePrefix = "pglobe/nodes/"

// ConsulStore keeps one JSON document per node under a KV prefix.
type ConsulStore struct {
	cli *consulapi.Client
}

func NewConsulStore(addr string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulStore{cli: cli}, nil
}

func (s *ConsulStore) UpsertNode(ctx context.Context, rec *model.NodeRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal node %s: %w", Key(rec), err)
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: nodePrefix + Key(rec), Value: b}, new(consulapi.WriteOptions).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("consul put: %w", err)
	}
	return nil
}

func (s *ConsulStore) UpsertNodes(ctx context.Context, recs []*model.NodeRecord) error {
	for _, rec := range recs {
		if err := s.UpsertNode(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsulStore) GetNode(ctx context.Context, key string) (*model.NodeRecord, bool, error) {
	kv, _, err := s.cli.KV().Get(nodePrefix+key, new(consulapi.QueryOptions).WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("consul get: %w", err)
	}
	if kv == nil {
		return nil, false, nil
	}
	var rec model.NodeRecord
	if err := json.Unmarshal(kv.Value, &rec); err != nil {
		return nil, false, fmt.Errorf("decode node %s: %w", key, err)
	}
	return &rec, true, nil
}

func (s *ConsulStore) ListNodes(ctx context.Context) ([]*model.NodeRecord, error) {
	pairs, _, err := s.cli.KV().List(nodePrefix, new(consulapi.QueryOptions).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list: %w", err)
	}
	out := make([]*model.NodeRecord, 0, len(pairs))
	for _, p := range pairs {
		var rec model.NodeRecord
		if err := json.Unmarshal(p.Value, &rec); err != nil {
			// One corrupt document must not hide the rest of the network.
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *ConsulStore) Ping(ctx context.Context) error {
	_, err := s.cli.Status().Leader()
	if err != nil {
		return fmt.Errorf("consul leader: %w", err)
	}
	return ctx.Err()
}
