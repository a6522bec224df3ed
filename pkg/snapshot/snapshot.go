package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pglobe/pkg/model"
)

// Sink appends one full-network snapshot per successful cycle to a local
// sqlite file. Snapshots are append-only; trimming is a retention decision
// made by the caller via Prune.
type Sink struct {
	db *sql.DB
}

// Open creates the snapshot database (and parent directory) if needed.
func Open(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot ping: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS snapshots(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		node_count INTEGER NOT NULL,
		stats TEXT NOT NULL,
		nodes TEXT NOT NULL
	); CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// Append stores one snapshot and returns its assigned id.
func (s *Sink) Append(ctx context.Context, snap *model.Snapshot) (int64, error) {
	stats, err := json.Marshal(snap.Stats)
	if err != nil {
		return 0, fmt.Errorf("marshal stats: %w", err)
	}
	nodes, err := json.Marshal(snap.Nodes)
	if err != nil {
		return 0, fmt.Errorf("marshal nodes: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(taken_at, node_count, stats, nodes) VALUES(?,?,?,?)`,
		snap.TakenAt.UnixMilli(), snap.NodeCount, string(stats), string(nodes))
	if err != nil {
		return 0, fmt.Errorf("snapshot insert: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit snapshots, newest first, without the node
// payloads. Use Get for a full snapshot.
func (s *Sink) Recent(ctx context.Context, limit int) ([]*model.Snapshot, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, taken_at, node_count, stats FROM snapshots ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot list: %w", err)
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		var (
			snap    model.Snapshot
			takenAt int64
			stats   string
		)
		if err := rows.Scan(&snap.ID, &takenAt, &snap.NodeCount, &stats); err != nil {
			return nil, err
		}
		snap.TakenAt = time.UnixMilli(takenAt)
		if err := json.Unmarshal([]byte(stats), &snap.Stats); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", snap.ID, err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// Get returns one snapshot with its full node listing.
func (s *Sink) Get(ctx context.Context, id int64) (*model.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, node_count, stats, nodes FROM snapshots WHERE id = ?`, id)
	var (
		snap    model.Snapshot
		takenAt int64
		stats   string
		nodes   string
	)
	err := row.Scan(&snap.ID, &takenAt, &snap.NodeCount, &stats, &nodes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	snap.TakenAt = time.UnixMilli(takenAt)
	if err := json.Unmarshal([]byte(stats), &snap.Stats); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(nodes), &snap.Nodes); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %d nodes: %w", id, err)
	}
	return &snap, true, nil
}

// Prune drops snapshots taken before the cutoff.
func (s *Sink) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE taken_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("snapshot prune: %w", err)
	}
	return res.RowsAffected()
}
