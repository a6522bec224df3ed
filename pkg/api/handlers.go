// Package api exposes the read surface of the dashboard plus the
// operator endpoints: node listings, network stats, snapshot history,
// a manual refresh trigger, metrics and the live stats socket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/auth"
	"pglobe/pkg/model"
	"pglobe/pkg/refresh"
	"pglobe/pkg/store"
	"pglobe/pkg/telemetry"
)

// SnapshotReader is the history surface the API needs.
type SnapshotReader interface {
	Recent(ctx context.Context, limit int) ([]*model.Snapshot, error)
	Get(ctx context.Context, id int64) (*model.Snapshot, bool, error)
}

// Refresher triggers one cycle on demand.
type Refresher interface {
	RunCycle(ctx context.Context) (refresh.CycleResult, error)
}

// Handler wires the HTTP surface. Snapshots and Refresher are optional;
// their endpoints answer 404 / 503 when absent.
type Handler struct {
	Nodes     store.NodeStore
	Snapshots SnapshotReader
	Refresher Refresher
	Hub       *Hub
	Log       *zap.Logger
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/api/v1/nodes", h.handleNodes)
	mux.HandleFunc("/api/v1/nodes/", h.handleNode)
	mux.HandleFunc("/api/v1/network/stats", h.handleNetworkStats)
	mux.HandleFunc("/api/v1/snapshots", h.handleSnapshots)
	mux.HandleFunc("/api/v1/snapshots/", h.handleSnapshot)
	mux.HandleFunc("/api/v1/refresh", auth.Middleware(h.handleRefresh))
	mux.Handle("/metrics", telemetry.Handler())
	if h.Hub != nil {
		mux.HandleFunc("/ws", h.Hub.HandleWS)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.Nodes.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNodes lists the reconciled set, optionally filtered by ?state=.
func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodes, err := h.Nodes.ListNodes(r.Context())
	if err != nil {
		h.Log.Error("list nodes failed", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := nodes[:0]
		for _, rec := range nodes {
			if string(rec.LifecycleState) == state {
				filtered = append(filtered, rec)
			}
		}
		nodes = filtered
	}
	sort.Slice(nodes, func(i, j int) bool { return store.Key(nodes[i]) < store.Key(nodes[j]) })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(nodes),
		"nodes": nodes,
	})
}

func (h *Handler) handleNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/nodes/")
	if key == "" {
		http.Error(w, "node key required", http.StatusBadRequest)
		return
	}
	rec, ok, err := h.Nodes.GetNode(r.Context(), key)
	if err != nil {
		h.Log.Error("get node failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodes, err := h.Nodes.ListNodes(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model.ComputeNetworkStats(nodes, time.Now()))
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Snapshots == nil {
		http.Error(w, "snapshots disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := h.Snapshots.Recent(r.Context(), limit)
	if err != nil {
		h.Log.Error("list snapshots failed", zap.Error(err))
		http.Error(w, "snapshot store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(snaps),
		"snapshots": snaps,
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Snapshots == nil {
		http.Error(w, "snapshots disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/v1/snapshots/"), 10, 64)
	if err != nil {
		http.Error(w, "snapshot id must be numeric", http.StatusBadRequest)
		return
	}
	snap, ok, err := h.Snapshots.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "snapshot store unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRefresh runs one cycle synchronously so the operator sees the
// outcome in the response.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Refresher == nil {
		http.Error(w, "refresh unavailable", http.StatusServiceUnavailable)
		return
	}
	res, err := h.Refresher.RunCycle(r.Context())
	if errors.Is(err, refresh.ErrCycleInProgress) {
		http.Error(w, "cycle already running", http.StatusConflict)
		return
	}
	if err != nil {
		h.Log.Error("manual refresh failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
