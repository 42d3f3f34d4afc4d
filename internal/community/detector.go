// Package community partitions the transaction graph into weakly-connected
// components, with hybrid count/time cache invalidation decoupled from the
// scoring path.
package community

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector labels each business with its component. The cache is rebuilt
// wholesale on every recompute, never incrementally patched, and is reset
// to empty on process start.
type Detector struct {
	mu    sync.Mutex
	cfg   domain.CommunityConfig
	store domain.GraphStore

	labelsByID   map[string]string
	lastComputed time.Time
	sinceCompute int

	now func() time.Time
}

// NewDetector creates a detector with an empty cache.
func NewDetector(cfg domain.CommunityConfig, store domain.GraphStore) *Detector {
	return &Detector{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// ComputeCommunities pulls the full graph fresh from the store, rebuilds the
// union-find, and replaces the label cache. Labels are "c1", "c2", ... in
// node iteration order, so they are ephemeral identifiers: a recompute over
// a differently-ordered backend can assign different text to the same
// partition. This is the only path where a store failure propagates; there
// is no fallback partition to serve.
func (d *Detector) ComputeCommunities(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.computeLocked(ctx)
}

func (d *Detector) computeLocked(ctx context.Context) error {
	nodes, err := d.store.GetAllNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch nodes: %w", err)
	}
	edges, err := d.store.GetAllEdges(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch edges: %w", err)
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	uf := newUnionFind(ids)
	// Direction is ignored: weak connectivity.
	for _, e := range edges {
		uf.union(e.Source, e.Target)
	}

	labelByRoot := make(map[string]string)
	labels := make(map[string]string, len(ids))
	next := 1
	for _, id := range ids {
		root := uf.find(id)
		label, ok := labelByRoot[root]
		if !ok {
			label = fmt.Sprintf("c%d", next)
			next++
			labelByRoot[root] = label
		}
		labels[id] = label
	}

	d.labelsByID = labels
	d.lastComputed = d.now()
	d.sinceCompute = 0

	slog.Info("communities recomputed", "communities", len(labelByRoot), "nodes", len(ids))
	return nil
}

// MaybeRecompute must be called exactly once per observed transaction event.
// It increments the counter first, then recomputes if the cache is empty,
// the counter reached the threshold, or the interval elapsed.
func (d *Detector) MaybeRecompute(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sinceCompute++

	enoughTransactions := d.sinceCompute >= d.cfg.EveryNTx
	intervalElapsed := d.now().Sub(d.lastComputed) >= d.cfg.Interval

	if len(d.labelsByID) == 0 || enoughTransactions || intervalElapsed {
		return d.computeLocked(ctx)
	}
	return nil
}

// AugmentNodesWithCommunities overlays cached labels onto nodes, computing
// first when the cache is empty. Nodes added to the store after the last
// computation get no community field.
func (d *Detector) AugmentNodesWithCommunities(ctx context.Context, nodes []domain.GraphNode) ([]domain.GraphNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.labelsByID) == 0 {
		if err := d.computeLocked(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]domain.GraphNode, len(nodes))
	for i, node := range nodes {
		node.CommunityID = d.labelsByID[node.ID]
		out[i] = node
	}
	return out, nil
}

// InitializeOnStartup recomputes unconditionally, for use once before
// serving any reads.
func (d *Detector) InitializeOnStartup(ctx context.Context) error {
	return d.ComputeCommunities(ctx)
}
