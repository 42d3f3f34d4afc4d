// Package notify composes enriched graph snapshots and broadcasts them
// to subscribers over the event bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/community"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// SnapshotKey is the cache key holding the latest composed snapshot.
const SnapshotKey = "snapshot:latest"

// DefaultSnapshotTTL bounds how long a cached snapshot may serve new
// subscribers before a fresh composition is forced.
const DefaultSnapshotTTL = 5 * time.Minute

// Notifier assembles enriched graph updates after each transaction and
// publishes them on the event bus. The latest snapshot is kept in cache
// so newly attached subscribers get initial state without recomputation.
type Notifier struct {
	store    domain.GraphStore
	scorer   *risk.Scorer
	detector *community.Detector
	recorder *metrics.Recorder
	filter   *rules.Filter
	cache    domain.Cache
	bus      domain.EventBus
	ttl      time.Duration
}

// NewNotifier creates a notifier wired to the given collaborators.
// filter may be nil to broadcast all alerts.
func NewNotifier(
	store domain.GraphStore,
	scorer *risk.Scorer,
	detector *community.Detector,
	recorder *metrics.Recorder,
	filter *rules.Filter,
	cache domain.Cache,
	bus domain.EventBus,
) *Notifier {
	return &Notifier{
		store:    store,
		scorer:   scorer,
		detector: detector,
		recorder: recorder,
		filter:   filter,
		cache:    cache,
		bus:      bus,
		ttl:      DefaultSnapshotTTL,
	}
}

// Snapshot composes the current enriched graph state: all nodes with
// risk scores and community labels, all aggregated edges, and the
// metrics rollup.
func (n *Notifier) Snapshot(ctx context.Context) (*domain.GraphUpdate, error) {
	nodes, err := n.store.GetAllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}

	edges, err := n.store.GetAllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}

	nodes = n.scorer.AugmentNodesWithRisk(nodes)

	nodes, err = n.detector.AugmentNodesWithCommunities(ctx, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to label communities: %w", err)
	}

	rollup := n.recorder.Rollup()

	return &domain.GraphUpdate{
		Nodes:   nodes,
		Edges:   edges,
		Metrics: &rollup,
	}, nil
}

// PublishUpdate records the transaction, refreshes community labels if
// due, composes a fresh snapshot, caches it, and publishes it on the
// graph update topic. Alerts passing the broadcast filter are also
// published individually on the alert topic.
func (n *Notifier) PublishUpdate(ctx context.Context, tx domain.Transaction, result risk.Result) error {
	alerts := result.DomainAlerts()
	n.recorder.Record(tx, alerts)

	// Hybrid invalidation: recompute labels when the transaction count
	// or elapsed-time threshold is reached. A failure here degrades
	// labels, not the broadcast.
	if err := n.detector.MaybeRecompute(ctx); err != nil {
		slog.Error("community recompute failed",
			"error", err,
		)
	}

	update, err := n.Snapshot(ctx)
	if err != nil {
		return err
	}
	update.NewTransaction = &tx
	update.Alerts = alerts

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal graph update: %w", err)
	}

	if err := n.cache.Set(ctx, SnapshotKey, payload, n.ttl); err != nil {
		slog.Error("failed to cache snapshot",
			"error", err,
		)
	}

	if err := n.bus.Publish(ctx, domain.TopicGraphUpdate, payload); err != nil {
		return fmt.Errorf("failed to publish graph update: %w", err)
	}

	for _, alert := range alerts {
		if !n.filter.Allow(alert) {
			continue
		}
		data, err := json.Marshal(alert)
		if err != nil {
			slog.Error("failed to marshal alert",
				"alert_type", alert.Type,
				"error", err,
			)
			continue
		}
		if err := n.bus.Publish(ctx, domain.TopicAlert, data); err != nil {
			slog.Error("failed to publish alert",
				"alert_type", alert.Type,
				"error", err,
			)
		}
	}

	return nil
}

// CachedSnapshot returns the most recent cached snapshot, composing and
// caching a fresh one on miss.
func (n *Notifier) CachedSnapshot(ctx context.Context) (*domain.GraphUpdate, error) {
	data, err := n.cache.Get(ctx, SnapshotKey)
	if err != nil {
		slog.Error("snapshot cache read failed",
			"error", err,
		)
	}
	if data != nil {
		var update domain.GraphUpdate
		if err := json.Unmarshal(data, &update); err == nil {
			return &update, nil
		}
		slog.Error("discarding corrupt cached snapshot")
	}

	update, err := n.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(update); err == nil {
		_ = n.cache.Set(ctx, SnapshotKey, payload, n.ttl)
	}

	return update, nil
}
