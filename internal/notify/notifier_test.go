package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/community"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type fakeGraphStore struct {
	mu  sync.Mutex
	txs []domain.Transaction
}

func (s *fakeGraphStore) GetAllNodes(ctx context.Context) ([]domain.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var nodes []domain.GraphNode
	for _, tx := range s.txs {
		for _, id := range []string{tx.From, tx.To} {
			if !seen[id] {
				seen[id] = true
				nodes = append(nodes, domain.GraphNode{ID: id, Label: id})
			}
		}
	}
	return nodes, nil
}

func (s *fakeGraphStore) GetAllEdges(ctx context.Context) ([]domain.GraphEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := make(map[[2]string]*domain.GraphEdge)
	var order [][2]string
	for _, tx := range s.txs {
		key := [2]string{tx.From, tx.To}
		if e, ok := agg[key]; ok {
			e.TransactionCount++
			e.TransactionAmount += tx.Amount
			continue
		}
		agg[key] = &domain.GraphEdge{
			Source:            tx.From,
			Target:            tx.To,
			TransactionCount:  1,
			TransactionAmount: tx.Amount,
		}
		order = append(order, key)
	}

	edges := make([]domain.GraphEdge, 0, len(order))
	for _, key := range order {
		edges = append(edges, *agg[key])
	}
	return edges, nil
}

func (s *fakeGraphStore) FindFilteredEdges(ctx context.Context, filter domain.EdgeFilter) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for _, tx := range s.txs {
		if filter.From != "" && tx.From != filter.From {
			continue
		}
		if filter.To != "" && tx.To != filter.To {
			continue
		}
		if filter.Start != nil && tx.Timestamp.Before(*filter.Start) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeGraphStore) CreateEdge(ctx context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *fakeGraphStore) CreateBusiness(ctx context.Context, b domain.Business) error { return nil }
func (s *fakeGraphStore) Ping(ctx context.Context) error                              { return nil }
func (s *fakeGraphStore) Close() error                                                { return nil }

type fakeAlertLog struct {
	mu     sync.Mutex
	nextID int64
	alerts []domain.Alert
}

func (l *fakeAlertLog) InsertAlert(ctx context.Context, alert domain.Alert) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	alert.ID = l.nextID
	l.alerts = append(l.alerts, alert)
	return alert.ID, nil
}

func (l *fakeAlertLog) FindRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Alert
	for i := len(l.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.alerts[i])
	}
	return out, nil
}

func (l *fakeAlertLog) Ping(ctx context.Context) error { return nil }
func (l *fakeAlertLog) Close() error                   { return nil }

type fakeCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[key], nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }
func (c *fakeCache) Close() error                   { return nil }

type publishedMsg struct {
	topic   string
	payload []byte
}

type fakeBus struct {
	mu        sync.Mutex
	published []publishedMsg
}

func (b *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{topic: topic, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *fakeBus) Ping(ctx context.Context) error { return nil }
func (b *fakeBus) Close() error                   { return nil }

func (b *fakeBus) onTopic(topic string) []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMsg
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	store    *fakeGraphStore
	scorer   *risk.Scorer
	cache    *fakeCache
	bus      *fakeBus
	notifier *Notifier
}

func newFixture(t *testing.T, filterExpr string) *fixture {
	t.Helper()

	store := &fakeGraphStore{}
	riskCfg := domain.DefaultRiskConfig()
	engine := rules.NewEngine(riskCfg, store)
	scorer := risk.NewScorer(riskCfg, engine, &fakeAlertLog{})
	// Recompute labels on every transaction so assertions see fresh state.
	communityCfg := domain.CommunityConfig{EveryNTx: 1, Interval: 30 * time.Second}
	detector := community.NewDetector(communityCfg, store)
	recorder := metrics.NewRecorder()

	filter, err := rules.NewFilter(filterExpr)
	if err != nil {
		t.Fatalf("filter compile failed: %v", err)
	}

	cache := newFakeCache()
	bus := &fakeBus{}

	return &fixture{
		store:    store,
		scorer:   scorer,
		cache:    cache,
		bus:      bus,
		notifier: NewNotifier(store, scorer, detector, recorder, filter, cache, bus),
	}
}

func (f *fixture) ingest(t *testing.T, ctx context.Context, tx domain.Transaction) risk.Result {
	t.Helper()
	if err := f.store.CreateEdge(ctx, tx); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}
	result := f.scorer.EvaluateAndUpdate(ctx, tx)
	if err := f.notifier.PublishUpdate(ctx, tx, result); err != nil {
		t.Fatalf("publish update failed: %v", err)
	}
	return result
}

func TestPublishUpdateBroadcastsSnapshot(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	tx := domain.Transaction{
		From:      "acme",
		To:        "globex",
		Amount:    120000,
		Timestamp: time.Now().UTC(),
	}
	f.ingest(t, ctx, tx)

	updates := f.bus.onTopic(domain.TopicGraphUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected 1 graph update, got %d", len(updates))
	}

	var update domain.GraphUpdate
	if err := json.Unmarshal(updates[0].payload, &update); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}

	if len(update.Nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(update.Nodes))
	}
	if len(update.Edges) != 1 {
		t.Errorf("expected 1 edge, got %d", len(update.Edges))
	}
	if update.NewTransaction == nil || update.NewTransaction.From != "acme" {
		t.Error("expected the triggering transaction in the update")
	}
	if update.Metrics == nil || update.Metrics.TotalTransactions != 1 {
		t.Error("expected metrics rollup with 1 transaction")
	}

	// 120000 trips the high value rule, plus first time link
	if len(update.Alerts) != 2 {
		t.Errorf("expected 2 alerts in the update, got %d", len(update.Alerts))
	}

	// Risk scores flow through to the broadcast nodes
	for _, node := range update.Nodes {
		if node.RiskScore <= 0 {
			t.Errorf("node %s should carry a positive risk score", node.ID)
		}
	}
}

func TestPublishUpdateCachesSnapshot(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.ingest(t, ctx, domain.Transaction{
		From:      "acme",
		To:        "globex",
		Amount:    100,
		Timestamp: time.Now().UTC(),
	})

	data, _ := f.cache.Get(ctx, SnapshotKey)
	if data == nil {
		t.Fatal("expected snapshot in cache after publish")
	}

	var cached domain.GraphUpdate
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatalf("failed to decode cached snapshot: %v", err)
	}
	if len(cached.Nodes) != 2 {
		t.Errorf("expected 2 nodes in cached snapshot, got %d", len(cached.Nodes))
	}
}

func TestPublishUpdateBroadcastsAlerts(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.ingest(t, ctx, domain.Transaction{
		From:      "acme",
		To:        "acme",
		Amount:    50,
		Timestamp: time.Now().UTC(),
	})

	alerts := f.bus.onTopic(domain.TopicAlert)
	if len(alerts) == 0 {
		t.Fatal("expected alerts published on the alert topic")
	}

	var alert domain.Alert
	if err := json.Unmarshal(alerts[0].payload, &alert); err != nil {
		t.Fatalf("failed to decode alert: %v", err)
	}
	if alert.From != "acme" || alert.To != "acme" {
		t.Errorf("alert endpoints wrong: %s -> %s", alert.From, alert.To)
	}
}

func TestPublishUpdateAppliesBroadcastFilter(t *testing.T) {
	f := newFixture(t, `severity == "high"`)
	ctx := context.Background()

	// Low severity only: first time link
	f.ingest(t, ctx, domain.Transaction{
		From:      "acme",
		To:        "globex",
		Amount:    100,
		Timestamp: time.Now().UTC(),
	})

	if got := f.bus.onTopic(domain.TopicAlert); len(got) != 0 {
		t.Errorf("filter should suppress low severity alerts, got %d", len(got))
	}

	// Self loop is high severity and passes
	f.ingest(t, ctx, domain.Transaction{
		From:      "initech",
		To:        "initech",
		Amount:    100,
		Timestamp: time.Now().UTC(),
	})

	filtered := f.bus.onTopic(domain.TopicAlert)
	if len(filtered) == 0 {
		t.Fatal("expected high severity alert to pass the filter")
	}
	for _, m := range filtered {
		var alert domain.Alert
		if err := json.Unmarshal(m.payload, &alert); err != nil {
			t.Fatalf("failed to decode alert: %v", err)
		}
		if alert.Severity != domain.SeverityHigh {
			t.Errorf("filter leaked severity %s", alert.Severity)
		}
	}

	// The graph update stream is not filtered
	if got := f.bus.onTopic(domain.TopicGraphUpdate); len(got) != 2 {
		t.Errorf("expected 2 graph updates regardless of filter, got %d", len(got))
	}
}

func TestCachedSnapshotMissComposes(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_ = f.store.CreateEdge(ctx, domain.Transaction{
		From:      "acme",
		To:        "globex",
		Amount:    10,
		Timestamp: time.Now().UTC(),
	})

	update, err := f.notifier.CachedSnapshot(ctx)
	if err != nil {
		t.Fatalf("cached snapshot failed: %v", err)
	}
	if len(update.Nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(update.Nodes))
	}

	// Miss path populates the cache
	if data, _ := f.cache.Get(ctx, SnapshotKey); data == nil {
		t.Error("expected snapshot cached after miss")
	}
}

func TestSnapshotLabelsCommunities(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	f.ingest(t, ctx, domain.Transaction{From: "a", To: "b", Amount: 10, Timestamp: now})
	f.ingest(t, ctx, domain.Transaction{From: "c", To: "d", Amount: 10, Timestamp: now})

	update, err := f.notifier.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	labels := make(map[string]string)
	for _, node := range update.Nodes {
		if node.CommunityID == "" {
			t.Errorf("node %s missing community label", node.ID)
			continue
		}
		labels[node.ID] = node.CommunityID
	}

	if labels["a"] != labels["b"] {
		t.Error("a and b should share a community")
	}
	if labels["c"] != labels["d"] {
		t.Error("c and d should share a community")
	}
	if labels["a"] == labels["c"] {
		t.Error("disconnected pairs should have distinct communities")
	}
}
