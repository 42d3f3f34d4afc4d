package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type fakeGraphStore struct {
	windowed  []domain.Transaction
	unbounded []domain.Transaction
}

func (f *fakeGraphStore) GetAllNodes(ctx context.Context) ([]domain.GraphNode, error) {
	return nil, nil
}

func (f *fakeGraphStore) GetAllEdges(ctx context.Context) ([]domain.GraphEdge, error) {
	return nil, nil
}

func (f *fakeGraphStore) FindFilteredEdges(ctx context.Context, filter domain.EdgeFilter) ([]domain.Transaction, error) {
	if filter.Start != nil {
		return f.windowed, nil
	}
	return f.unbounded, nil
}

func (f *fakeGraphStore) CreateEdge(ctx context.Context, tx domain.Transaction) error { return nil }
func (f *fakeGraphStore) CreateBusiness(ctx context.Context, b domain.Business) error { return nil }
func (f *fakeGraphStore) Ping(ctx context.Context) error                              { return nil }
func (f *fakeGraphStore) Close() error                                                { return nil }

type fakeAlertLog struct {
	nextID    int64
	inserted  []domain.Alert
	insertErr error
}

func (f *fakeAlertLog) InsertAlert(ctx context.Context, alert domain.Alert) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	f.inserted = append(f.inserted, alert)
	return f.nextID, nil
}

func (f *fakeAlertLog) FindRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return nil, nil
}

func (f *fakeAlertLog) Ping(ctx context.Context) error { return nil }
func (f *fakeAlertLog) Close() error                   { return nil }

// triggerAllConfig makes HIGH_VALUE, BURST, and FIRST_TIME_LINK easy to hit.
func triggerAllConfig() domain.RiskConfig {
	cfg := domain.DefaultRiskConfig()
	cfg.HighValueThreshold = 50_000
	cfg.BurstMinCount = 3
	return cfg
}

func TestEvaluateAndUpdateEmitsAllThreeAlerts(t *testing.T) {
	store := &fakeGraphStore{
		windowed:  []domain.Transaction{{}, {}, {}},
		unbounded: []domain.Transaction{{}},
	}
	log := &fakeAlertLog{}
	cfg := triggerAllConfig()
	scorer := NewScorer(cfg, rules.NewEngine(cfg, store), log)

	tx := domain.Transaction{From: "A", To: "B", Amount: 100_000, Timestamp: time.Now().UTC()}
	result := scorer.EvaluateAndUpdate(context.Background(), tx)

	types := make(map[domain.AlertType]bool)
	for _, o := range result.Alerts {
		types[o.Alert.Type] = true
		if !o.Persisted {
			t.Errorf("expected alert %s persisted", o.Alert.Type)
		}
		if o.Alert.ID == 0 {
			t.Errorf("expected alert %s to carry the assigned id", o.Alert.Type)
		}
	}
	if !types[domain.AlertHighValue] || !types[domain.AlertBurst] || !types[domain.AlertFirstTimeLink] {
		t.Fatalf("expected HIGH_VALUE + BURST + FIRST_TIME_LINK, got %v", types)
	}
	if len(log.inserted) != 3 {
		t.Errorf("expected 3 alert log inserts, got %d", len(log.inserted))
	}

	if len(result.ImpactedNodeIDs) != 2 || result.ImpactedNodeIDs[0] != "A" || result.ImpactedNodeIDs[1] != "B" {
		t.Errorf("expected impacted nodes [A B], got %v", result.ImpactedNodeIDs)
	}

	projected := scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "A"}, {ID: "B"}})
	for _, n := range projected {
		// Each endpoint got the two non-low alerts (HIGH_VALUE + BURST);
		// the low FIRST_TIME_LINK never contributes.
		if n.AlertsCount != 2 {
			t.Errorf("node %s: expected alertsCount 2, got %d", n.ID, n.AlertsCount)
		}
		if n.RiskScore <= 0 || n.RiskScore > 100 {
			t.Errorf("node %s: riskScore %v out of (0,100]", n.ID, n.RiskScore)
		}
		if n.RiskBreakdown == nil {
			t.Fatalf("node %s: missing riskBreakdown", n.ID)
		}
		if w := n.RiskBreakdown.Weights; w.Volume != 0.2 || w.Degree != 0.2 || w.Alerts != 0.6 {
			t.Errorf("node %s: unexpected weights %+v", n.ID, w)
		}
	}
}

func TestAugmentUnseenNodeProjectsZeroes(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	scorer := NewScorer(cfg, rules.NewEngine(cfg, &fakeGraphStore{}), &fakeAlertLog{})

	nodes := scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "Z"}})
	if nodes[0].RiskScore != 0 {
		t.Errorf("expected zero riskScore, got %v", nodes[0].RiskScore)
	}
	if nodes[0].AlertsCount != 0 {
		t.Errorf("expected zero alertsCount, got %d", nodes[0].AlertsCount)
	}
	if nodes[0].RiskBreakdown.WeightedScore != 0 {
		t.Errorf("expected zero weightedScore, got %v", nodes[0].RiskBreakdown.WeightedScore)
	}
}

func TestImpactedNodesSelfLoop(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	scorer := NewScorer(cfg, rules.NewEngine(cfg, &fakeGraphStore{}), &fakeAlertLog{})

	tx := domain.Transaction{From: "A", To: "A", Amount: 5, Timestamp: time.Now().UTC()}
	result := scorer.EvaluateAndUpdate(context.Background(), tx)

	if len(result.ImpactedNodeIDs) != 2 || result.ImpactedNodeIDs[0] != "A" || result.ImpactedNodeIDs[1] != "A" {
		t.Errorf("expected duplicated id [A A], got %v", result.ImpactedNodeIDs)
	}
}

func TestPersistFailureStillReturnsAlert(t *testing.T) {
	cfg := triggerAllConfig()
	log := &fakeAlertLog{insertErr: errors.New("log down")}
	scorer := NewScorer(cfg, rules.NewEngine(cfg, &fakeGraphStore{}), log)

	tx := domain.Transaction{From: "A", To: "B", Amount: 100_000, Timestamp: time.Now().UTC()}
	result := scorer.EvaluateAndUpdate(context.Background(), tx)

	if len(result.Alerts) == 0 {
		t.Fatal("expected alerts despite persistence failure")
	}
	for _, o := range result.Alerts {
		if o.Persisted {
			t.Errorf("expected persisted=false for %s", o.Alert.Type)
		}
	}
}

func TestAlertWindowDecay(t *testing.T) {
	cfg := triggerAllConfig()
	cfg.AlertsWindow = time.Minute
	scorer := NewScorer(cfg, rules.NewEngine(cfg, &fakeGraphStore{}), &fakeAlertLog{})

	base := time.Now().UTC()
	scorer.now = func() time.Time { return base }

	tx := domain.Transaction{From: "A", To: "B", Amount: 100_000, Timestamp: base}
	scorer.EvaluateAndUpdate(context.Background(), tx)

	nodes := scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "A"}})
	if nodes[0].AlertsCount != 1 {
		t.Fatalf("expected 1 windowed alert, got %d", nodes[0].AlertsCount)
	}

	// Past the window, the projection prune clears the count.
	scorer.now = func() time.Time { return base.Add(2 * time.Minute) }
	nodes = scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "A"}})
	if nodes[0].AlertsCount != 0 {
		t.Errorf("expected decayed alertsCount 0, got %d", nodes[0].AlertsCount)
	}
}

func TestLowSeverityNeverCounts(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	store := &fakeGraphStore{unbounded: []domain.Transaction{{}}} // only FIRST_TIME_LINK
	scorer := NewScorer(cfg, rules.NewEngine(cfg, store), &fakeAlertLog{})

	tx := domain.Transaction{From: "A", To: "B", Amount: 5, Timestamp: time.Now().UTC()}
	result := scorer.EvaluateAndUpdate(context.Background(), tx)

	if len(result.Alerts) != 1 || result.Alerts[0].Alert.Type != domain.AlertFirstTimeLink {
		t.Fatalf("expected only FIRST_TIME_LINK, got %v", result.Alerts)
	}

	nodes := scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "A"}, {ID: "B"}})
	for _, n := range nodes {
		if n.AlertsCount != 0 {
			t.Errorf("node %s: low severity must not count, got %d", n.ID, n.AlertsCount)
		}
	}
}

func TestVolumeNormalizationIsLogarithmic(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	scorer := NewScorer(cfg, rules.NewEngine(cfg, &fakeGraphStore{}), &fakeAlertLog{})

	ctx := context.Background()
	ts := time.Now().UTC()
	scorer.EvaluateAndUpdate(ctx, domain.Transaction{From: "A", To: "B", Amount: 1000, Timestamp: ts})
	scorer.EvaluateAndUpdate(ctx, domain.Transaction{From: "C", To: "D", Amount: 10, Timestamp: ts})

	nodes := scorer.AugmentNodesWithRisk([]domain.GraphNode{{ID: "A"}, {ID: "C"}})
	top, small := nodes[0].RiskBreakdown.Components, nodes[1].RiskBreakdown.Components

	if top.Volume != 1 {
		t.Errorf("top entity volume component should normalize to 1, got %v", top.Volume)
	}
	// ln(1+10)/ln(1+1000) is ~0.35: far more than the linear ratio 0.01.
	if small.Volume < 0.2 {
		t.Errorf("log normalization should compress the gap, got %v", small.Volume)
	}
	if small.Volume >= top.Volume {
		t.Errorf("smaller volume must not outrank the max, got %v >= %v", small.Volume, top.Volume)
	}
}
