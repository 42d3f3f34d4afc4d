// Package risk maintains explainable 0..100 risk scores per business,
// recomputed globally after every transaction.
package risk

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// AlertOutcome pairs an alert with its persistence result. Persistence
// failure never suppresses the alert itself.
type AlertOutcome struct {
	Alert     domain.Alert `json:"alert"`
	Persisted bool         `json:"persisted"`
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Alerts []AlertOutcome `json:"alerts"`

	// ImpactedNodeIDs is always [from, to], with the id repeated when a
	// transaction is a self loop.
	ImpactedNodeIDs []string `json:"impactedNodeIds"`
}

// DomainAlerts flattens the outcomes to plain alerts for broadcast.
func (r Result) DomainAlerts() []domain.Alert {
	alerts := make([]domain.Alert, 0, len(r.Alerts))
	for _, o := range r.Alerts {
		alerts = append(alerts, o.Alert)
	}
	return alerts
}

// Scorer owns the rolling stats store and drives the full update sequence:
// stats update, rule evaluation, alert persistence, window pruning, and the
// global score recompute. All compound operations are serialized behind one
// mutex so aggregate scans never observe a torn snapshot.
type Scorer struct {
	mu       sync.Mutex
	cfg      domain.RiskConfig
	store    *stats.Store
	engine   *rules.Engine
	alertLog domain.AlertLog

	now func() time.Time
}

// NewScorer creates a scorer with a fresh stats store. Risk state is
// volatile: it lives for the process lifetime and is rebuilt from scratch
// after a restart.
func NewScorer(cfg domain.RiskConfig, engine *rules.Engine, alertLog domain.AlertLog) *Scorer {
	return &Scorer{
		cfg:      cfg,
		store:    stats.NewStore(),
		engine:   engine,
		alertLog: alertLog,
		now:      time.Now,
	}
}

// EvaluateAndUpdate processes one transaction: updates rolling stats, runs
// the rules, persists resulting alerts (fail-open), stamps non-low alerts
// onto both endpoint windows, prunes every tracked window, and recomputes
// all scores. Collaborator failures are logged and absorbed; the method
// never fails.
func (s *Scorer) EvaluateAndUpdate(ctx context.Context, tx domain.Transaction) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.RecordTransaction(tx.From, tx.To, tx.Amount)

	alerts := s.engine.Evaluate(ctx, tx)

	nowMillis := s.now().UnixMilli()
	outcomes := make([]AlertOutcome, 0, len(alerts))
	for _, alert := range alerts {
		persisted := false
		id, err := s.alertLog.InsertAlert(ctx, alert)
		if err != nil {
			slog.Error("failed to persist alert", "type", alert.Type, "from", alert.From, "to", alert.To, "error", err)
		} else {
			alert.ID = id
			persisted = true
		}

		if alert.Severity != domain.SeverityLow {
			s.store.RecordAlertOccurrence(alert.From, nowMillis)
			s.store.RecordAlertOccurrence(alert.To, nowMillis)
		}

		outcomes = append(outcomes, AlertOutcome{Alert: alert, Persisted: persisted})
	}

	// Global sweep, not lazy-per-node: decayed alert counts are consistent
	// immediately after any transaction.
	s.store.ForEach(func(_ string, n *stats.NodeStats) {
		n.PruneAlertWindow(nowMillis, s.cfg.AlertsWindow)
	})

	s.recomputeScores()

	return Result{
		Alerts:          outcomes,
		ImpactedNodeIDs: []string{tx.From, tx.To},
	}
}

// recomputeScores rebuilds every entity's components and score from the
// current aggregates. Caller must hold the mutex.
func (s *Scorer) recomputeScores() {
	maxDegree := 1
	maxVolume := 1.0
	s.store.ForEach(func(_ string, n *stats.NodeStats) {
		if d := n.Degree(); d > maxDegree {
			maxDegree = d
		}
		if v := n.TotalVolume(); v > maxVolume {
			maxVolume = v
		}
	})

	divisor := s.cfg.AlertsPenaltyDivisor
	if divisor < 1 {
		divisor = 1
	}

	s.store.ForEach(func(_ string, n *stats.NodeStats) {
		volumeComponent := clamp01(math.Log1p(n.TotalVolume()) / math.Log1p(maxVolume))
		degreeComponent := clamp01(float64(n.Degree()) / float64(maxDegree))
		alertsComponent := clamp01(float64(len(n.AlertTimestamps)) / float64(divisor))

		raw := s.cfg.WeightVolume*volumeComponent +
			s.cfg.WeightDegree*degreeComponent +
			s.cfg.WeightAlerts*alertsComponent

		n.RiskScore = math.Round(100*raw*10) / 10
		n.LastComponents = &stats.Components{
			Volume: volumeComponent,
			Degree: degreeComponent,
			Alerts: alertsComponent,
		}
	})
}

// AugmentNodesWithRisk projects risk fields onto nodes for broadcast
// payloads. It creates zero-valued stats for never-seen ids and prunes each
// read window against the current time, but does not recompute scores:
// scores only change on EvaluateAndUpdate.
func (s *Scorer) AugmentNodesWithRisk(nodes []domain.GraphNode) []domain.GraphNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMillis := s.now().UnixMilli()
	out := make([]domain.GraphNode, len(nodes))
	for i, node := range nodes {
		n := s.store.GetOrCreate(node.ID)
		n.PruneAlertWindow(nowMillis, s.cfg.AlertsWindow)

		var components stats.Components
		if n.LastComponents != nil {
			components = *n.LastComponents
		}

		weighted := s.cfg.WeightVolume*components.Volume +
			s.cfg.WeightDegree*components.Degree +
			s.cfg.WeightAlerts*components.Alerts

		node.RiskScore = n.RiskScore
		node.AlertsCount = len(n.AlertTimestamps)
		node.RiskBreakdown = &domain.RiskBreakdown{
			Components: domain.RiskComponents{
				Volume: components.Volume,
				Degree: components.Degree,
				Alerts: components.Alerts,
			},
			Weights:       s.cfg.Weights(),
			WeightedScore: weighted,
		}
		out[i] = node
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
