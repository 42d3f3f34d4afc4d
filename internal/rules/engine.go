// Package rules evaluates the fixed fraud rule set against incoming
// transactions.
package rules

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the four built-in rules for one transaction. The BURST
// and FIRST_TIME_LINK rules query the graph store; a query failure is logged
// and treated as "rule did not trigger".
type Engine struct {
	cfg   domain.RiskConfig
	store domain.GraphStore
}

// NewEngine creates a rule engine reading historical edges from store.
func NewEngine(cfg domain.RiskConfig, store domain.GraphStore) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
	}
}

// Evaluate runs every rule in fixed order and returns zero or more alerts.
// Rules fire independently; several may co-fire for the same transaction.
// It never returns an error: collaborator failures degrade the affected
// rule only.
func (e *Engine) Evaluate(ctx context.Context, tx domain.Transaction) []domain.Alert {
	var alerts []domain.Alert

	// SELF_LOOP
	if tx.From == tx.To {
		alerts = append(alerts, newAlert(domain.AlertSelfLoop, domain.SeverityHigh, tx))
	}

	// HIGH_VALUE
	if tx.Amount >= e.cfg.HighValueThreshold {
		alerts = append(alerts, newAlert(domain.AlertHighValue, domain.SeverityHigh, tx))
	}

	// BURST: count of pair edges inside the trailing window
	windowStart := tx.Timestamp.Add(-e.cfg.BurstWindow)
	recent, err := e.store.FindFilteredEdges(ctx, domain.EdgeFilter{
		From:  tx.From,
		To:    tx.To,
		Start: &windowStart,
	})
	if err != nil {
		slog.Error("burst rule query failed; continuing", "from", tx.From, "to", tx.To, "error", err)
	} else if len(recent) >= e.cfg.BurstMinCount {
		alerts = append(alerts, newAlert(domain.AlertBurst, domain.SeverityMedium, tx))
	}

	// FIRST_TIME_LINK: the current edge is the only one for this pair
	all, err := e.store.FindFilteredEdges(ctx, domain.EdgeFilter{
		From: tx.From,
		To:   tx.To,
	})
	if err != nil {
		slog.Error("first-time-link rule query failed; continuing", "from", tx.From, "to", tx.To, "error", err)
	} else if len(all) == 1 {
		alerts = append(alerts, newAlert(domain.AlertFirstTimeLink, domain.SeverityLow, tx))
	}

	return alerts
}

func newAlert(alertType domain.AlertType, severity domain.Severity, tx domain.Transaction) domain.Alert {
	return domain.Alert{
		Type:      alertType,
		Severity:  severity,
		From:      tx.From,
		To:        tx.To,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
	}
}
