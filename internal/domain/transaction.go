// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Transaction is a single payment between two businesses. Immutable once
// created; amount and timestamp determine ordering and windowing.
type Transaction struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Business is a node in the transaction graph.
type Business struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// GraphNode is a business enriched for broadcast: risk overlay fields are
// filled in by the risk scorer, CommunityID by the community detector.
type GraphNode struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Industry string `json:"industry,omitempty"`

	RiskScore     float64        `json:"riskScore"`
	AlertsCount   int            `json:"alertsCount"`
	RiskBreakdown *RiskBreakdown `json:"riskBreakdown,omitempty"`
	CommunityID   string         `json:"communityId,omitempty"`
}

// GraphEdge is the aggregated view of all transactions between an ordered
// pair of businesses.
type GraphEdge struct {
	Source            string  `json:"source"`
	Target            string  `json:"target"`
	TransactionCount  int     `json:"transactionCount"`
	TransactionAmount float64 `json:"transactionAmount"`
}

// RiskBreakdown decomposes a risk score into its weighted normalized
// components, exposed for explainability.
type RiskBreakdown struct {
	Components RiskComponents `json:"components"`
	Weights    RiskWeights    `json:"weights"`

	// WeightedScore is the 0..1 weighted sum of the last-stored components.
	// It may lag RiskScore until the next transaction touches this entity;
	// scores only change on evaluation, not on projection.
	WeightedScore float64 `json:"weightedScore"`
}

// RiskComponents holds the three 0..1 normalized score inputs.
type RiskComponents struct {
	Volume float64 `json:"volume"`
	Degree float64 `json:"degree"`
	Alerts float64 `json:"alerts"`
}

// RiskWeights holds the configured component weights.
type RiskWeights struct {
	Volume float64 `json:"volume"`
	Degree float64 `json:"degree"`
	Alerts float64 `json:"alerts"`
}

// MetricsRollup is the running counter snapshot broadcast with each update.
type MetricsRollup struct {
	TotalTransactions int64       `json:"totalTransactions"`
	TotalAmount       float64     `json:"totalAmount"`
	Alerts            AlertCounts `json:"alerts"`
	GeneratedAt       time.Time   `json:"generatedAt"`
}

// AlertCounts breaks alert totals down by severity.
type AlertCounts struct {
	Total  int64 `json:"total"`
	High   int64 `json:"high"`
	Medium int64 `json:"medium"`
	Low    int64 `json:"low"`
}

// GraphUpdate is the enriched snapshot payload delivered to subscribers.
type GraphUpdate struct {
	Nodes          []GraphNode    `json:"nodes"`
	Edges          []GraphEdge    `json:"edges"`
	NewTransaction *Transaction   `json:"newTransaction,omitempty"`
	Alerts         []Alert        `json:"alerts,omitempty"`
	Metrics        *MetricsRollup `json:"metrics,omitempty"`
}
