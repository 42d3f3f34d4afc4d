package domain

import (
	"time"
)

// AlertType identifies which rule produced an alert.
type AlertType string

const (
	AlertHighValue     AlertType = "HIGH_VALUE"
	AlertBurst         AlertType = "BURST"
	AlertFirstTimeLink AlertType = "FIRST_TIME_LINK"
	AlertSelfLoop      AlertType = "SELF_LOOP"
)

// Severity grades an alert. Only high and medium alerts count toward an
// entity's alert window.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is one rule firing for one transaction. Multiple alerts may be
// produced per transaction; they are independent, never deduplicated.
type Alert struct {
	// ID is assigned by the alert log on persist; zero until then.
	ID        int64     `json:"id,omitempty"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
