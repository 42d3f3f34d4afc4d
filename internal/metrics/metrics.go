// Package metrics accumulates the running rollup counters broadcast with
// each graph update.
package metrics

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder is a process-wide counter set. Safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	totalTransactions int64
	totalAmount       float64
	alertHigh         int64
	alertMedium       int64
	alertLow          int64
}

// NewRecorder creates a zeroed recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record counts one transaction and its alerts.
func (r *Recorder) Record(tx domain.Transaction, alerts []domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalTransactions++
	r.totalAmount += tx.Amount

	for _, a := range alerts {
		switch a.Severity {
		case domain.SeverityHigh:
			r.alertHigh++
		case domain.SeverityMedium:
			r.alertMedium++
		default:
			r.alertLow++
		}
	}
}

// Rollup returns the current counter snapshot.
func (r *Recorder) Rollup() domain.MetricsRollup {
	r.mu.Lock()
	defer r.mu.Unlock()

	return domain.MetricsRollup{
		TotalTransactions: r.totalTransactions,
		TotalAmount:       r.totalAmount,
		Alerts: domain.AlertCounts{
			Total:  r.alertHigh + r.alertMedium + r.alertLow,
			High:   r.alertHigh,
			Medium: r.alertMedium,
			Low:    r.alertLow,
		},
		GeneratedAt: time.Now().UTC(),
	}
}
