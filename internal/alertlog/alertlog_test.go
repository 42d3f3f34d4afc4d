package alertlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestLog(t *testing.T) *SQLLog {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-alerts-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	log, err := New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create alert log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return log
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	alert := domain.Alert{
		Type:      domain.AlertHighValue,
		Severity:  domain.SeverityHigh,
		From:      "A",
		To:        "B",
		Amount:    120_000,
		Timestamp: ts,
	}

	id, err := log.InsertAlert(ctx, alert)
	if err != nil {
		t.Fatalf("InsertAlert failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive row id, got %d", id)
	}

	found, err := log.FindRecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("FindRecentAlerts failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(found))
	}

	got := found[0]
	if got.ID != id {
		t.Errorf("expected id %d, got %d", id, got.ID)
	}
	if got.Type != alert.Type || got.Severity != alert.Severity {
		t.Errorf("type/severity mismatch: %+v", got)
	}
	if got.From != alert.From || got.To != alert.To || got.Amount != alert.Amount {
		t.Errorf("field mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, got.Timestamp)
	}
}

func TestFindRecentAlertsOrdering(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		id, err := log.InsertAlert(ctx, domain.Alert{
			Type:      domain.AlertBurst,
			Severity:  domain.SeverityMedium,
			From:      "A",
			To:        "B",
			Amount:    float64(i),
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("InsertAlert failed: %v", err)
		}
		lastID = id
	}

	found, err := log.FindRecentAlerts(ctx, 3)
	if err != nil {
		t.Fatalf("FindRecentAlerts failed: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(found))
	}
	if found[0].ID != lastID {
		t.Errorf("expected most recent id %d first, got %d", lastID, found[0].ID)
	}
	for i := 1; i < len(found); i++ {
		if found[i].ID >= found[i-1].ID {
			t.Errorf("expected descending ids, got %d then %d", found[i-1].ID, found[i].ID)
		}
	}
}

func TestFindRecentAlertsDefaultLimit(t *testing.T) {
	log := newTestLog(t)

	found, err := log.FindRecentAlerts(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindRecentAlerts failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected empty log, got %d alerts", len(found))
	}
}
