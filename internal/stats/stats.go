// Package stats maintains per-entity rolling aggregates: cumulative volume,
// distinct-counterparty degree, and a sliding window of alert timestamps.
package stats

import (
	"time"
)

// NodeStats holds the mutable aggregates for one business. Entries are
// created lazily on first reference and live for the process lifetime.
type NodeStats struct {
	OutVolume float64
	InVolume  float64

	DegreeOut map[string]struct{}
	DegreeIn  map[string]struct{}

	// AlertTimestamps is ascending epoch-millis, append-only then pruned.
	AlertTimestamps []int64

	RiskScore      float64
	LastComponents *Components
}

// Components are the last-stored 0..1 normalized score inputs.
type Components struct {
	Volume float64
	Degree float64
	Alerts float64
}

// TotalVolume returns in + out volume.
func (n *NodeStats) TotalVolume() float64 {
	return n.OutVolume + n.InVolume
}

// Degree returns the total distinct counterparty count.
func (n *NodeStats) Degree() int {
	return len(n.DegreeIn) + len(n.DegreeOut)
}

// PruneAlertWindow drops timestamps older than now-window. The slice is
// sorted ascending, so a single forward scan finds the cut point.
func (n *NodeStats) PruneAlertWindow(nowMillis int64, window time.Duration) {
	if len(n.AlertTimestamps) == 0 {
		return
	}
	cutoff := nowMillis - window.Milliseconds()
	first := 0
	for first < len(n.AlertTimestamps) && n.AlertTimestamps[first] < cutoff {
		first++
	}
	if first > 0 {
		n.AlertTimestamps = n.AlertTimestamps[first:]
	}
}

// Store owns the per-entity stats map. It is not safe for concurrent use on
// its own: the risk scorer serializes every compound operation, including
// full-map scans, behind its own mutex.
type Store struct {
	byID map[string]*NodeStats
}

// NewStore creates an empty stats store.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*NodeStats),
	}
}

// GetOrCreate returns the stats for id, inserting a zero-valued record when
// the entity has never been seen. Never errors.
func (s *Store) GetOrCreate(id string) *NodeStats {
	if existing, ok := s.byID[id]; ok {
		return existing
	}
	created := &NodeStats{
		DegreeOut: make(map[string]struct{}),
		DegreeIn:  make(map[string]struct{}),
	}
	s.byID[id] = created
	return created
}

// RecordTransaction applies one transaction to the endpoint aggregates.
// Degree sets are idempotent: repeated counterparties do not inflate degree.
func (s *Store) RecordTransaction(from, to string, amount float64) {
	fromStats := s.GetOrCreate(from)
	toStats := s.GetOrCreate(to)

	fromStats.OutVolume += amount
	toStats.InVolume += amount

	fromStats.DegreeOut[to] = struct{}{}
	toStats.DegreeIn[from] = struct{}{}
}

// RecordAlertOccurrence appends an alert timestamp for id. The caller is
// responsible for pruning afterwards.
func (s *Store) RecordAlertOccurrence(id string, atMillis int64) {
	n := s.GetOrCreate(id)
	n.AlertTimestamps = append(n.AlertTimestamps, atMillis)
}

// ForEach visits every tracked entity.
func (s *Store) ForEach(fn func(id string, n *NodeStats)) {
	for id, n := range s.byID {
		fn(id, n)
	}
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	return len(s.byID)
}
