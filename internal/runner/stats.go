package runner

import "time"

// Stats accumulates running sums over a run's terminated items, so taking a
// snapshot after each item is O(1) rather than a pass over the item list.
type Stats struct {
	total       int
	processed   int
	scoreSum    float64
	scoredCount int
	latencySum  time.Duration
}

// StatsSnapshot is the derived view delivered with every update.
type StatsSnapshot struct {
	Processed int
	Total     int

	// AvgScore is the mean over items with a defined score; nil until at
	// least one item has scored.
	AvgScore *float64

	// AvgLatency is the mean total latency over all terminated items.
	// Error items count too: they consumed time before failing.
	AvgLatency time.Duration
}

// NewStats creates an aggregator for a run of the given size.
func NewStats(total int) *Stats {
	return &Stats{total: total}
}

// Record folds one terminated item into the running sums.
func (s *Stats) Record(item Item) {
	s.processed++
	s.latencySum += item.TotalLatency
	if item.Score != nil {
		s.scoreSum += *item.Score
		s.scoredCount++
	}
}

// Snapshot returns the current derived statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Processed: s.processed,
		Total:     s.total,
	}
	if s.scoredCount > 0 {
		avg := s.scoreSum / float64(s.scoredCount)
		snap.AvgScore = &avg
	}
	if s.processed > 0 {
		snap.AvgLatency = s.latencySum / time.Duration(s.processed)
	}
	return snap
}
