package domain

import "time"

// AllocationEntry is one whale's capital assignment from an allocation cycle.
// FinalPct is never greater than BasePct: the correlation penalty only
// shrinks an allocation.
type AllocationEntry struct {
	Whale            string
	Tier             Tier
	QualityScore     float64
	BasePct          float64 // share of total capital before correlation adjustment
	CorrelationAdj   float64 // multiplier applied once, 1.0 when unpenalized
	FinalPct         float64
	AllocatedCapital float64
	MaxPositionSize  float64
}

// AllocationSnapshot is the immutable result of one allocation cycle. The
// allocator publishes a new snapshot atomically; readers must never mutate
// entries they receive.
type AllocationSnapshot struct {
	Entries      map[string]AllocationEntry
	TotalCapital float64
	ComputedAt   time.Time
}

// Entry returns the allocation for a whale and whether one exists.
func (s *AllocationSnapshot) Entry(whale string) (AllocationEntry, bool) {
	if s == nil {
		return AllocationEntry{}, false
	}
	e, ok := s.Entries[whale]
	return e, ok
}
