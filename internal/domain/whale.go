package domain

import "time"

// Tier is the capital-allocation bucket a whale is assigned to. The set is
// closed; switch statements over Tier should be exhaustive.
type Tier int

const (
	TierExperimental Tier = iota
	TierMid
	TierTop
)

// String returns the tier name used in logs and persistence.
func (t Tier) String() string {
	switch t {
	case TierTop:
		return "top"
	case TierMid:
		return "mid"
	default:
		return "experimental"
	}
}

// ParseTier maps a stored tier name back to its Tier value. Unknown names
// fall back to experimental.
func ParseTier(s string) Tier {
	switch s {
	case "top":
		return TierTop
	case "mid":
		return TierMid
	default:
		return TierExperimental
	}
}

// WhaleProfile is the periodically refreshed quality snapshot of a tracked
// whale. It is written by the scoring subsystem and read by the filter and
// allocator; the pipeline never mutates it.
type WhaleProfile struct {
	Address      string
	QualityScore float64 // 0..100
	Sharpe30d    float64
	Sharpe90d    float64
	Drawdown     float64 // current drawdown fraction, 0..1
	ADV          float64 // average daily USD volume in the whale's markets
	Tier         Tier
	UpdatedAt    time.Time
}

// CorrelationMatrix holds pairwise trade-overlap correlations between
// tracked whales. Keys are unordered address pairs; Get normalizes order.
type CorrelationMatrix struct {
	pairs map[[2]string]float64
}

// NewCorrelationMatrix builds an empty matrix.
func NewCorrelationMatrix() *CorrelationMatrix {
	return &CorrelationMatrix{pairs: make(map[[2]string]float64)}
}

// Set records the correlation between two whales. The pair key is order
// independent.
func (m *CorrelationMatrix) Set(a, b string, corr float64) {
	m.pairs[pairKey(a, b)] = corr
}

// Get returns the correlation between two whales, 0 when unknown.
func (m *CorrelationMatrix) Get(a, b string) float64 {
	return m.pairs[pairKey(a, b)]
}

// Len returns the number of recorded pairs.
func (m *CorrelationMatrix) Len() int {
	return len(m.pairs)
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
