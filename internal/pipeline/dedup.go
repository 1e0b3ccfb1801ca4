package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Dedup drops signals already seen within a TTL window. The same whale trade
// can arrive twice when both the stream and a catch-up poll surface it, so
// the key covers the trade's identity rather than the signal ID alone.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup with the given suppression window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func dedupKey(sig domain.TradeSignal) string {
	return fmt.Sprintf("%s|%s|%s|%.2f", sig.Whale, sig.MarketID, sig.Side, sig.Size)
}

// IsDuplicate reports whether an equivalent signal was seen within the TTL.
// Unseen and expired signals are recorded as seen.
func (d *Dedup) IsDuplicate(sig domain.TradeSignal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(sig)
	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Janitor evicts expired entries on an interval until ctx is cancelled.
func (d *Dedup) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dedup) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
