package sizing

import (
	"log/slog"
	"testing"

	"github.com/quantfold/whalecopy/internal/domain"
)

func sizerSignal(notional float64) domain.TradeSignal {
	return domain.TradeSignal{
		ID:    "sig-1",
		Whale: "0xabc",
		Side:  domain.OrderSideBuy,
		Size:  notional / 0.50,
		Price: 0.50,
	}
}

func TestSizerProportionalCopy(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	dec, err := s.Size(sizerSignal(50000), 1.0, 100000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 500 {
		t.Errorf("size = %v, want 500", dec.Size)
	}
	if dec.BaseSize != 500 {
		t.Errorf("base = %v, want 500", dec.BaseSize)
	}
}

func TestSizerMultiplierApplied(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	dec, err := s.Size(sizerSignal(50000), 0.5, 100000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 250 {
		t.Errorf("size = %v, want 250", dec.Size)
	}
}

func TestSizerBandClamps(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	// Tiny whale trade floors at MinSize.
	dec, err := s.Size(sizerSignal(100), 1.0, 100000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 10 {
		t.Errorf("size = %v, want MinSize 10", dec.Size)
	}

	// Huge whale trade caps at MaxSize.
	dec, err = s.Size(sizerSignal(1e7), 1.0, 100000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 1000 {
		t.Errorf("size = %v, want MaxSize 1000", dec.Size)
	}
}

func TestSizerBalanceCap(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	// 20% of a $2,000 balance beats the $500 proportional size.
	dec, err := s.Size(sizerSignal(50000), 1.0, 2000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 400 {
		t.Errorf("size = %v, want 400 (20%% of balance)", dec.Size)
	}
}

func TestSizerAllocationCeiling(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	alloc := &domain.AllocationEntry{Whale: "0xabc", MaxPositionSize: 150}
	dec, err := s.Size(sizerSignal(50000), 1.0, 100000, alloc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Size != 150 {
		t.Errorf("size = %v, want allocation ceiling 150", dec.Size)
	}
}

func TestSizerRejectsDust(t *testing.T) {
	s := NewSizer(SizerConfig{CopyRatio: 0.01, MinSize: 10, MaxSize: 1000, MaxBalancePct: 0.20}, slog.Default())

	alloc := &domain.AllocationEntry{Whale: "0xabc", MaxPositionSize: 5}
	if _, err := s.Size(sizerSignal(50000), 1.0, 100000, alloc); err == nil {
		t.Fatal("want error when allocation ceiling squeezes size below minimum")
	}
}
