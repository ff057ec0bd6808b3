package ledger_test

import (
	"testing"
	"time"

	"github.com/osmart/stock-ledger/ledger"
)

func TestVerify_AgreementProducesNoMismatch(t *testing.T) {
	// GIVEN: start-of-today 50 and a +10 delta during the day
	// WHEN: the live source reports 60
	// THEN: no mismatch

	today := day(2025, time.March, 10)
	report := ledger.Verify(
		map[int]int64{7: 50},
		[]ledger.StockEvent{delta(7, at(today, 11), 10)},
		map[int]int64{7: 60},
	)

	if report.Total != 1 || report.Mismatched != 0 || report.MaxAbsDiff != 0 {
		t.Errorf("expected clean report, got %+v", report)
	}
}

func TestVerify_OverrideDuringTodayIsSimulated(t *testing.T) {
	today := day(2025, time.March, 10)
	report := ledger.Verify(
		map[int]int64{7: 50},
		[]ledger.StockEvent{
			delta(7, at(today, 9), 10),
			override(7, at(today, 14), 5),
		},
		map[int]int64{7: 5},
	)

	if report.Mismatched != 0 {
		t.Errorf("expected override to snap simulation to 5, got %+v", report.Diffs)
	}
}

func TestVerify_OuterJoinCoversBothSides(t *testing.T) {
	// GIVEN: product 1 only simulated, product 2 only live
	// WHEN: verifying
	// THEN: both appear, absent side defaulting to 0

	report := ledger.Verify(
		map[int]int64{1: 10},
		nil,
		map[int]int64{2: 4},
	)

	if report.Total != 2 || report.Mismatched != 2 {
		t.Fatalf("expected 2 mismatched products, got %+v", report)
	}
	// Diffs are ordered by product id.
	if report.Diffs[0].ProductID != 1 || report.Diffs[0].Diff != 10 {
		t.Errorf("product 1: expected diff +10, got %+v", report.Diffs[0])
	}
	if report.Diffs[1].ProductID != 2 || report.Diffs[1].Diff != -4 {
		t.Errorf("product 2: expected diff -4, got %+v", report.Diffs[1])
	}
	if report.MaxAbsDiff != 10 {
		t.Errorf("expected MaxAbsDiff 10, got %d", report.MaxAbsDiff)
	}
}

func TestVerify_NoEventsKeepsStartOfDay(t *testing.T) {
	report := ledger.Verify(
		map[int]int64{7: 50},
		nil,
		map[int]int64{7: 50},
	)
	if report.Mismatched != 0 {
		t.Errorf("expected start-of-day to carry as simulated now, got %+v", report)
	}
}
