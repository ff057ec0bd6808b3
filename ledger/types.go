/*
Package ledger reconstructs per-product stock balances from a stream of
stock-movement events and maintains a sparse start-of-day snapshot table.

PURPOSE:
  Point-of-sale systems emit two kinds of inventory events: relative deltas
  (a sale, a receipt) and absolute overrides (a physical count that replaces
  the balance outright). This package normalizes that heterogeneous stream,
  replays it per product into a dense start-of-day balance matrix over a
  calendar window, and diffs consecutive days so only change-days are
  persisted. Readers forward-fill the gaps.

KEY CONCEPTS:
  - StockEvent:  one normalized inventory-affecting occurrence
  - Matrix:      dense start-of-day balances (product x day) for one run
  - StockPoint:  one persisted sparse snapshot row (change-days only)
  - Checkpoint:  per-store cursor marking what has been fully incorporated

DESIGN PRINCIPLES:
  1. Determinism: identical (events, seeds, window) always reproduce
     identical matrices and identical sparse point sets.
  2. Idempotence: snapshot persistence is upsert-by-overwrite, so re-running
     a window is a no-op rather than drift.
  3. Leniency at the edge: numeric coercion happens once, in the Normalizer,
     with a documented default-on-missing policy (see normalize.go).
  4. No hidden state: the reconstructor is a pure function of its inputs;
     all persistence goes through the store interfaces in store.go.

SEE ALSO:
  - reconstruct.go: the per-product replay and dense matrix build
  - sparse.go:      change-day detection
  - verify.go:      reconciliation against a live ground truth
  - store.go:       persistence and collaborator interfaces
*/
package ledger

import "time"

// =============================================================================
// EVENTS
// =============================================================================

// RawEvent is an event as it arrives from an upstream source, before the
// Normalizer has applied type coercion. Numeric fields are carried as strings
// because upstream rows may hold NULLs, floats, or free-form text; empty
// string means absent.
type RawEvent struct {
	StoreID    int
	ProductID  int
	RecordID   string // stable natural key from upstream; empty when absent
	Timestamp  time.Time
	IsAbsolute string
	DeltaQty   string
	AbsAfter   string
}

// StockEvent is one normalized inventory-affecting occurrence.
//
// Exactly one of DeltaQty/AbsAfter is semantically active, selected by
// IsAbsolute. A value that was missing upstream has already been defaulted
// to 0 by the Normalizer: a zero delta leaves the balance unchanged, and a
// zero absolute override resets the balance to zero (matching the upstream
// fill-with-zero behavior).
type StockEvent struct {
	StoreID    int
	ProductID  int
	RecordID   string
	Timestamp  time.Time
	IsAbsolute bool
	DeltaQty   int64 // active iff !IsAbsolute
	AbsAfter   int64 // active iff IsAbsolute
}

// Day returns the calendar day the event lands on.
func (e StockEvent) Day() Day { return DayOf(e.Timestamp) }

// Apply advances a running balance past this event and returns the net
// change the event contributed at that instant. This single transition rule
// is shared by reconstruction and verification.
func (e StockEvent) Apply(running int64) (next int64, net int64) {
	if e.IsAbsolute {
		return e.AbsAfter, e.AbsAfter - running
	}
	return running + e.DeltaQty, e.DeltaQty
}

// =============================================================================
// SPARSE SNAPSHOT POINT
// =============================================================================

// StockPoint is the start-of-day balance for one product on one date,
// persisted only when it differs from the prior stored day's balance.
// Primary key is (StoreID, ProductID, Date); writes are last-writer-wins
// upserts because reconstruction is deterministic.
type StockPoint struct {
	StoreID    int
	ProductID  int
	Date       Day
	StartOfDay int64
}

// =============================================================================
// CHECKPOINT
// =============================================================================

// Checkpoint is the per-store progress cursor. It is advanced only after a
// run's snapshots and exclusion-log entries are durably committed; advancing
// it is the commit marker for "this window is fully processed".
type Checkpoint struct {
	Store       string
	LastEventAt time.Time
	LastDate    Day
}

// =============================================================================
// DISCREPANCY REPORT
// =============================================================================

// Diff is the reconciliation outcome for a single product.
type Diff struct {
	ProductID int
	Simulated int64
	Live      int64
	Diff      int64 // Simulated - Live
}

// DiscrepancyReport summarizes a reconciliation pass. Mismatches are data,
// never errors: correcting drift is an operator decision.
type DiscrepancyReport struct {
	Total      int
	Mismatched int
	MaxAbsDiff int64
	Diffs      []Diff
}
