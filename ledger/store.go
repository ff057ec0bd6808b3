/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the reconstruction engine and everything that
  does I/O. The engine itself is pure in-memory computation; event
  extraction, snapshot reads/writes, checkpoint reads/writes and the
  ground-truth read are the only blocking work in a run.

KEY INTERFACES:
  EventSource:       ordered raw events for a (store, day-range) window
  GroundTruthSource: current live balances, used only by verification
  PointStore:        sparse snapshot persistence (idempotent upsert)
  CheckpointStore:   per-store progress cursor, update-in-place

WRITE DISCIPLINE:
  UpsertBatch must be atomic: a crash mid-write never leaves a partially
  applied batch visible. The pipeline advances the checkpoint only after the
  batch commits, so a failed run is simply reprocessed.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (all four interfaces)
  - ledger/store: in-memory implementations for tests and dev
*/
package ledger

import "context"

// EventSource supplies raw events for a store over an inclusive day range,
// ordered by timestamp with stable arrival order within an instant.
// Retrieval errors are retryable by the caller, not retried internally.
type EventSource interface {
	Events(ctx context.Context, storeID int, from, to Day) ([]RawEvent, error)
}

// GroundTruthSource supplies the live absolute balance per product for a
// store at call time.
type GroundTruthSource interface {
	CurrentBalances(ctx context.Context, storeID int) (map[int]int64, error)
}

// PointStore persists sparse snapshot points.
type PointStore interface {
	// UpsertBatch writes points atomically, overwriting on key conflict.
	// Re-running the same batch must be a no-op.
	UpsertBatch(ctx context.Context, points []StockPoint) error

	// LatestAtOrBefore returns, per product, the most recent point at or
	// before the given date (last write wins on re-derived rows).
	LatestAtOrBefore(ctx context.Context, storeID int, on Day) (map[int]int64, error)

	// PointsInRange returns stored points in [from, to], ordered by
	// (product, date).
	PointsInRange(ctx context.Context, storeID int, from, to Day) ([]StockPoint, error)

	// BalanceOn forward-fills one product's balance on a date.
	// ok is false when no point exists at or before the date.
	BalanceOn(ctx context.Context, storeID, productID int, on Day) (v int64, ok bool, err error)

	// ResetPoints drops all points for a store (full rebuild only).
	ResetPoints(ctx context.Context, storeID int) error
}

// CheckpointStore persists the per-store progress cursor.
type CheckpointStore interface {
	// Get returns the checkpoint for a store, or ErrNoCheckpoint.
	Get(ctx context.Context, store string) (Checkpoint, error)

	// Set records the cursor, update-in-place.
	Set(ctx context.Context, cp Checkpoint) error

	// ResetCheckpoint clears the cursor for a store (full rebuild only).
	ResetCheckpoint(ctx context.Context, store string) error
}
