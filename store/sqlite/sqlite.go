/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces the reconstruction pipeline needs
  using SQLite. In production against MySQL/PostgreSQL the same patterns
  apply - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.PointStore:         Sparse snapshot persistence
  ledger.CheckpointStore:    Per-store progress cursor
  ledger.EventSource:        Raw event extraction (when movements are mirrored locally)
  ledger.GroundTruthSource:  Live balance read (when mirrored locally)

KEY TABLES:
  stock_points:         Sparse start-of-day balances, PK (store_id, art_id, dt)
  etl_progress:         One cursor row per logical store
  raw_stock_movements:  Mirrored upstream events, arrival order = rowid
  live_stock:           Current per-product balances for verification

IDEMPOTENCY:
  stock_points upserts on its primary key, so re-running a window is a
  no-op; re-derived rows simply overwrite themselves (last write wins).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. With a server-grade database,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/osmart/stock-ledger/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sparse start-of-day balances. Only change-days are stored; a missing
	-- date means the balance is unchanged since the nearest prior row.
	CREATE TABLE IF NOT EXISTS stock_points (
		store_id INTEGER NOT NULL,
		art_id INTEGER NOT NULL,
		dt TEXT NOT NULL,
		start_of_day INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (store_id, art_id, dt)
	);

	-- Forward-fill reads walk backwards from a date (hot path)
	CREATE INDEX IF NOT EXISTS idx_stock_points_store_dt
		ON stock_points(store_id, dt DESC);

	-- Per-store progress cursor, update-in-place
	CREATE TABLE IF NOT EXISTS etl_progress (
		store_name TEXT PRIMARY KEY,
		last_raw_ts TEXT NOT NULL,
		last_points_dt TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Mirrored upstream movement events; rowid preserves arrival order
	CREATE TABLE IF NOT EXISTS raw_stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		art_id INTEGER NOT NULL,
		hist_id TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL,
		is_absolute INTEGER NOT NULL DEFAULT 0,
		delta_qty TEXT NOT NULL DEFAULT '',
		abs_after TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_raw_movements_store_ts
		ON raw_stock_movements(store_id, ts);

	-- Current live balances, replaced wholesale on refresh
	CREATE TABLE IF NOT EXISTS live_stock (
		store_id INTEGER NOT NULL,
		art_id INTEGER NOT NULL,
		qty INTEGER NOT NULL,
		PRIMARY KEY (store_id, art_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POINT STORE (ledger.PointStore interface)
// =============================================================================

// UpsertBatch writes snapshot points in one transaction. Conflicts on
// (store_id, art_id, dt) overwrite, so re-running a window is idempotent.
func (s *Store) UpsertBatch(ctx context.Context, points []ledger.StockPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO stock_points (store_id, art_id, dt, start_of_day, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(store_id, art_id, dt) DO UPDATE SET
			start_of_day = excluded.start_of_day,
			updated_at = excluded.updated_at
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			p.StoreID, p.ProductID, p.Date.String(), p.StartOfDay, now,
		); err != nil {
			return fmt.Errorf("failed to upsert point: %w", err)
		}
	}

	return tx.Commit()
}

// LatestAtOrBefore returns, per product, the most recent stored balance at
// or before the given date. The (store_id, art_id, dt) primary key admits
// one row per product per date, so the MAX(dt) join needs no tie-break.
func (s *Store) LatestAtOrBefore(ctx context.Context, storeID int, on ledger.Day) (map[int]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT p.art_id, p.start_of_day
		FROM stock_points p
		JOIN (
			SELECT art_id, MAX(dt) AS dt
			FROM stock_points
			WHERE store_id = ? AND dt <= ?
			GROUP BY art_id
		) latest ON p.art_id = latest.art_id AND p.dt = latest.dt
		WHERE p.store_id = ?
	`

	rows, err := s.db.QueryContext(ctx, query, storeID, on.String(), storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest points: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int64)
	for rows.Next() {
		var productID int
		var v int64
		if err := rows.Scan(&productID, &v); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		out[productID] = v
	}
	return out, rows.Err()
}

// PointsInRange returns stored points in [from, to] ordered by (product, date).
func (s *Store) PointsInRange(ctx context.Context, storeID int, from, to ledger.Day) ([]ledger.StockPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT store_id, art_id, dt, start_of_day
		FROM stock_points
		WHERE store_id = ? AND dt >= ? AND dt <= ?
		ORDER BY art_id ASC, dt ASC
	`

	rows, err := s.db.QueryContext(ctx, query, storeID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var points []ledger.StockPoint
	for rows.Next() {
		var p ledger.StockPoint
		var dt string
		if err := rows.Scan(&p.StoreID, &p.ProductID, &dt, &p.StartOfDay); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		d, err := ledger.ParseDay(dt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored date %q: %w", dt, err)
		}
		p.Date = d
		points = append(points, p)
	}
	return points, rows.Err()
}

// BalanceOn forward-fills one product's balance on a date.
func (s *Store) BalanceOn(ctx context.Context, storeID, productID int, on ledger.Day) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT start_of_day
		FROM stock_points
		WHERE store_id = ? AND art_id = ? AND dt <= ?
		ORDER BY dt DESC
		LIMIT 1
	`

	var v int64
	err := s.db.QueryRowContext(ctx, query, storeID, productID, on.String()).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query balance: %w", err)
	}
	return v, true, nil
}

// ResetPoints drops all points for a store. Full rebuilds only.
func (s *Store) ResetPoints(ctx context.Context, storeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM stock_points WHERE store_id = ?", storeID)
	return err
}

// =============================================================================
// CHECKPOINT STORE (ledger.CheckpointStore interface)
// =============================================================================

// Get returns the checkpoint for a store, or ledger.ErrNoCheckpoint.
func (s *Store) Get(ctx context.Context, store string) (ledger.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cp ledger.Checkpoint
	var lastRawTS, lastPointsDT string

	err := s.db.QueryRowContext(ctx,
		"SELECT store_name, last_raw_ts, last_points_dt FROM etl_progress WHERE store_name = ?",
		store,
	).Scan(&cp.Store, &lastRawTS, &lastPointsDT)

	if err == sql.ErrNoRows {
		return ledger.Checkpoint{}, ledger.ErrNoCheckpoint
	}
	if err != nil {
		return ledger.Checkpoint{}, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	cp.LastEventAt, err = time.Parse(time.RFC3339, lastRawTS)
	if err != nil {
		return ledger.Checkpoint{}, fmt.Errorf("failed to parse checkpoint timestamp %q: %w", lastRawTS, err)
	}
	cp.LastDate, err = ledger.ParseDay(lastPointsDT)
	if err != nil {
		return ledger.Checkpoint{}, fmt.Errorf("failed to parse checkpoint date %q: %w", lastPointsDT, err)
	}
	return cp, nil
}

// Set records the cursor, update-in-place.
func (s *Store) Set(ctx context.Context, cp ledger.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO etl_progress (store_name, last_raw_ts, last_points_dt, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store_name) DO UPDATE SET
			last_raw_ts = excluded.last_raw_ts,
			last_points_dt = excluded.last_points_dt,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		cp.Store,
		cp.LastEventAt.UTC().Format(time.RFC3339),
		cp.LastDate.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ResetCheckpoint clears the cursor for a store. Full rebuilds only.
func (s *Store) ResetCheckpoint(ctx context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM etl_progress WHERE store_name = ?", store)
	return err
}

// =============================================================================
// EVENT SOURCE (ledger.EventSource interface)
// =============================================================================

// Events returns mirrored raw events for a store whose day falls in
// [from, to], ordered by timestamp with rowid as the arrival tie-break.
func (s *Store) Events(ctx context.Context, storeID int, from, to ledger.Day) ([]ledger.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT store_id, art_id, hist_id, ts, is_absolute, delta_qty, abs_after
		FROM raw_stock_movements
		WHERE store_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC, id ASC
	`

	fromTS := from.Time().Format(time.RFC3339)
	toTS := to.Next().Time().Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, query, storeID, fromTS, toTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var events []ledger.RawEvent
	for rows.Next() {
		var ev ledger.RawEvent
		var ts string
		var isAbs int
		if err := rows.Scan(&ev.StoreID, &ev.ProductID, &ev.RecordID, &ts, &isAbs, &ev.DeltaQty, &ev.AbsAfter); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse movement timestamp %q: %w", ts, err)
		}
		if isAbs != 0 {
			ev.IsAbsolute = "1"
		} else {
			ev.IsAbsolute = "0"
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertRawMovements mirrors upstream events locally, preserving arrival
// order via rowid.
func (s *Store) InsertRawMovements(ctx context.Context, events []ledger.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO raw_stock_movements (store_id, art_id, hist_id, ts, is_absolute, delta_qty, abs_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		isAbs := 0
		if ev.IsAbsolute == "1" || ev.IsAbsolute == "true" {
			isAbs = 1
		}
		if _, err := stmt.ExecContext(ctx,
			ev.StoreID, ev.ProductID, ev.RecordID,
			ev.Timestamp.UTC().Format(time.RFC3339),
			isAbs, ev.DeltaQty, ev.AbsAfter,
		); err != nil {
			return fmt.Errorf("failed to insert movement: %w", err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// GROUND TRUTH SOURCE (ledger.GroundTruthSource interface)
// =============================================================================

// CurrentBalances returns the live balance per product for a store.
func (s *Store) CurrentBalances(ctx context.Context, storeID int) (map[int]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT art_id, qty FROM live_stock WHERE store_id = ?", storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query live stock: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int64)
	for rows.Next() {
		var productID int
		var qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan live stock: %w", err)
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

// SetLiveStock replaces a store's live balances wholesale.
func (s *Store) SetLiveStock(ctx context.Context, storeID int, balances map[int]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM live_stock WHERE store_id = ?", storeID); err != nil {
		return fmt.Errorf("failed to clear live stock: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO live_stock (store_id, art_id, qty) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for productID, qty := range balances {
		if _, err := stmt.ExecContext(ctx, storeID, productID, qty); err != nil {
			return fmt.Errorf("failed to insert live stock: %w", err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"stock_points", "etl_progress", "raw_stock_movements", "live_stock"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
