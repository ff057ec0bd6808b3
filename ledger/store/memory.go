// Package store provides in-memory implementations of the ledger
// persistence and collaborator interfaces, for tests and local dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/osmart/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - implements PointStore, CheckpointStore, EventSource and
// GroundTruthSource against plain maps
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	points      map[pointKey]ledger.StockPoint
	writeSeq    map[pointKey]int // insertion order, for last-write-wins reads
	seq         int
	checkpoints map[string]ledger.Checkpoint
	events      map[int][]ledger.RawEvent // storeID -> arrival order
	live        map[int]map[int]int64     // storeID -> productID -> balance

	// FailUpserts makes UpsertBatch return the given error, for tests that
	// assert the checkpoint never advances past a failed write.
	FailUpserts error
}

type pointKey struct {
	StoreID   int
	ProductID int
	Date      string
}

func NewMemory() *Memory {
	return &Memory{
		points:      make(map[pointKey]ledger.StockPoint),
		writeSeq:    make(map[pointKey]int),
		checkpoints: make(map[string]ledger.Checkpoint),
		events:      make(map[int][]ledger.RawEvent),
		live:        make(map[int]map[int]int64),
	}
}

// -----------------------------------------------------------------------------
// PointStore
// -----------------------------------------------------------------------------

func (m *Memory) UpsertBatch(_ context.Context, points []ledger.StockPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpserts != nil {
		return m.FailUpserts
	}
	for _, p := range points {
		k := pointKey{p.StoreID, p.ProductID, p.Date.String()}
		m.points[k] = p
		m.seq++
		m.writeSeq[k] = m.seq
	}
	return nil
}

func (m *Memory) LatestAtOrBefore(_ context.Context, storeID int, on ledger.Day) (map[int]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type best struct {
		date ledger.Day
		seq  int
		val  int64
	}
	latest := make(map[int]best)
	for k, p := range m.points {
		if p.StoreID != storeID || p.Date.After(on) {
			continue
		}
		b, ok := latest[p.ProductID]
		if !ok || p.Date.After(b.date) || (p.Date.Equal(b.date) && m.writeSeq[k] > b.seq) {
			latest[p.ProductID] = best{date: p.Date, seq: m.writeSeq[k], val: p.StartOfDay}
		}
	}
	out := make(map[int]int64, len(latest))
	for pid, b := range latest {
		out[pid] = b.val
	}
	return out, nil
}

func (m *Memory) PointsInRange(_ context.Context, storeID int, from, to ledger.Day) ([]ledger.StockPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.StockPoint
	for _, p := range m.points {
		if p.StoreID != storeID || p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *Memory) BalanceOn(_ context.Context, storeID, productID int, on ledger.Day) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		bestDate ledger.Day
		bestVal  int64
		found    bool
	)
	for _, p := range m.points {
		if p.StoreID != storeID || p.ProductID != productID || p.Date.After(on) {
			continue
		}
		if !found || p.Date.After(bestDate) {
			bestDate, bestVal, found = p.Date, p.StartOfDay, true
		}
	}
	return bestVal, found, nil
}

func (m *Memory) ResetPoints(_ context.Context, storeID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.points {
		if p.StoreID == storeID {
			delete(m.points, k)
			delete(m.writeSeq, k)
		}
	}
	return nil
}

// CountPoints reports how many points are stored for a store (test helper).
func (m *Memory) CountPoints(storeID int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.StoreID == storeID {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// CheckpointStore
// -----------------------------------------------------------------------------

func (m *Memory) Get(_ context.Context, store string) (ledger.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[store]
	if !ok {
		return ledger.Checkpoint{}, ledger.ErrNoCheckpoint
	}
	return cp, nil
}

func (m *Memory) Set(_ context.Context, cp ledger.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.Store] = cp
	return nil
}

func (m *Memory) ResetCheckpoint(_ context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, store)
	return nil
}

// -----------------------------------------------------------------------------
// EventSource
// -----------------------------------------------------------------------------

// AddEvents appends raw events in arrival order (test helper).
func (m *Memory) AddEvents(storeID int, raws ...ledger.RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[storeID] = append(m.events[storeID], raws...)
}

func (m *Memory) Events(_ context.Context, storeID int, from, to ledger.Day) ([]ledger.RawEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.RawEvent
	for _, raw := range m.events[storeID] {
		d := ledger.DayOf(raw.Timestamp)
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, raw)
	}
	// Stable sort keeps arrival order within an instant.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// GroundTruthSource
// -----------------------------------------------------------------------------

// SetLive replaces the live balance snapshot for a store (test helper).
func (m *Memory) SetLive(storeID int, balances map[int]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[int]int64, len(balances))
	for pid, v := range balances {
		cp[pid] = v
	}
	m.live[storeID] = cp
}

func (m *Memory) CurrentBalances(_ context.Context, storeID int) (map[int]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.live[storeID]
	out := make(map[int]int64, len(src))
	for pid, v := range src {
		out[pid] = v
	}
	return out, nil
}
