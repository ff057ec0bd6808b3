/*
Package exclusions maintains the data-quality denylist applied to stock
events before reconstruction.

PURPOSE:
  Some upstream events are garbage: an inventory count typo recorded as an
  absolute override of 40 million units, or a record an operator has
  manually flagged. This package drops those events and keeps a durable,
  append-only, deduplicated log of every suppression.

THE LOG:
  A CSV file with one row per suppressed event. The dedup key is
  store|product|record|date|reason; uniqueness on that key is the sole
  de-duplication rule. Rows are never mutated or deleted. Appends rewrite
  the merged file to a temp path and atomically rename it over the original,
  so a concurrent reader never observes a partially written log.

TWO RULES:
  manual:    record id appears in a manual_exclusion row for this store.
             Only operator-created rows carry that reason; rows the filter
             itself writes never feed back into manual matching, so
             re-filtering a window cannot reclassify its own output.
  threshold: an absolute event whose |target| exceeds AbsMax

  An event caught by both is logged once with reason manual_and_threshold.

CONCURRENCY:
  One Log handle is shared by every store's run. A mutex serializes
  load-merge-replace cycles so parallel appends never clobber each other.
*/
package exclusions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/osmart/stock-ledger/ledger"
)

// DefaultAbsMax is the default magnitude above which an absolute override is
// considered implausible. Tune per deployment via config.
const DefaultAbsMax int64 = 1_000_000

// Reason classifies why an event was suppressed.
type Reason string

const (
	ReasonManual             Reason = "manual_exclusion"
	ReasonThreshold          Reason = "abs_stock_after_too_large"
	ReasonManualAndThreshold Reason = "manual_and_threshold"
)

// Record is one row of the exclusion log.
type Record struct {
	StoreID       int
	ProductID     int
	RecordID      string // empty for non-record-keyed rows
	EffectiveDate string // "2006-01-02 15:04:05" of the suppressed event
	Reason        Reason
	Detail        string
	DetectedAt    string
}

// DedupKey builds the uniqueness key. Every field except Detail/DetectedAt
// participates: the same event suppressed for a different reason is a
// distinct row.
func (r Record) DedupKey() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s", r.StoreID, r.ProductID, r.RecordID, r.EffectiveDate, r.Reason)
}

var header = []string{
	"store_id", "art_id", "hist_id", "fecha_iso", "reason", "detail", "detected_at_iso", "uniq",
}

// =============================================================================
// LOG - CSV-backed, append-only, dedup on key
// =============================================================================

// Log is a handle to the exclusion CSV, safe for concurrent use. Zero-value
// is not usable; use NewLog.
type Log struct {
	mu   sync.Mutex
	path string
}

func NewLog(path string) *Log { return &Log{path: path} }

// Path returns the backing file location.
func (l *Log) Path() string { return l.path }

// Load reads all records. A missing file is created empty first, so a fresh
// deployment starts with a valid (headered) log.
func (l *Log) Load() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// load reads the file without locking; callers hold l.mu.
func (l *Log) load() ([]Record, error) {
	if err := l.ensure(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, corrupt("open", err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = len(header)

	var out []Record
	first := true
	for {
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, corrupt("parse", err)
		}
		if first {
			first = false
			continue // header
		}
		storeID, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, corrupt("parse store_id", err)
		}
		productID, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, corrupt("parse art_id", err)
		}
		out = append(out, Record{
			StoreID:       storeID,
			ProductID:     productID,
			RecordID:      row[2],
			EffectiveDate: row[3],
			Reason:        Reason(row[4]),
			Detail:        row[5],
			DetectedAt:    row[6],
		})
	}
	return out, nil
}

// Append merges rows into the log, deduplicated on DedupKey (existing rows
// win), and atomically replaces the file. Returns how many rows were
// actually added. The whole load-merge-replace cycle happens under the lock
// so concurrent appenders never overwrite each other's rows.
func (l *Log) Append(rows []Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.DedupKey()] = true
	}

	merged := existing
	added := 0
	for _, r := range rows {
		k := r.DedupKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, r)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := l.writeAtomic(merged); err != nil {
		return 0, err
	}
	return added, nil
}

// ManualRecordIDs returns the record ids operators have excluded for a
// store: rows whose reason is manual_exclusion. Filter-written rows
// (threshold, combined) and rows without a record id never participate, so
// re-filtering a window sees the same manual set it saw the first time.
func (l *Log) ManualRecordIDs(storeID int) (map[string]bool, error) {
	records, err := l.Load()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool)
	for _, r := range records {
		if r.StoreID == storeID && r.RecordID != "" && r.Reason == ReasonManual {
			ids[r.RecordID] = true
		}
	}
	return ids, nil
}

func (l *Log) ensure() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return corrupt("stat", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return corrupt("mkdir", err)
	}
	return l.writeAtomic(nil)
}

func (l *Log) writeAtomic(records []Record) error {
	f, err := os.CreateTemp(filepath.Dir(l.path), ".exclusions-*.tmp")
	if err != nil {
		return corrupt("create temp", err)
	}
	tmp := f.Name()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return corrupt("write header", err)
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.StoreID),
			strconv.Itoa(r.ProductID),
			r.RecordID,
			r.EffectiveDate,
			string(r.Reason),
			r.Detail,
			r.DetectedAt,
			r.DedupKey(),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return corrupt("write row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return corrupt("flush", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return corrupt("close temp", err)
	}
	// Atomic on POSIX: a reader sees either the old log or the new one.
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return corrupt("replace", err)
	}
	return nil
}

func corrupt(op string, err error) error {
	return fmt.Errorf("exclusion log %s: %w: %w", op, ledger.ErrExclusionLogCorrupt, err)
}

// =============================================================================
// FILTER
// =============================================================================

// Filter applies the denylist and the threshold rule to normalized events.
// It returns the surviving events and the number of events flagged this
// pass. Newly detected violations (by dedup key) are appended to the log
// before returning.
//
// An event without the date component needed to build a dedup key fails
// filtering with a MalformedEventError; the caller decides whether to abort
// the batch, but the failure is never silent.
func Filter(events []ledger.StockEvent, storeID int, log *Log, absMax int64) ([]ledger.StockEvent, int, error) {
	if absMax <= 0 {
		absMax = DefaultAbsMax
	}
	manual, err := log.ManualRecordIDs(storeID)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]ledger.StockEvent, 0, len(events))
	var flagged []Record
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	for _, ev := range events {
		byManual := ev.RecordID != "" && manual[ev.RecordID]
		byRule := ev.IsAbsolute && absInt64(ev.AbsAfter) > absMax
		if !byManual && !byRule {
			kept = append(kept, ev)
			continue
		}

		if ev.Timestamp.IsZero() {
			return nil, 0, &ledger.MalformedEventError{
				StoreID:   ev.StoreID,
				ProductID: ev.ProductID,
				RecordID:  ev.RecordID,
				Reason:    "flagged event has no date for dedup key",
			}
		}

		reason := ReasonManual
		switch {
		case byManual && byRule:
			reason = ReasonManualAndThreshold
		case byRule:
			reason = ReasonThreshold
		}
		detail := ""
		if byRule {
			detail = fmt.Sprintf("value=%d", ev.AbsAfter)
		}
		flagged = append(flagged, Record{
			StoreID:       storeID,
			ProductID:     ev.ProductID,
			RecordID:      ev.RecordID,
			EffectiveDate: ev.Timestamp.Format("2006-01-02 15:04:05"),
			Reason:        reason,
			Detail:        detail,
			DetectedAt:    now,
		})
	}

	if len(flagged) > 0 {
		if _, err := log.Append(flagged); err != nil {
			return nil, 0, err
		}
	}
	return kept, len(flagged), nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
