/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Per-record:  MalformedEventError - one event unusable, batch continues
  2. Per-run:     ErrExclusionLogCorrupt - exclusion state unreadable, the
                  store's run must stop rather than filter with stale data
  3. Diverted:    RangeViolation - value unstorable, row diverted and counted
  4. Per-store:   UpstreamUnavailableError - source unreachable, this store's
                  run aborts and its checkpoint does not advance

Domain packages and the pipeline wrap these with additional context and test
category membership with errors.Is / errors.As.
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedEvent is returned when a single event cannot be normalized
	// or keyed. Fatal to that record only, never to the batch.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrExclusionLogCorrupt is returned when the exclusion log cannot be
	// read or written. Fatal to the run: filtering with stale exclusion
	// state would silently re-admit suppressed events.
	ErrExclusionLogCorrupt = errors.New("exclusion log unreadable or unwritable")

	// ErrUpstreamUnavailable is returned when the event or ground-truth
	// source is unreachable. Retry is the caller's decision.
	ErrUpstreamUnavailable = errors.New("upstream source unavailable")

	// ErrNoCheckpoint is returned when a store has no progress cursor yet;
	// callers fall back to a full rebuild from the epoch.
	ErrNoCheckpoint = errors.New("no checkpoint for store")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedEventError identifies the offending record.
type MalformedEventError struct {
	StoreID   int
	ProductID int
	RecordID  string
	Reason    string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event store=%d product=%d record=%q: %s",
		e.StoreID, e.ProductID, e.RecordID, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// UpstreamUnavailableError wraps the transport failure for one store.
type UpstreamUnavailableError struct {
	Store string
	Op    string
	Err   error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable for store %s: %v", e.Op, e.Store, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return ErrUpstreamUnavailable }

// RangeViolation records a reconstructed value outside the storable range.
// Violations are diverted from the upsert and surfaced in the run summary;
// they are not errors in the control-flow sense.
type RangeViolation struct {
	StoreID    int
	ProductID  int
	Date       Day
	Value      int64
	DetectedAt time.Time
}

func (v RangeViolation) String() string {
	return fmt.Sprintf("unstorable value store=%d product=%d date=%s value=%d",
		v.StoreID, v.ProductID, v.Date, v.Value)
}
