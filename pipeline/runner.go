/*
runner.go - Per-store run orchestration

PURPOSE:
  Drives one full pass for each configured store: plan the window, pull raw
  events, normalize, filter exclusions, reconstruct the dense matrix, emit
  sparse change-days, persist, verify against the live source, and finally
  advance the checkpoint.

FAILURE ISOLATION:
  Stores run independently; one store's failure never blocks another's.
  Within a store the ordering guarantee is strict: the checkpoint is written
  last, so any earlier failure leaves the cursor where it was and the window
  is reprocessed on the next run.

VERIFICATION:
  Advisory. The run simulates today's balance from start-of-today plus
  today's events and diffs it against the live source. Mismatches are
  reported in the run result, never written back.

SEE ALSO:
  - checkpoint.go: window planning
  - ledger/reconstruct.go: the replay itself
*/
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/ledger"
)

// Run status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Source identifies one logical store to process.
type Source struct {
	Name    string // checkpoint key, e.g. "downtown"
	StoreID int    // upstream numeric id
}

// Runner orchestrates reconstruction runs across stores.
type Runner struct {
	Events      ledger.EventSource
	Truth       ledger.GroundTruthSource
	Points      ledger.PointStore
	Checkpoints ledger.CheckpointStore
	Exclusions  *exclusions.Log
	Log         zerolog.Logger

	// AbsMax overrides the plausibility threshold; zero means the default.
	AbsMax int64

	// Epoch is the first day ever reconstructed, used when a store has no
	// checkpoint. All balances are assumed zero before it.
	Epoch ledger.Day

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

// RunResult summarizes one store's pass.
type RunResult struct {
	RunID             uuid.UUID                 `json:"run_id"`
	Store             string                    `json:"store"`
	StoreID           int                       `json:"store_id"`
	Status            string                    `json:"status"`
	Window            ledger.Window             `json:"window"`
	EventsProcessed   int                       `json:"events_processed"`
	EventsMalformed   int                       `json:"events_malformed"`
	ExclusionsApplied int                       `json:"exclusions_applied"`
	PointsWritten     int                       `json:"points_written"`
	PointsDiverted    int                       `json:"points_diverted"`
	Report            *ledger.DiscrepancyReport `json:"report,omitempty"`
	Err               error                     `json:"-"`
	Error             string                    `json:"error,omitempty"`
	StartedAt         time.Time                 `json:"started_at"`
	FinishedAt        time.Time                 `json:"finished_at"`
}

// RunUpdate processes every source concurrently and returns one result per
// source, in input order. Failures are carried in the results, not returned.
func (r *Runner) RunUpdate(ctx context.Context, sources []Source) []RunResult {
	results := make([]RunResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results[i] = r.runStore(ctx, src, false)
		}(i, src)
	}
	wg.Wait()

	return results
}

// RunSeed rebuilds one store from the epoch: existing points and the
// checkpoint are dropped first, then a normal pass runs over the full
// history.
func (r *Runner) RunSeed(ctx context.Context, src Source) RunResult {
	if err := r.Points.ResetPoints(ctx, src.StoreID); err != nil {
		return r.failed(src, ledger.Window{}, err)
	}
	if err := r.Checkpoints.ResetCheckpoint(ctx, src.Name); err != nil {
		return r.failed(src, ledger.Window{}, err)
	}
	return r.runStore(ctx, src, true)
}

func (r *Runner) runStore(ctx context.Context, src Source, rebuild bool) RunResult {
	now := r.now()
	today := ledger.DayOf(now.UTC())

	res := RunResult{
		RunID:     uuid.New(),
		Store:     src.Name,
		StoreID:   src.StoreID,
		Status:    StatusCompleted,
		StartedAt: now,
	}
	log := r.Log.With().
		Str("run_id", res.RunID.String()).
		Str("store", src.Name).
		Logger()

	// --- Plan the window ---
	cp, err := r.Checkpoints.Get(ctx, src.Name)
	hasCP := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNoCheckpoint) {
		return r.fail(&res, log, "read checkpoint", err)
	}
	if rebuild {
		cp, hasCP = ledger.Checkpoint{}, false
	}
	w := PlanWindow(cp, hasCP, r.Epoch, today)
	res.Window = w
	log.Info().
		Str("from", w.Start.String()).
		Str("to", w.End.String()).
		Bool("rebuild", rebuild).
		Msg("run started")

	// --- Ingest: closed days only ---
	var raws []ledger.RawEvent
	if closed := yesterday(now); !w.Start.After(closed) {
		raws, err = r.Events.Events(ctx, src.StoreID, w.Start, closed)
		if err != nil {
			return r.fail(&res, log, "fetch events",
				&ledger.UpstreamUnavailableError{Store: src.Name, Op: "events", Err: err})
		}
	}

	events, malformed := ledger.NormalizeAll(raws)
	res.EventsMalformed = len(malformed)
	for _, merr := range malformed {
		log.Warn().Err(merr).Msg("event dropped")
	}

	events, flagged, err := exclusions.Filter(events, src.StoreID, r.Exclusions, r.AbsMax)
	if err != nil {
		return r.fail(&res, log, "apply exclusions", err)
	}
	res.EventsProcessed = len(events)
	res.ExclusionsApplied = flagged

	// --- Reconstruct and persist ---
	seeds, err := r.Points.LatestAtOrBefore(ctx, src.StoreID, w.Start)
	if err != nil {
		return r.fail(&res, log, "load seeds", err)
	}
	prior, err := r.Points.LatestAtOrBefore(ctx, src.StoreID, w.Start.Prev())
	if err != nil {
		return r.fail(&res, log, "load prior points", err)
	}

	matrix := ledger.Reconstruct(events, seeds, w)
	built := ledger.BuildSparse(src.StoreID, matrix, prior)
	res.PointsDiverted = len(built.Diverted)
	for _, v := range built.Diverted {
		log.Warn().Stringer("violation", v).Msg("point diverted")
	}

	if err := r.Points.UpsertBatch(ctx, built.Points); err != nil {
		return r.fail(&res, log, "persist points", err)
	}
	res.PointsWritten = len(built.Points)

	// --- Verify against the live source ---
	report, err := r.verify(ctx, src, matrix, today)
	if err != nil {
		// Verification failures are advisory too; the window is fully
		// persisted, so the checkpoint still advances.
		log.Warn().Err(err).Msg("verification skipped")
	} else {
		res.Report = report
		log.Info().
			Int("total", report.Total).
			Int("mismatched", report.Mismatched).
			Int64("max_abs_diff", report.MaxAbsDiff).
			Msg("verification complete")
	}

	// --- Commit the cursor, strictly last ---
	next := NextCheckpoint(src.Name, cp, events, today)
	if err := r.Checkpoints.Set(ctx, next); err != nil {
		return r.fail(&res, log, "advance checkpoint", err)
	}

	res.FinishedAt = r.now()
	log.Info().
		Int("events", res.EventsProcessed).
		Int("excluded", res.ExclusionsApplied).
		Int("points", res.PointsWritten).
		Msg("run completed")
	return res
}

// verify simulates today's closing balances and diffs them against the live
// source.
func (r *Runner) verify(ctx context.Context, src Source, matrix *ledger.Matrix, today ledger.Day) (*ledger.DiscrepancyReport, error) {
	live, err := r.Truth.CurrentBalances(ctx, src.StoreID)
	if err != nil {
		return nil, &ledger.UpstreamUnavailableError{Store: src.Name, Op: "live balances", Err: err}
	}

	startOfToday := matrix.Column(today)

	rawsToday, err := r.Events.Events(ctx, src.StoreID, today, today)
	if err != nil {
		return nil, &ledger.UpstreamUnavailableError{Store: src.Name, Op: "today's events", Err: err}
	}
	eventsToday, _ := ledger.NormalizeAll(rawsToday)
	eventsToday, _, err = exclusions.Filter(eventsToday, src.StoreID, r.Exclusions, r.AbsMax)
	if err != nil {
		return nil, err
	}

	report := ledger.Verify(startOfToday, eventsToday, live)
	return &report, nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) fail(res *RunResult, log zerolog.Logger, op string, err error) RunResult {
	log.Error().Err(err).Str("op", op).Msg("run failed")
	res.Status = StatusFailed
	res.Err = err
	res.Error = err.Error()
	res.FinishedAt = r.now()
	return *res
}

func (r *Runner) failed(src Source, w ledger.Window, err error) RunResult {
	now := r.now()
	return RunResult{
		RunID:      uuid.New(),
		Store:      src.Name,
		StoreID:    src.StoreID,
		Status:     StatusFailed,
		Window:     w,
		Err:        err,
		Error:      err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}
