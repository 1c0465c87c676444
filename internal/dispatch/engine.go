package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"outreach-platform/internal/ledger"
	"outreach-platform/internal/telemetry"
	"outreach-platform/internal/touch"
)

// Queue is the slice of the touch store the engine consumes. Claim must be a
// true compare-and-swap: it returns only the rows this caller transitioned
// from queued to executing, which is the sole mechanism preventing two
// engine instances from sending the same touch twice.
type Queue interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]touch.TouchRun, error)
	Claim(ctx context.Context, ids []string, now time.Time) ([]touch.TouchRun, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, execMS int64, meta map[string]any) error
	MarkCanceled(ctx context.Context, id string, execMS int64, meta map[string]any) error
	MarkFailed(ctx context.Context, id string, errMsg string, execMS int64, meta map[string]any) error
}

// UsageRecorder records billable provider acceptances. It must be idempotent
// on the event's natural key; the engine calls it after every billable live
// success, including webhook-style replays.
type UsageRecorder interface {
	RecordUsageEvent(ctx context.Context, in ledger.UsageEventInput) (ledger.UsageLedgerEntry, error)
}

const (
	DefaultBatchSize   = 25
	MaxBatchSize       = 200
	DefaultConcurrency = 5
	MaxConcurrency     = 25
)

// Options tunes one engine invocation. Zero values take the defaults above.
type Options struct {
	DryRun      bool `json:"dry_run"`
	BatchSize   int  `json:"batch"`
	Concurrency int  `json:"concurrency"`
}

func (o Options) batchSize() int {
	switch {
	case o.BatchSize <= 0:
		return DefaultBatchSize
	case o.BatchSize > MaxBatchSize:
		return MaxBatchSize
	}
	return o.BatchSize
}

func (o Options) concurrency() int {
	switch {
	case o.Concurrency <= 0:
		return DefaultConcurrency
	case o.Concurrency > MaxConcurrency:
		return MaxConcurrency
	}
	return o.Concurrency
}

// Resolved returns a copy with defaults and hard caps applied, matching what
// Run will actually use.
func (o Options) Resolved() Options {
	o.BatchSize = o.batchSize()
	o.Concurrency = o.concurrency()
	return o
}

// RowResult is the per-touch outcome of one invocation.
type RowResult struct {
	TouchRunID  string        `json:"touch_run_id"`
	Channel     touch.Channel `json:"channel"`
	Status      touch.Status  `json:"status"`
	Error       string        `json:"error,omitempty"`
	ExecutionMS int64         `json:"execution_ms"`

	// LedgerEntryID is set when the send produced a billable ledger write.
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
}

// Summary reports both attempted and effected counts so an operator can tell
// "nothing was due" apart from "work failed".
type Summary struct {
	Fetched   int         `json:"fetched"`
	Claimed   int         `json:"claimed"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Results   []RowResult `json:"results"`
}

// Engine drains due touches: fetch, claim, fan out to a bounded worker pool,
// write terminal state per row. It is stateless; any number of instances may
// run concurrently against the same queue.
type Engine struct {
	queue   Queue
	senders *Registry
	usage   UsageRecorder
	log     *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewEngine(queue Queue, senders *Registry, usage UsageRecorder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{queue: queue, senders: senders, usage: usage, log: log, clock: time.Now}
}

// Run executes one dispatch pass. A zero-claim pass is a normal outcome, not
// an error; store-level failures on fetch or claim abort the invocation.
func (e *Engine) Run(ctx context.Context, opts Options) (Summary, error) {
	now := e.clock().UTC()

	due, err := e.queue.FetchDue(ctx, now, opts.batchSize())
	if err != nil {
		return Summary{}, err
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	ids := make([]string, len(due))
	for i, run := range due {
		ids[i] = run.ID
	}

	// Rows another instance claimed between fetch and claim simply drop out
	// of the returned set.
	claimed, err := e.queue.Claim(ctx, ids, now)
	if err != nil {
		return Summary{Fetched: len(due)}, err
	}
	summary := Summary{Fetched: len(due), Claimed: len(claimed)}
	if len(claimed) == 0 {
		return summary, nil
	}
	telemetry.TouchesClaimed.Add(float64(len(claimed)))

	results := make([]RowResult, len(claimed))
	workers := opts.concurrency()
	if workers > len(claimed) {
		workers = len(claimed)
	}

	// Fixed worker set pulling from one shared cursor. Ownership per row is
	// already settled by the claim, so workers need no further coordination.
	var cursor int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(claimed) {
					return
				}
				results[i] = e.processRow(ctx, claimed[i], opts.DryRun)
			}
		}()
	}
	wg.Wait()

	for _, res := range results {
		if res.Status == touch.StatusFailed {
			summary.Failed++
		} else {
			summary.Processed++
		}
	}
	summary.Results = results

	e.log.InfoContext(ctx, "dispatch pass complete",
		"fetched", summary.Fetched,
		"claimed", summary.Claimed,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"dry_run", opts.DryRun,
	)
	return summary, nil
}

func (e *Engine) processRow(ctx context.Context, run touch.TouchRun, dryRun bool) RowResult {
	res := RowResult{TouchRunID: run.ID, Channel: run.Channel}

	sender, err := e.senders.Resolve(run.Channel)
	if err != nil {
		return e.fail(ctx, run, dryRun, 0, err)
	}

	inv := Invocation{
		TouchRunID: run.ID,
		LeadID:     run.LeadID,
		AccountID:  run.AccountID,
		Step:       run.Step,
		Channel:    run.Channel,
		DryRun:     dryRun,
	}

	start := e.clock()
	telemetry.DispatchInFlight.Inc()
	sendRes, sendErr := sender.Send(ctx, inv)
	telemetry.DispatchInFlight.Dec()
	execMS := e.clock().Sub(start).Milliseconds()

	if sendErr != nil {
		return e.fail(ctx, run, dryRun, execMS, sendErr)
	}

	trace := executionTrace(run.Channel, dryRun, e.clock())
	if len(sendRes.Raw) > 0 {
		trace["provider_result"] = sendRes.Raw
	}

	if dryRun {
		// A dry run must never be observable as a real send: canceled, with
		// sent_at left null.
		if err := e.queue.MarkCanceled(ctx, run.ID, execMS, trace); err != nil {
			return e.fail(ctx, run, dryRun, execMS, err)
		}
		telemetry.TouchesCanceled.Inc()
		res.Status = touch.StatusCanceled
		res.ExecutionMS = execMS
		return res
	}

	sentAt := e.clock().UTC()
	if err := e.queue.MarkSent(ctx, run.ID, sentAt, execMS, trace); err != nil {
		return e.fail(ctx, run, dryRun, execMS, err)
	}
	telemetry.TouchesSent.Inc()
	res.Status = touch.StatusSent
	res.ExecutionMS = execMS

	if e.usage != nil && sendRes.Billable() {
		unitCost := sendRes.UnitCostCents
		if unitCost == 0 {
			// Gateways that do not quote a rate bill at the baseline.
			unitCost = ledger.DefaultUnitCostCents(run.Channel)
		}
		entry, err := e.usage.RecordUsageEvent(ctx, ledger.UsageEventInput{
			AccountID:     run.AccountID,
			LeadID:        run.LeadID,
			Channel:       run.Channel,
			Provider:      sendRes.Provider,
			RefID:         sendRes.RefID,
			Source:        "dispatch_engine",
			Units:         sendRes.Units,
			UnitCostCents: unitCost,
			OccurredAt:    sentAt,
			Meta:          map[string]any{"touch_run_id": run.ID},
		})
		if err != nil {
			// The touch was delivered; a ledger failure is surfaced, not
			// allowed to flip the touch back to failed.
			e.log.ErrorContext(ctx, "usage ledger write failed",
				"touch_run_id", run.ID, "channel", run.Channel, "error", err)
			res.Error = err.Error()
		} else {
			telemetry.UsageEventsRecorded.Inc()
			res.LedgerEntryID = entry.ID
		}
	}
	return res
}

func (e *Engine) fail(ctx context.Context, run touch.TouchRun, dryRun bool, execMS int64, cause error) RowResult {
	trace := executionTrace(run.Channel, dryRun, e.clock())
	if err := e.queue.MarkFailed(ctx, run.ID, cause.Error(), execMS, trace); err != nil {
		e.log.ErrorContext(ctx, "terminal write failed",
			"touch_run_id", run.ID, "channel", run.Channel, "error", err)
	}
	telemetry.TouchesFailed.Inc()
	e.log.WarnContext(ctx, "touch dispatch failed",
		"touch_run_id", run.ID, "channel", run.Channel, "error", cause.Error())
	return RowResult{
		TouchRunID:  run.ID,
		Channel:     run.Channel,
		Status:      touch.StatusFailed,
		Error:       cause.Error(),
		ExecutionMS: execMS,
	}
}

func executionTrace(ch touch.Channel, dryRun bool, at time.Time) map[string]any {
	return map[string]any{
		"handler": "dispatch." + string(ch),
		"dry_run": dryRun,
		"at":      at.UTC().Format(time.RFC3339),
	}
}
