package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeffail/tunny"

	"github.com/absplit-io/absplit/internal/config"
	"github.com/absplit-io/absplit/internal/ledger"
	"github.com/absplit-io/absplit/internal/pdb"
	"github.com/absplit-io/absplit/internal/split"
)

// ErrInvalidID is returned for an identifier that is not 4 characters long.
var ErrInvalidID = errors.New("invalid archive identifier")

// RunOptions tune one batch invocation.
type RunOptions struct {
	// Limit truncates the entry set to the first N in input order before
	// dispatch; 0 means no cap. Used for smoke-testing a pipeline run.
	Limit int
	// Force bypasses the incremental fetch short-circuit for every entry.
	Force bool
}

// Orchestrator drives the per-entry processor over collections of entries
// with a bounded worker pool, folding outcomes into the failure ledger and a
// summary report through a single aggregation point.
type Orchestrator struct {
	settings  *config.Settings
	processor *Processor
}

// NewOrchestrator creates an orchestrator over the given settings.
func NewOrchestrator(settings *config.Settings) *Orchestrator {
	return &Orchestrator{
		settings:  settings,
		processor: NewProcessor(settings),
	}
}

// Run processes the entries and returns the run's summary. Workers take one
// entry each to completion; outcomes flow back over a channel to this
// goroutine, which is the only writer of the ledger and summary, so no two
// outcomes interleave their ledger effect. Per-entry failures are recorded
// and never abort the batch: only an unusable output root or an unreadable
// ledger is fatal, and both are checked before anything is dispatched.
//
// Cancelling ctx stops dispatching: entries a worker has already picked up
// run to completion detached from ctx (the fetch timeout still bounds their
// downloads) and their outcomes are aggregated; entries still queued when
// cancellation is observed are dropped without touching the ledger or the
// summary.
func (o *Orchestrator) Run(ctx context.Context, entries []*Entry, opts RunOptions) (*Summary, error) {
	if err := o.settings.EnsureDirs(); err != nil {
		return nil, err
	}

	led, err := ledger.Load(o.settings.LedgerPath())
	if err != nil {
		return nil, err
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	width := o.settings.Workers
	if width < 1 {
		width = 1
	}

	slog.Info("Starting batch",
		slog.Int("entries", len(entries)),
		slog.Int("workers", width),
		slog.Bool("incremental", o.settings.Incremental && !opts.Force))

	// Every entry is queued on the pool up front, so cancellation has to be
	// re-checked the moment a worker picks an entry up. A queued entry the
	// check turns away yields a nil outcome and leaves no trace in the
	// ledger or the summary; an entry that passes the check runs detached
	// from ctx so its download is not aborted mid-flight.
	var skipped atomic.Int64

	pool := tunny.NewFunc(width, func(payload interface{}) interface{} {
		if ctx.Err() != nil {
			skipped.Add(1)

			return nil
		}

		return o.processor.Process(context.WithoutCancel(ctx), payload.(*Entry), opts.Force)
	})
	defer pool.Close()

	results := make(chan *Outcome)

	go func() {
		var wg sync.WaitGroup

		for i, entry := range entries {
			if ctx.Err() != nil {
				skipped.Add(int64(len(entries) - i))

				break
			}

			wg.Add(1)

			go func(e *Entry) {
				defer wg.Done()

				if out, ok := pool.Process(e).(*Outcome); ok {
					results <- out
				}
			}(entry)
		}

		wg.Wait()

		if n := skipped.Load(); n > 0 {
			slog.Info("Stopped dispatching on cancellation", slog.Int64("entries_skipped", n))
		}

		close(results)
	}()

	summary := NewSummary()

	for out := range results {
		summary.Add(out)
		applyOutcome(led, out)
	}

	summary.FinishedAt = time.Now()

	if err := led.Save(); err != nil {
		return summary, err
	}

	if err := summary.Save(o.settings.SummaryPath()); err != nil {
		return summary, err
	}

	slog.Info("Batch finished",
		slog.String("run_id", summary.RunID),
		slog.Int("total", summary.Total),
		slog.Int("success", summary.Success),
		slog.Int("failed", summary.Failed))

	return summary, nil
}

// Retry re-runs exactly the entries whose last recorded outcome in the
// ledger is a failure, reconstructing each chain assignment from the stored
// record. Entries not present in the ledger are untouched. Identifiers run
// in sorted order so Limit truncates deterministically.
func (o *Orchestrator) Retry(ctx context.Context, opts RunOptions) (*Summary, error) {
	led, err := ledger.Load(o.settings.LedgerPath())
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, led.Len())

	for _, id := range led.IDs() {
		rec, _ := led.Get(id)

		assignment, err := split.NewAssignment(rec.AntigenChains, rec.AntibodyChains)
		if err != nil {
			slog.Warn("Ledger record has no usable chain assignment, leaving as failed",
				slog.String("pdb_id", id),
				slog.String("error", err.Error()))

			continue
		}

		entries = append(entries, &Entry{ID: id, Assignment: assignment})
	}

	slog.Info("Retrying failed entries", slog.Int("entries", len(entries)))

	return o.Run(ctx, entries, opts)
}

// ProcessOne runs the state machine for a single explicit chain assignment,
// updating the ledger with the outcome. force bypasses the incremental fetch
// short-circuit. Assignment validation and an unusable output root are
// config-level errors; everything downstream lands in the outcome.
func (o *Orchestrator) ProcessOne(ctx context.Context, id string, antigen, antibody []string, force bool) (*Outcome, error) {
	id = pdb.NormalizeID(id)
	if !pdb.ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	assignment, err := split.NewAssignment(antigen, antibody)
	if err != nil {
		return nil, err
	}

	if err := o.settings.EnsureDirs(); err != nil {
		return nil, err
	}

	led, err := ledger.Load(o.settings.LedgerPath())
	if err != nil {
		return nil, err
	}

	out := o.processor.Process(ctx, &Entry{ID: id, Assignment: assignment}, force)

	applyOutcome(led, out)

	if err := led.Save(); err != nil {
		return out, err
	}

	return out, nil
}

// InspectChains fetches and parses an entry, returning its chains without
// splitting or writing anything under processed/.
func (o *Orchestrator) InspectChains(ctx context.Context, id string) ([]*pdb.Chain, error) {
	id = pdb.NormalizeID(id)
	if !pdb.ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	if err := o.settings.EnsureDirs(); err != nil {
		return nil, err
	}

	return o.processor.InspectChains(ctx, id)
}

// applyOutcome folds one outcome into the ledger: failures are stored keyed
// by identifier, a success removes any earlier failure for it.
func applyOutcome(led *ledger.Ledger, out *Outcome) {
	if !out.Failed() {
		led.Resolve(out.ID)

		return
	}

	rec := ledger.Record{
		Status:    string(out.Status),
		Detail:    out.Detail,
		Timestamp: out.FinishedAt,
	}

	if out.Assignment != nil {
		rec.AntigenChains = out.Assignment.Antigen
		rec.AntibodyChains = out.Assignment.Antibody
	}

	led.RecordFailure(out.ID, rec)
}
