package pipeline

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/absplit-io/absplit/internal/config"
	"github.com/absplit-io/absplit/internal/fetch"
	"github.com/absplit-io/absplit/internal/pdb"
	"github.com/absplit-io/absplit/internal/split"
)

// Processor runs the per-entry state machine to a terminal outcome. It never
// retries internally; retry is a batch-level concern driven by the ledger.
// A Processor is shared by all workers of a batch: it holds no per-entry
// state, so concurrent Process calls for distinct entries are safe.
type Processor struct {
	settings *config.Settings
	fetcher  *fetch.Client
}

// NewProcessor creates a processor using the settings' fetch configuration
// and output layout.
func NewProcessor(settings *config.Settings) *Processor {
	return &Processor{
		settings: settings,
		fetcher: fetch.NewClient(
			settings.BaseURL,
			settings.RawDir(),
			settings.FetchTimeout,
			settings.RatePerSec,
		),
	}
}

// Process takes one entry through Fetch → Parse → Split → Write. The first
// failing stage short-circuits to the corresponding terminal status; later
// stages are never attempted and no failure escapes as an error. force
// bypasses the incremental fetch short-circuit for this one entry.
func (p *Processor) Process(ctx context.Context, entry *Entry, force bool) *Outcome {
	out := &Outcome{
		ID:         pdb.NormalizeID(entry.ID),
		Assignment: entry.Assignment,
		StartedAt:  time.Now(),
	}
	defer func() {
		out.FinishedAt = time.Now()
	}()

	incremental := p.settings.Incremental && !force

	fetched, err := p.fetcher.Fetch(ctx, out.ID, incremental)
	if err != nil {
		return out.fail(StatusDownloadFailed, err)
	}

	out.FetchSkipped = fetched.Skipped

	raw, err := os.ReadFile(fetched.Path)
	if err != nil {
		return out.fail(StatusDownloadFailed, err)
	}

	structure, err := pdb.Parse(out.ID, raw, fetched.Format)
	if err != nil {
		return out.fail(StatusParseFailed, err)
	}

	antigen, antibody, err := split.Split(structure, entry.Assignment)
	if err != nil {
		return out.fail(StatusChainNotFound, err)
	}

	antigenPath := p.settings.AntigenPath(out.ID)
	if err := pdb.Write(antigen, antigenPath); err != nil {
		return out.fail(StatusWriteFailed, err)
	}

	antibodyPath := p.settings.AntibodyPath(out.ID)
	if err := pdb.Write(antibody, antibodyPath); err != nil {
		return out.fail(StatusWriteFailed, err)
	}

	out.Status = StatusSuccess
	out.AntigenPath = antigenPath
	out.AntibodyPath = antibodyPath

	slog.Info("Processed entry",
		slog.String("pdb_id", out.ID),
		slog.Int("antigen_residues", antigen.ResidueCount()),
		slog.Int("antibody_residues", antibody.ResidueCount()))

	return out
}

// InspectChains fetches and parses an entry without splitting or writing,
// returning its chains in structure order.
func (p *Processor) InspectChains(ctx context.Context, id string) ([]*pdb.Chain, error) {
	id = pdb.NormalizeID(id)

	fetched, err := p.fetcher.Fetch(ctx, id, p.settings.Incremental)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(fetched.Path)
	if err != nil {
		return nil, err
	}

	structure, err := pdb.Parse(id, raw, fetched.Format)
	if err != nil {
		return nil, err
	}

	return structure.Chains, nil
}

func (o *Outcome) fail(status Status, err error) *Outcome {
	o.Status = status
	o.Detail = err.Error()

	slog.Warn("Entry failed",
		slog.String("pdb_id", o.ID),
		slog.String("status", string(status)),
		slog.String("error", err.Error()))

	return o
}
