// Package pipeline orchestrates structure acquisition and chain splitting:
// a per-entry fetch → parse → split → write state machine, and a batch
// driver running it across many entries with a bounded worker pool, a
// persistent failure ledger, and a summary report.
package pipeline

import (
	"time"

	"github.com/absplit-io/absplit/internal/split"
)

// Status is the terminal state of one entry's processing.
type Status string

const (
	// StatusSuccess means both output structures were written.
	StatusSuccess Status = "success"
	// StatusDownloadFailed means the archive entry was unavailable in any
	// supported format, or the network failed or timed out.
	StatusDownloadFailed Status = "download_failed"
	// StatusParseFailed means the raw file could not be parsed into chains.
	StatusParseFailed Status = "parse_failed"
	// StatusChainNotFound means requested chains are absent from the structure.
	StatusChainNotFound Status = "chain_not_found"
	// StatusWriteFailed means an output structure could not be persisted.
	StatusWriteFailed Status = "write_failed"
)

// Failed reports whether the status is a failure kind.
func (s Status) Failed() bool {
	return s != StatusSuccess
}

// Entry is one unit of batch work: an archive identifier plus its validated
// chain assignment.
type Entry struct {
	ID         string
	Assignment *split.Assignment
}

// Outcome records how processing one entry ended. Created once per
// processing attempt and immutable afterwards; the orchestrator's aggregator
// is its only consumer.
type Outcome struct {
	ID         string
	Status     Status
	Detail     string
	Assignment *split.Assignment

	// FetchSkipped is true when the incremental short-circuit avoided the
	// network entirely.
	FetchSkipped bool

	AntigenPath  string
	AntibodyPath string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the outcome is a failure.
func (o *Outcome) Failed() bool {
	return o.Status.Failed()
}
