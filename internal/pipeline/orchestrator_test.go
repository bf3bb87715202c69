package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absplit-io/absplit/internal/ledger"
)

func TestRun_AggregatesMixedOutcomes(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/1AAA.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}, chainSpec{"L", 10}),
		"/2BBB.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}),
	}, nil)
	settings := testSettings(t, server)

	entries := []*Entry{
		{ID: "1AAA", Assignment: mustAssignment(t, []string{"A"}, []string{"H", "L"})},
		{ID: "2BBB", Assignment: mustAssignment(t, []string{"A"}, []string{"H", "L"})}, // L missing
		{ID: "3CCC", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})},      // 404
	}

	summary, err := NewOrchestrator(settings).Run(context.Background(), entries, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.FailureBreakdown[string(StatusChainNotFound)])
	assert.Equal(t, 1, summary.FailureBreakdown[string(StatusDownloadFailed)])
	assert.NotEmpty(t, summary.RunID)

	led, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"2BBB", "3CCC"}, led.IDs())

	rec, ok := led.Get("2BBB")
	require.True(t, ok)
	assert.Equal(t, string(StatusChainNotFound), rec.Status)
	assert.Equal(t, []string{"A"}, rec.AntigenChains)
	assert.Equal(t, []string{"H", "L"}, rec.AntibodyChains)

	assert.FileExists(t, settings.SummaryPath())
}

func TestRun_NeverAbortsOnEntryFailures(t *testing.T) {
	server := fakeArchive(t, nil, nil)
	settings := testSettings(t, server)

	entries := []*Entry{
		{ID: "1AAA", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})},
		{ID: "2BBB", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})},
	}

	summary, err := NewOrchestrator(settings).Run(context.Background(), entries, RunOptions{})

	require.NoError(t, err, "a batch with only failing entries still returns a summary")
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.FailureBreakdown[string(StatusDownloadFailed)])
}

func TestRun_IncrementalIdempotence(t *testing.T) {
	var requests atomic.Int64

	server := fakeArchive(t, map[string]string{
		"/1AAA.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}),
		"/2BBB.pdb": pdbBody(chainSpec{"B", 10}, chainSpec{"H", 10}),
	}, &requests)
	settings := testSettings(t, server)

	entries := []*Entry{
		{ID: "1AAA", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})},
		{ID: "2BBB", Assignment: mustAssignment(t, []string{"B"}, []string{"H"})},
	}

	orch := NewOrchestrator(settings)

	first, err := orch.Run(context.Background(), entries, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Success)

	fetched := requests.Load()

	second, err := orch.Run(context.Background(), entries, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Success, second.Success)
	assert.Equal(t, first.Failed, second.Failed)
	assert.Equal(t, fetched, requests.Load(), "second incremental run must make zero network calls")
	assert.Equal(t, 2, second.Skipped)
}

func TestRun_LimitTruncatesInInputOrder(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/1AAA.pdb": pdbBody(chainSpec{"A", 5}, chainSpec{"H", 5}),
		"/2BBB.pdb": pdbBody(chainSpec{"A", 5}, chainSpec{"H", 5}),
		"/3CCC.pdb": pdbBody(chainSpec{"A", 5}, chainSpec{"H", 5}),
	}, nil)
	settings := testSettings(t, server)

	assignment := mustAssignment(t, []string{"A"}, []string{"H"})
	entries := []*Entry{
		{ID: "1AAA", Assignment: assignment},
		{ID: "2BBB", Assignment: assignment},
		{ID: "3CCC", Assignment: assignment},
	}

	summary, err := NewOrchestrator(settings).Run(context.Background(), entries, RunOptions{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.FileExists(t, settings.AntigenPath("1AAA"))
	assert.FileExists(t, settings.AntigenPath("2BBB"))
	assert.NoFileExists(t, settings.AntigenPath("3CCC"))
}

func TestRun_ParallelWorkers(t *testing.T) {
	files := make(map[string]string)
	ids := []string{"1AAA", "2BBB", "3CCC", "4DDD", "5EEE", "6FFF", "7GGG", "8HHH"}

	for _, id := range ids {
		files["/"+id+".pdb"] = pdbBody(chainSpec{"A", 20}, chainSpec{"H", 20})
	}

	server := fakeArchive(t, files, nil)
	settings := testSettings(t, server)
	settings.Workers = 4

	assignment := mustAssignment(t, []string{"A"}, []string{"H"})

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &Entry{ID: id, Assignment: assignment})
	}

	summary, err := NewOrchestrator(settings).Run(context.Background(), entries, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, len(ids), summary.Total)
	assert.Equal(t, len(ids), summary.Success)
	assert.Equal(t, 0, summary.Failed)

	led, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, 0, led.Len())
}

func TestRun_CancelSkipsQueuedEntriesWithoutLedgerRecords(t *testing.T) {
	// The single worker blocks inside the archive on its first download
	// while the other five entries sit queued on the pool. Cancelling then
	// releasing must let the in-flight entry finish and drop the rest
	// without a single failure record.
	firstRequest := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		once.Do(func() { close(firstRequest) })
		<-release

		_, _ = w.Write([]byte(pdbBody(chainSpec{"A", 5}, chainSpec{"H", 5})))
	}))
	t.Cleanup(server.Close)

	settings := testSettings(t, server)

	assignment := mustAssignment(t, []string{"A"}, []string{"H"})

	ids := []string{"1AAA", "2BBB", "3CCC", "4DDD", "5EEE", "6FFF"}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &Entry{ID: id, Assignment: assignment})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		summary *Summary
		runErr  error
	)

	done := make(chan struct{})

	go func() {
		defer close(done)

		summary, runErr = NewOrchestrator(settings).Run(ctx, entries, RunOptions{})
	}()

	<-firstRequest
	cancel()
	close(release)
	<-done

	require.NoError(t, runErr)

	assert.Equal(t, 1, summary.Total, "only the in-flight entry is aggregated")
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(1), requests.Load(), "queued entries make no network calls after cancellation")

	led, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, 0, led.Len(), "undispatched entries leave no failure records")
}

func TestRun_UnusableOutputRootIsFatal(t *testing.T) {
	server := fakeArchive(t, nil, nil)
	settings := testSettings(t, server)

	// Occupy the output root with a regular file.
	occupied := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(occupied, []byte("x"), 0o644))
	settings.OutputDir = occupied

	_, err := NewOrchestrator(settings).Run(context.Background(), nil, RunOptions{})

	assert.Error(t, err)
}

func TestRetry_Convergence(t *testing.T) {
	// A's download now succeeds; B's requested chain is still missing.
	server := fakeArchive(t, map[string]string{
		"/1AAA.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}),
		"/2BBB.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}),
	}, nil)
	settings := testSettings(t, server)

	led, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)

	led.RecordFailure("1AAA", ledger.Record{
		Status:         string(StatusDownloadFailed),
		AntigenChains:  []string{"A"},
		AntibodyChains: []string{"H"},
		Timestamp:      time.Now(),
	})
	led.RecordFailure("2BBB", ledger.Record{
		Status:         string(StatusChainNotFound),
		AntigenChains:  []string{"A"},
		AntibodyChains: []string{"H", "L"},
		Timestamp:      time.Now(),
	})
	require.NoError(t, led.Save())

	summary, err := NewOrchestrator(settings).Retry(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)

	reloaded, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"2BBB"}, reloaded.IDs())

	rec, _ := reloaded.Get("2BBB")
	assert.Equal(t, string(StatusChainNotFound), rec.Status)
}

func TestRetry_EmptyLedgerRunsNothing(t *testing.T) {
	var requests atomic.Int64

	server := fakeArchive(t, nil, &requests)
	settings := testSettings(t, server)

	summary, err := NewOrchestrator(settings).Retry(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, int64(0), requests.Load())
}

func TestProcessOne_UpdatesLedger(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/6OEJ.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}, chainSpec{"L", 10}),
	}, nil)
	settings := testSettings(t, server)
	orch := NewOrchestrator(settings)

	// First attempt wants a chain that is not there.
	out, err := orch.ProcessOne(context.Background(), "6oej", []string{"Z"}, []string{"H", "L"}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusChainNotFound, out.Status)

	led, err := ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	_, ok := led.Get("6OEJ")
	assert.True(t, ok)

	// Corrected assignment succeeds and clears the ledger entry.
	out, err = orch.ProcessOne(context.Background(), "6oej", []string{"A"}, []string{"H", "L"}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	led, err = ledger.Load(settings.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, 0, led.Len())
}

func TestProcessOne_InvalidIdentifier(t *testing.T) {
	server := fakeArchive(t, nil, nil)
	settings := testSettings(t, server)

	_, err := NewOrchestrator(settings).ProcessOne(context.Background(), "toolong", []string{"A"}, []string{"H"}, false)

	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestProcessOne_OverlappingChainsRejected(t *testing.T) {
	server := fakeArchive(t, nil, nil)
	settings := testSettings(t, server)

	_, err := NewOrchestrator(settings).ProcessOne(context.Background(), "6OEJ", []string{"A", "H"}, []string{"H"}, false)

	assert.Error(t, err)
}

func TestSummary_OrderIndependentAggregate(t *testing.T) {
	outcomes := []*Outcome{
		{ID: "1AAA", Status: StatusSuccess},
		{ID: "2BBB", Status: StatusDownloadFailed},
		{ID: "3CCC", Status: StatusChainNotFound},
		{ID: "4DDD", Status: StatusSuccess, FetchSkipped: true},
	}

	forward := NewSummary()
	for _, out := range outcomes {
		forward.Add(out)
	}

	backward := NewSummary()
	for i := len(outcomes) - 1; i >= 0; i-- {
		backward.Add(outcomes[i])
	}

	assert.Equal(t, forward.Total, backward.Total)
	assert.Equal(t, forward.Success, backward.Success)
	assert.Equal(t, forward.Failed, backward.Failed)
	assert.Equal(t, forward.FailureBreakdown, backward.FailureBreakdown)
	assert.Equal(t, forward.Skipped, backward.Skipped)
}
