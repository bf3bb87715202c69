package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absplit-io/absplit/internal/config"
	"github.com/absplit-io/absplit/internal/pdb"
	"github.com/absplit-io/absplit/internal/split"
)

// chainSpec describes one chain of a generated structure body.
type chainSpec struct {
	id       string
	residues int
}

// pdbBody generates a legacy fixed-column structure with the given chains,
// one CA atom per residue, numbered from 1.
func pdbBody(chains ...chainSpec) string {
	var sb strings.Builder

	serial := 1

	for _, chain := range chains {
		for i := 1; i <= chain.residues; i++ {
			fmt.Fprintf(&sb, "ATOM  %5d  CA  GLY %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f           C\n",
				serial, chain.id, i, 1.0, 2.0, 3.0, 1.0, 20.0)
			serial++
		}

		sb.WriteString("TER\n")
	}

	sb.WriteString("END\n")

	return sb.String()
}

// fakeArchive serves generated structure bodies by request path and counts
// requests.
func fakeArchive(t *testing.T, files map[string]string, requests *atomic.Int64) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}

		body, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func testSettings(t *testing.T, server *httptest.Server) *config.Settings {
	t.Helper()

	s := &config.Settings{
		OutputDir:    t.TempDir(),
		BaseURL:      server.URL + "/",
		FetchTimeout: 5 * time.Second,
		Workers:      1,
		Incremental:  true,
	}
	require.NoError(t, s.EnsureDirs())

	return s
}

func mustAssignment(t *testing.T, antigen, antibody []string) *split.Assignment {
	t.Helper()

	a, err := split.NewAssignment(antigen, antibody)
	require.NoError(t, err)

	return a
}

func TestProcessor_EndToEnd(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/6OEJ.pdb": pdbBody(chainSpec{"A", 333}, chainSpec{"H", 227}, chainSpec{"L", 215}),
	}, nil)
	settings := testSettings(t, server)

	entry := &Entry{ID: "6OEJ", Assignment: mustAssignment(t, []string{"A"}, []string{"H", "L"})}

	out := NewProcessor(settings).Process(context.Background(), entry, false)

	require.Equal(t, StatusSuccess, out.Status, "detail: %s", out.Detail)
	assert.False(t, out.Failed())
	assert.False(t, out.StartedAt.IsZero())
	assert.False(t, out.FinishedAt.IsZero())

	antigen := parseFile(t, out.AntigenPath)
	assert.Equal(t, []string{"A"}, antigen.ChainIDs())
	assert.Equal(t, 333, antigen.ResidueCount())

	antibody := parseFile(t, out.AntibodyPath)
	assert.Equal(t, []string{"H", "L"}, antibody.ChainIDs())
	assert.Equal(t, 442, antibody.ResidueCount())
}

func parseFile(t *testing.T, path string) *pdb.Structure {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	s, err := pdb.Parse("6OEJ", raw, pdb.FormatPDB)
	require.NoError(t, err)

	return s
}

func TestProcessor_DownloadFailed(t *testing.T) {
	server := fakeArchive(t, nil, nil)
	settings := testSettings(t, server)

	entry := &Entry{ID: "1ZZZ", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})}

	out := NewProcessor(settings).Process(context.Background(), entry, false)

	assert.Equal(t, StatusDownloadFailed, out.Status)
	assert.NotEmpty(t, out.Detail)
	assert.NoFileExists(t, settings.AntigenPath("1ZZZ"))
}

func TestProcessor_ParseFailed(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/2AAA.pdb": "HEADER    NO ATOMS HERE\nEND\n",
	}, nil)
	settings := testSettings(t, server)

	entry := &Entry{ID: "2AAA", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})}

	out := NewProcessor(settings).Process(context.Background(), entry, false)

	assert.Equal(t, StatusParseFailed, out.Status)
}

func TestProcessor_MalformedResidueNumbering(t *testing.T) {
	body := pdbBody(chainSpec{"A", 2})
	body = strings.Replace(body, "GLY A   2", "GLY A 2.5", 1)

	server := fakeArchive(t, map[string]string{"/3BBB.pdb": body}, nil)
	settings := testSettings(t, server)

	entry := &Entry{ID: "3BBB", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})}

	out := NewProcessor(settings).Process(context.Background(), entry, false)

	assert.Equal(t, StatusParseFailed, out.Status)
	assert.Contains(t, out.Detail, "residue number")
}

func TestProcessor_ChainNotFound_NoPartialOutput(t *testing.T) {
	// Structure has H but the assignment also wants L.
	server := fakeArchive(t, map[string]string{
		"/4CCC.pdb": pdbBody(chainSpec{"A", 10}, chainSpec{"H", 10}),
	}, nil)
	settings := testSettings(t, server)

	entry := &Entry{ID: "4CCC", Assignment: mustAssignment(t, []string{"A"}, []string{"H", "L"})}

	out := NewProcessor(settings).Process(context.Background(), entry, false)

	assert.Equal(t, StatusChainNotFound, out.Status)
	assert.Contains(t, out.Detail, "L")
	assert.NoFileExists(t, settings.AntigenPath("4CCC"), "all-or-nothing: no partial outputs")
	assert.NoFileExists(t, settings.AntibodyPath("4CCC"))
}

func TestProcessor_ForceRedownloads(t *testing.T) {
	var requests atomic.Int64

	server := fakeArchive(t, map[string]string{
		"/5DDD.pdb": pdbBody(chainSpec{"A", 5}, chainSpec{"H", 5}),
	}, &requests)
	settings := testSettings(t, server)

	entry := &Entry{ID: "5DDD", Assignment: mustAssignment(t, []string{"A"}, []string{"H"})}
	processor := NewProcessor(settings)

	out := processor.Process(context.Background(), entry, false)
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, int64(1), requests.Load())

	// Incremental run: no network.
	out = processor.Process(context.Background(), entry, false)
	require.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.FetchSkipped)
	assert.Equal(t, int64(1), requests.Load())

	// Forced run: fetches again.
	out = processor.Process(context.Background(), entry, true)
	require.Equal(t, StatusSuccess, out.Status)
	assert.False(t, out.FetchSkipped)
	assert.Equal(t, int64(2), requests.Load())
}

func TestProcessor_InspectChains(t *testing.T) {
	server := fakeArchive(t, map[string]string{
		"/6OEJ.pdb": pdbBody(chainSpec{"A", 333}, chainSpec{"H", 227}, chainSpec{"L", 215}),
	}, nil)
	settings := testSettings(t, server)

	chains, err := NewProcessor(settings).InspectChains(context.Background(), "6oej")
	require.NoError(t, err)

	require.Len(t, chains, 3)
	assert.Equal(t, "A", chains[0].ID)
	assert.Equal(t, 333, chains[0].ResidueCount())
	assert.Equal(t, 227, chains[1].ResidueCount())
	assert.Equal(t, 215, chains[2].ResidueCount())

	// Inspect writes nothing under processed/.
	assert.NoFileExists(t, settings.AntigenPath("6OEJ"))
}
