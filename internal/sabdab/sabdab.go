// Package sabdab reads the SAbDab summary TSV into validated batch entries.
// Loosely structured rows are converted to typed entries at this boundary;
// the pipeline core never inspects raw row fields again.
package sabdab

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/absplit-io/absplit/internal/pdb"
	"github.com/absplit-io/absplit/internal/split"
)

// Sentinel errors for summary file handling.
var (
	// ErrMissingColumns is returned when the TSV header lacks required columns.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrEmptyFile is returned when the TSV has no header row.
	ErrEmptyFile = errors.New("empty summary file")
)

// requiredColumns must be present in the TSV header.
var requiredColumns = []string{"pdb", "Hchain", "antigen_chain"}

// Entry is one validated SAbDab row: an archive identifier plus its
// antibody (heavy + light) and antigen chain assignment.
type Entry struct {
	PDBID         string
	HeavyChain    string
	LightChain    string
	AntigenChains []string
	AntigenType   string
	Resolution    *float64
	Method        string
}

// AntibodyChains returns the heavy and light chains, deduplicated. Either
// may be absent; single-domain antibodies have no light chain.
func (e *Entry) AntibodyChains() []string {
	var chains []string

	if e.HeavyChain != "" {
		chains = append(chains, e.HeavyChain)
	}

	if e.LightChain != "" && e.LightChain != e.HeavyChain {
		chains = append(chains, e.LightChain)
	}

	return chains
}

// Valid reports whether the entry has at least one antibody chain and one
// antigen chain. Invalid entries cannot produce a chain assignment.
func (e *Entry) Valid() bool {
	return len(e.AntibodyChains()) > 0 && len(e.AntigenChains) > 0
}

// Assignment converts the entry's chain fields into a validated assignment.
func (e *Entry) Assignment() (*split.Assignment, error) {
	return split.NewAssignment(e.AntigenChains, e.AntibodyChains())
}

// ParseFile reads all valid entries from the summary TSV at path. Rows that
// fail validation are skipped with a warning; only a missing file or an
// unusable header aborts.
func ParseFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads valid entries from TSV content.
func Parse(r io.Reader) ([]*Entry, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	var missing []string

	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ","))
	}

	var entries []*Entry

	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			slog.Warn("Skipping unreadable summary row",
				slog.Int("row", row),
				slog.String("error", err.Error()))

			continue
		}

		entry := parseRow(record, index)
		if entry == nil {
			continue
		}

		if !entry.Valid() {
			slog.Debug("Skipping entry without usable chain assignment",
				slog.Int("row", row),
				slog.String("pdb_id", entry.PDBID))

			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func parseRow(record []string, index map[string]int) *Entry {
	id := pdb.NormalizeID(field(record, index, "pdb"))
	if !pdb.ValidID(id) {
		return nil
	}

	entry := &Entry{
		PDBID:         id,
		HeavyChain:    normalizeChain(field(record, index, "Hchain")),
		LightChain:    normalizeChain(field(record, index, "Lchain")),
		AntigenChains: upperAll(split.ParseChains(field(record, index, "antigen_chain"))),
		AntigenType:   strings.TrimSpace(field(record, index, "antigen_type")),
		Method:        strings.TrimSpace(field(record, index, "method")),
	}

	if res := strings.TrimSpace(field(record, index, "resolution")); res != "" && !strings.EqualFold(res, "NA") {
		if v, err := strconv.ParseFloat(res, 64); err == nil {
			entry.Resolution = &v
		}
	}

	return entry
}

func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}

	return record[i]
}

// normalizeChain uppercases a chain identifier; "NA" means no chain.
func normalizeChain(chain string) string {
	chain = strings.ToUpper(strings.TrimSpace(chain))
	if chain == "NA" {
		return ""
	}

	return chain
}

func upperAll(chains []string) []string {
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		out = append(out, strings.ToUpper(c))
	}

	return out
}
