// Package ledger persists the set of currently-failing entries between runs.
// The ledger is what makes retry incremental: failures accumulate across
// runs and an entry leaves the ledger only when a later run succeeds for it.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrCorrupt is returned when the ledger file exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt ledger file")

// Record is the last failing outcome stored for an identifier. The chain
// assignment is kept so a retry run can rebuild the entry without the
// original reference table.
type Record struct {
	Status         string    `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	AntigenChains  []string  `json:"antigen_chains,omitempty"`
	AntibodyChains []string  `json:"antibody_chains,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Ledger is an in-memory view of the failure file, keyed by identifier.
// It is not safe for concurrent use: the batch aggregator is its single
// writer, applying one outcome at a time.
type Ledger struct {
	path    string
	entries map[string]Record
}

// Load reads the ledger at path. A missing file yields an empty ledger; an
// unreadable or undecodable file is an error so failures are never silently
// forgotten.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}

		return nil, fmt.Errorf("read ledger: %w", err)
	}

	if len(data) == 0 {
		return l, nil
	}

	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	return l, nil
}

// RecordFailure stores or replaces the failing record for an identifier.
func (l *Ledger) RecordFailure(id string, rec Record) {
	l.entries[id] = rec
}

// Resolve removes an identifier after a successful outcome.
func (l *Ledger) Resolve(id string) {
	delete(l.entries, id)
}

// Get returns the stored record for an identifier, if present.
func (l *Ledger) Get(id string) (Record, bool) {
	rec, ok := l.entries[id]

	return rec, ok
}

// Len returns the number of failing identifiers in the ledger.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// IDs returns the failing identifiers in sorted order. The on-disk form is a
// set; sorting gives retry runs a deterministic dispatch order.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Save writes the current entry set back to the ledger path, via a temporary
// sibling renamed into place.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write ledger: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("write ledger: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("write ledger: %w", err)
	}

	return nil
}
