// Package pdb parses protein structure files into a normalized chain/residue
// model and serializes chain subsets back out in the legacy fixed-column
// format expected by downstream tools.
package pdb

import (
	"fmt"
	"strings"
)

// Format identifies the raw file format a structure was parsed from.
type Format string

const (
	// FormatPDB is the legacy fixed-column format.
	FormatPDB Format = "pdb"
	// FormatCIF is the PDBx/mmCIF tagged-field format.
	FormatCIF Format = "cif"
)

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// Atom is a single ATOM record. The original fixed-format line is carried
// through unchanged in Line so that output files reproduce the source bytes;
// for mmCIF input a fixed-format line is synthesized at parse time.
type Atom struct {
	Serial        int
	Name          string
	AltLoc        string
	Residue       string
	Chain         string
	ResidueNumber int
	InsCode       string
	X             float64
	Y             float64
	Z             float64
	Occupancy     float64
	BFactor       float64
	Element       string
	Line          string
}

// Residue groups the atoms sharing one (number, insertion code) pair within
// a chain. Numbers are not required to be contiguous, positive, or start at
// one; some archive entries have gaps or negative numbers.
type Residue struct {
	Number  int
	InsCode string
	Name    string
	Atoms   []*Atom
}

// ID returns the residue number with its insertion-code suffix, e.g. "100A".
func (r *Residue) ID() string {
	return fmt.Sprintf("%d%s", r.Number, r.InsCode)
}

// Chain is an ordered run of residues under one chain identifier.
type Chain struct {
	ID       string
	Residues []*Residue
}

// ResidueCount returns the number of residues in the chain.
func (c *Chain) ResidueCount() int {
	return len(c.Residues)
}

// Structure is one parsed archive entry: chains in first-seen order plus the
// raw format it was parsed from.
type Structure struct {
	ID     string
	Source Format
	Chains []*Chain
}

// Chain returns the chain with the given identifier, if present.
func (s *Structure) Chain(id string) (*Chain, bool) {
	for _, c := range s.Chains {
		if c.ID == id {
			return c, true
		}
	}

	return nil, false
}

// ChainIDs returns the chain identifiers in structure order.
func (s *Structure) ChainIDs() []string {
	ids := make([]string, 0, len(s.Chains))
	for _, c := range s.Chains {
		ids = append(ids, c.ID)
	}

	return ids
}

// ResidueCount returns the total number of residues across all chains.
func (s *Structure) ResidueCount() int {
	var n int
	for _, c := range s.Chains {
		n += len(c.Residues)
	}

	return n
}

// NormalizeID uppercases and trims an archive identifier. Identifiers are
// case-insensitive at every boundary; ValidID enforces the 4-character rule.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidID reports whether id is a well-formed 4-character archive identifier.
func ValidID(id string) bool {
	return len(strings.TrimSpace(id)) == 4
}
