// Package split extracts antigen and antibody chain subsets from a parsed
// structure. Splits are all-or-nothing per side: a partially satisfiable
// request fails, so consumers never receive a silently incomplete structure.
package split

import (
	"errors"
	"fmt"
	"strings"

	"github.com/absplit-io/absplit/internal/pdb"
)

// Sentinel errors for assignment validation and splitting.
var (
	// ErrChainNotFound is returned when one or more requested chains are
	// absent from the source structure. Use errors.As with *NotFoundError to
	// recover the full missing list.
	ErrChainNotFound = errors.New("chain not found in structure")
	// ErrEmptySide is returned when an assignment side has no chains.
	ErrEmptySide = errors.New("assignment side has no chains")
	// ErrOverlap is returned when the antigen and antibody sets intersect.
	ErrOverlap = errors.New("antigen and antibody chains overlap")
)

// NotFoundError lists every requested chain identifier absent from the
// source structure, not just the first one encountered.
type NotFoundError struct {
	Missing []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: missing %s", ErrChainNotFound, strings.Join(e.Missing, ","))
}

func (e *NotFoundError) Unwrap() error {
	return ErrChainNotFound
}

// Assignment is a validated pair of disjoint chain-identifier sets. Order is
// significant: output structures carry chains in the order they were
// requested, which keeps output files deterministic and caller-controlled.
type Assignment struct {
	Antigen  []string
	Antibody []string
}

// NewAssignment validates and normalizes the two chain lists. Identifiers
// are uppercased, "NA" and empty entries dropped, duplicates removed with
// first occurrence winning. Both sides must end up non-empty and disjoint.
func NewAssignment(antigen, antibody []string) (*Assignment, error) {
	ag := normalizeChains(antigen)
	ab := normalizeChains(antibody)

	if len(ag) == 0 {
		return nil, fmt.Errorf("%w: antigen", ErrEmptySide)
	}

	if len(ab) == 0 {
		return nil, fmt.Errorf("%w: antibody", ErrEmptySide)
	}

	seen := make(map[string]bool, len(ag))
	for _, id := range ag {
		seen[id] = true
	}

	for _, id := range ab {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrOverlap, id)
		}
	}

	return &Assignment{Antigen: ag, Antibody: ab}, nil
}

// ParseChains splits a chain-identifier field on "|" (the SAbDab convention
// for "any of these chains") or ",". "NA" means no chain.
//
// Examples: "A" -> [A]; "H,L" -> [H L]; "A | B" -> [A B]; "NA" -> [].
func ParseChains(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, "NA") {
		return nil
	}

	sep := ","
	if strings.Contains(field, "|") {
		sep = "|"
	}

	var chains []string

	for _, part := range strings.Split(field, sep) {
		part = strings.TrimSpace(part)
		if part != "" && !strings.EqualFold(part, "NA") {
			chains = append(chains, part)
		}
	}

	return chains
}

func normalizeChains(chains []string) []string {
	var out []string

	seen := make(map[string]bool, len(chains))

	for _, id := range chains {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || id == "NA" || seen[id] {
			continue
		}

		seen[id] = true

		out = append(out, id)
	}

	return out
}

// Split produces the antigen and antibody structures for an assignment.
// Chains appear in requested order; residue numbering and insertion codes
// are carried through untouched (renumbering is a documented cause of
// structural mismatch in downstream docking evaluation).
//
// If any requested chain on either side is absent, Split fails with a
// *NotFoundError listing every missing identifier and produces nothing.
func Split(s *pdb.Structure, a *Assignment) (antigen, antibody *pdb.Structure, err error) {
	var missing []string

	for _, id := range a.Antigen {
		if _, ok := s.Chain(id); !ok {
			missing = append(missing, id)
		}
	}

	for _, id := range a.Antibody {
		if _, ok := s.Chain(id); !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		return nil, nil, &NotFoundError{Missing: missing}
	}

	return subset(s, a.Antigen), subset(s, a.Antibody), nil
}

// subset builds a new structure restricted to ids, in that order. The chain
// records themselves are shared: a parsed structure is owned by a single
// entry's processing and never mutated after parse.
func subset(s *pdb.Structure, ids []string) *pdb.Structure {
	out := &pdb.Structure{ID: s.ID, Source: s.Source}

	for _, id := range ids {
		chain, _ := s.Chain(id)
		out.Chains = append(out.Chains, chain)
	}

	return out
}
