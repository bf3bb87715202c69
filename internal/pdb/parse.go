package pdb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Sentinel errors for parse failures.
var (
	// ErrEmpty is returned when the raw bytes contain no atom records at all.
	ErrEmpty = errors.New("no atom records found")
	// ErrMalformedResidueNumber is returned when a residue-number token is not
	// an integer with an optional single-character insertion-code suffix.
	ErrMalformedResidueNumber = errors.New("malformed residue number")
	// ErrMalformedRecord is returned for an atom record whose framing is
	// broken: a truncated fixed-column line or an atom_site row whose field
	// count disagrees with the loop header.
	ErrMalformedRecord = errors.New("malformed atom record")
	// ErrUnknownFormat is returned for a Format value Parse does not support.
	ErrUnknownFormat = errors.New("unknown structure format")
)

// Parse parses raw structure file bytes into a normalized Structure. The
// format is supplied by the caller, never sniffed from content. Atoms are
// grouped into residues by (number, insertion code) and into chains by chain
// identifier, preserving first-seen order for both.
func Parse(id string, raw []byte, format Format) (*Structure, error) {
	b := newBuilder(NormalizeID(id), format)

	var err error

	switch format {
	case FormatPDB:
		err = parseFixedColumn(raw, b)
	case FormatCIF:
		err = parseAtomSiteLoop(raw, b)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err != nil {
		return nil, err
	}

	if len(b.structure.Chains) == 0 {
		return nil, ErrEmpty
	}

	return b.structure, nil
}

// builder accumulates atoms into the chain/residue hierarchy. Chains and
// residues are appended in first-seen order; atoms for an already-seen
// (chain, number, insertion code) triple join the existing residue.
type builder struct {
	structure *Structure
	chains    map[string]*Chain
	last      map[string]*Residue
}

func newBuilder(id string, format Format) *builder {
	return &builder{
		structure: &Structure{ID: id, Source: format},
		chains:    make(map[string]*Chain),
		last:      make(map[string]*Residue),
	}
}

func (b *builder) add(atom *Atom) {
	chain, ok := b.chains[atom.Chain]
	if !ok {
		chain = &Chain{ID: atom.Chain}
		b.chains[atom.Chain] = chain
		b.structure.Chains = append(b.structure.Chains, chain)
	}

	if res := b.last[atom.Chain]; res != nil && res.Number == atom.ResidueNumber && res.InsCode == atom.InsCode {
		res.Atoms = append(res.Atoms, atom)

		return
	}

	res := &Residue{
		Number:  atom.ResidueNumber,
		InsCode: atom.InsCode,
		Name:    atom.Residue,
		Atoms:   []*Atom{atom},
	}
	chain.Residues = append(chain.Residues, res)
	b.last[atom.Chain] = res
}

// parseFixedColumn extracts ATOM records from legacy fixed-column text.
// Column offsets per the wwPDB format description, section 9 (ATOM).
func parseFixedColumn(raw []byte, b *builder) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++

		text := scanner.Text()
		if !strings.HasPrefix(text, "ATOM") {
			continue
		}

		// A record cut off before the coordinate block means the raw file
		// is truncated; parsing on would silently shrink the structure.
		if len(text) < 54 {
			return fmt.Errorf("line %d: %w: ATOM record truncated at %d columns", line, ErrMalformedRecord, len(text))
		}

		// Column extraction works on a padded copy; the original line is
		// kept verbatim as the output payload.
		rec := text
		if len(rec) < 80 {
			rec += strings.Repeat(" ", 80-len(rec))
		}

		number, insCode, err := splitResidueToken(rec[22:27])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		atom := &Atom{
			Name:          strings.TrimSpace(rec[12:16]),
			AltLoc:        strings.TrimSpace(rec[16:17]),
			Residue:       strings.TrimSpace(rec[17:20]),
			Chain:         strings.TrimSpace(rec[21:22]),
			ResidueNumber: number,
			InsCode:       insCode,
			Element:       strings.TrimSpace(rec[76:78]),
			Line:          text,
		}
		atom.Serial, _ = strconv.Atoi(strings.TrimSpace(rec[6:11]))
		atom.X, _ = strconv.ParseFloat(strings.TrimSpace(rec[30:38]), 64)
		atom.Y, _ = strconv.ParseFloat(strings.TrimSpace(rec[38:46]), 64)
		atom.Z, _ = strconv.ParseFloat(strings.TrimSpace(rec[46:54]), 64)
		atom.Occupancy, _ = strconv.ParseFloat(strings.TrimSpace(rec[54:60]), 64)
		atom.BFactor, _ = strconv.ParseFloat(strings.TrimSpace(rec[60:66]), 64)

		b.add(atom)
	}

	return scanner.Err()
}

// splitResidueToken parses a residue-number token: an integer with an
// optional single trailing insertion-code letter, e.g. "100", "100A", "-5".
func splitResidueToken(token string) (int, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", fmt.Errorf("%w: empty token", ErrMalformedResidueNumber)
	}

	insCode := ""

	if last := rune(token[len(token)-1]); unicode.IsLetter(last) {
		insCode = string(last)
		token = strings.TrimSpace(token[:len(token)-1])
	}

	number, err := strconv.Atoi(token)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedResidueNumber, token+insCode)
	}

	return number, insCode, nil
}
