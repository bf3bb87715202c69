package pdb

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseAtomSiteLoop extracts ATOM records from the mmCIF _atom_site loop.
// Only the one loop is consumed; every other category is skipped. Author
// (auth_*) identifiers are preferred over label_* so that chain labels and
// residue numbers match the legacy format for the same entry.
func parseAtomSiteLoop(raw []byte, b *builder) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	var columns []string

	inHeader := false
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(text, "_atom_site.") {
			inHeader = true
			columns = append(columns, strings.TrimPrefix(text, "_atom_site."))

			continue
		}

		if !inHeader {
			continue
		}

		// Header ended; rows run until the next category or loop terminator.
		if text == "" || text == "#" || text == "loop_" || strings.HasPrefix(text, "_") {
			break
		}

		fields := strings.Fields(text)
		if len(fields) != len(columns) {
			return fmt.Errorf("%w: atom_site row %d has %d fields, want %d",
				ErrMalformedRecord, line, len(fields), len(columns))
		}

		row := make(map[string]string, len(columns))
		for i, name := range columns {
			row[name] = fields[i]
		}

		if row["group_PDB"] != "ATOM" {
			continue
		}

		atom, err := atomFromSiteRow(row)
		if err != nil {
			return fmt.Errorf("atom_site row %d: %w", line, err)
		}

		b.add(atom)
	}

	return scanner.Err()
}

func atomFromSiteRow(row map[string]string) (*Atom, error) {
	numberToken := cifValue(row, "auth_seq_id", "label_seq_id")

	number, err := strconv.Atoi(numberToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedResidueNumber, numberToken)
	}

	atom := &Atom{
		Name:          cifValue(row, "auth_atom_id", "label_atom_id"),
		AltLoc:        cifValue(row, "label_alt_id"),
		Residue:       cifValue(row, "auth_comp_id", "label_comp_id"),
		Chain:         cifValue(row, "auth_asym_id", "label_asym_id"),
		ResidueNumber: number,
		InsCode:       cifValue(row, "pdbx_PDB_ins_code"),
		Element:       cifValue(row, "type_symbol"),
	}
	atom.Serial, _ = strconv.Atoi(cifValue(row, "id"))
	atom.X, _ = strconv.ParseFloat(cifValue(row, "Cartn_x"), 64)
	atom.Y, _ = strconv.ParseFloat(cifValue(row, "Cartn_y"), 64)
	atom.Z, _ = strconv.ParseFloat(cifValue(row, "Cartn_z"), 64)
	atom.Occupancy, _ = strconv.ParseFloat(cifValue(row, "occupancy"), 64)
	atom.BFactor, _ = strconv.ParseFloat(cifValue(row, "B_iso_or_equiv"), 64)

	atom.Line = formatAtomLine(atom)

	return atom, nil
}

// cifValue returns the first present, non-placeholder value among keys.
// mmCIF uses "." and "?" for absent values.
func cifValue(row map[string]string, keys ...string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == "." || v == "?" {
			continue
		}

		return strings.Trim(v, `"'`)
	}

	return ""
}
