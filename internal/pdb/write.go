package pdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrWrite is returned when serializing a structure to disk fails.
var ErrWrite = errors.New("write structure")

// Write serializes the structure to path in the legacy fixed-column format,
// chains in structure order, residues in stored order. Downstream tools
// consume this format regardless of which raw format was originally fetched.
// The file is written to a temporary sibling and renamed into place so a
// partial write is never visible at the target path.
func Write(s *Structure, path string) error {
	var sb strings.Builder

	for _, chain := range s.Chains {
		for _, res := range chain.Residues {
			for _, atom := range res.Atoms {
				sb.WriteString(atom.Line)
				sb.WriteByte('\n')
			}
		}

		sb.WriteString("TER\n")
	}

	sb.WriteString("END\n")

	if err := atomicWriteFile(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}

	return nil
}

// atomicWriteFile writes data to a temporary file in the target directory
// and renames it into place. Rename within one directory is atomic, so a
// reader never observes a partially written file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return nil
}

// formatAtomLine renders an Atom as a legacy fixed-column ATOM record.
// Used for atoms parsed from mmCIF, which have no source line to carry.
func formatAtomLine(a *Atom) string {
	return fmt.Sprintf("ATOM  %5d %-4s%1s%3s %1s%4d%1s   %8.3f%8.3f%8.3f%6.2f%6.2f          %2s",
		a.Serial,
		formatAtomName(a.Name),
		a.AltLoc,
		a.Residue,
		a.Chain,
		a.ResidueNumber,
		a.InsCode,
		a.X, a.Y, a.Z,
		a.Occupancy,
		a.BFactor,
		a.Element,
	)
}

// formatAtomName aligns an atom name within its 4-column field: names
// shorter than four characters start in the second column.
func formatAtomName(name string) string {
	if len(name) < 4 {
		return " " + name
	}

	return name
}
