package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edepot/sipkit/util"
)

// A Mismatch describes one file whose current digest differs from the
// recorded one.
type Mismatch struct {
	Filename string
	Expected string
	Actual   string
}

// A ValidationError carries the complete validation report. All three lists
// are gathered before the error is returned, so an operator can fix every
// discrepancy in one pass. Callers that want to tolerate particular missing
// or extra files pass them in the ignore list; a checksum mismatch is
// always fatal.
type ValidationError struct {
	Missing    []string
	Mismatched []Mismatch
	Extra      []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed: %d missing, %d mismatched, %d extra",
		len(e.Missing), len(e.Mismatched), len(e.Extra))
}

// Validate walks the directory and compares it against the entries. Every
// listed file must exist with a matching digest, and every directory file
// must be listed unless ignored. The manifest file itself and the names
// given at construction are always ignored. On success the manifest is
// marked valid and nil is returned; otherwise the returned error is a
// *ValidationError holding the full report.
func (m *Manifest) Validate(ignore ...string) error {
	report := &ValidationError{}
	skip := m.skipset(ignore)

	// pass 1: manifest entries against the filesystem
	for _, name := range m.Filenames() {
		if skip[name] {
			continue
		}
		path := filepath.Join(m.dir, filepath.FromSlash(name))
		digest, err := util.MD5File(path)
		if os.IsNotExist(err) {
			report.Missing = append(report.Missing, name)
			continue
		}
		if err != nil {
			return err
		}
		if digest != m.entries[name].MD5Hash {
			report.Mismatched = append(report.Mismatched, Mismatch{
				Filename: name,
				Expected: m.entries[name].MD5Hash,
				Actual:   digest,
			})
		}
	}

	// pass 2: filesystem against the manifest entries
	names, err := m.walk()
	if err != nil {
		return err
	}
	for _, name := range names {
		if skip[name] || m.entries[name] != nil {
			continue
		}
		report.Extra = append(report.Extra, name)
	}

	if len(report.Missing) > 0 || len(report.Mismatched) > 0 || len(report.Extra) > 0 {
		return report
	}
	m.valid = true
	return nil
}
