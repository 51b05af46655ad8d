// Package manifest maintains the integrity index of a package directory: a
// JSON file mapping each managed file to its MD5 digest and provenance
// metadata. The manifest can be validated against the directory, listing
// missing files, checksum mismatches, and unlisted extras in one pass.
package manifest

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/edepot/sipkit/util"
)

var (
	// ErrManifestNotFound indicates the manifest file is absent from the
	// directory.
	ErrManifestNotFound = errors.New("manifest file not found")

	// ErrManifestExists indicates an attempt to create a manifest over an
	// existing one.
	ErrManifestExists = errors.New("manifest file already exists")

	// ErrUnknownEntry indicates an attempt to extend an entry that was
	// never added.
	ErrUnknownEntry = errors.New("no manifest entry for file")
)

// A Manifest manages the checksum index of one directory. It is not safe
// for concurrent mutation; callers that hash files in parallel must
// serialize AddEntry and ExtendEntry themselves.
type Manifest struct {
	dir      string
	filename string          // the manifest's own filename inside dir
	ignore   map[string]bool // names never treated as managed files
	entries  map[string]*Entry
	modified bool
	valid    bool
	clk      clock.Clock
}

// New creates an empty, in-memory manifest for the given directory. The
// manifest is not valid until a Validate or Load pass succeeds. Names given
// in alwaysIgnore (the event log, for instance) are excluded from directory
// comparisons in addition to the manifest file itself.
func New(dir, filename string, alwaysIgnore ...string) *Manifest {
	ig := map[string]bool{filename: true}
	for _, name := range alwaysIgnore {
		ig[name] = true
	}
	return &Manifest{
		dir:      dir,
		filename: filename,
		ignore:   ig,
		entries:  make(map[string]*Entry),
		clk:      clock.New(),
	}
}

// Load reads an existing manifest file. It returns ErrManifestNotFound when
// the file is absent.
func Load(dir, filename string, alwaysIgnore ...string) (*Manifest, error) {
	m := New(dir, filename, alwaysIgnore...)
	data, err := ioutil.ReadFile(m.Path())
	if os.IsNotExist(err) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, errors.Wrapf(err, "manifest %s", m.Path())
	}
	m.valid = true
	return m, nil
}

// SetClock replaces the timestamp source. Used by tests.
func (m *Manifest) SetClock(c clock.Clock) { m.clk = c }

// Path returns the absolute location of the manifest file.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, m.filename)
}

// Filename returns the manifest's own filename.
func (m *Manifest) Filename() string { return m.filename }

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Modified reports whether there are unsaved changes.
func (m *Manifest) Modified() bool { return m.modified }

// Valid reports whether the last Load or Validate pass succeeded.
func (m *Manifest) Valid() bool { return m.valid }

// Entry returns the entry for the given package-relative filename, or nil
// if the file is not listed.
func (m *Manifest) Entry(filename string) *Entry {
	return m.entries[normalize(filename)]
}

// Filenames returns the listed filenames in sorted order.
func (m *Manifest) Filenames() []string {
	result := make([]string, 0, len(m.entries))
	for name := range m.entries {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// AddEntry inserts or overwrites the entry for filename with the given
// digest and timestamp.
func (m *Manifest) AddEntry(filename, md5hash, md5date string) {
	m.entries[normalize(filename)] = &Entry{
		MD5Hash:     md5hash,
		MD5HashDate: md5date,
	}
	m.modified = true
}

// ExtendEntry merges extra metadata into an existing entry. It returns
// ErrUnknownEntry if the file was never added.
func (m *Manifest) ExtendEntry(filename string, metadata map[string]string) error {
	e := m.entries[normalize(filename)]
	if e == nil {
		return errors.Wrap(ErrUnknownEntry, filename)
	}
	e.Merge(metadata)
	m.modified = true
	return nil
}

// Save writes the manifest to disk if there are unsaved changes. A second
// call without intervening mutation is a no-op. The write is atomic; on
// failure the modified flag is left set so the save can be retried.
func (m *Manifest) Save() error {
	if !m.modified {
		return nil
	}
	data, err := json.MarshalIndent(m.entries, "", "    ")
	if err != nil {
		return err
	}
	err = util.WriteFileAtomic(m.Path(), data, 0644)
	if err != nil {
		return errors.Wrapf(err, "save manifest %s", m.Path())
	}
	m.modified = false
	return nil
}

// CreateFromDirectory populates the manifest by hashing every file under
// the directory, excluding the always-ignored names and the given ignore
// list, and saves it. It returns ErrManifestExists if a manifest file is
// already present.
func (m *Manifest) CreateFromDirectory(ignore ...string) error {
	if _, err := os.Stat(m.Path()); err == nil {
		return ErrManifestExists
	}
	names, err := m.walk()
	if err != nil {
		return err
	}
	skip := m.skipset(ignore)
	var want []string
	for _, name := range names {
		if !skip[name] {
			want = append(want, name)
		}
	}
	digests, err := m.hashAll(want)
	if err != nil {
		return err
	}
	now := m.clk.Now().Format(time.RFC3339)
	for _, name := range want {
		m.AddEntry(name, digests[name], now)
	}
	return m.Save()
}

// AppendFromDirectory adds entries for directory files not yet listed,
// leaving existing entries untouched, and saves when anything was added.
// It returns the added filenames.
func (m *Manifest) AppendFromDirectory(ignore ...string) ([]string, error) {
	if !m.valid {
		return nil, ErrManifestNotFound
	}
	names, err := m.walk()
	if err != nil {
		return nil, err
	}
	skip := m.skipset(ignore)
	var added []string
	for _, name := range names {
		if skip[name] || m.entries[name] != nil {
			continue
		}
		added = append(added, name)
	}
	digests, err := m.hashAll(added)
	if err != nil {
		return nil, err
	}
	now := m.clk.Now().Format(time.RFC3339)
	for _, name := range added {
		m.AddEntry(name, digests[name], now)
	}
	return added, m.Save()
}

// hashWorkers bounds how many files are digested at once.
const hashWorkers = 8

// hashAll digests the given files with a bounded number of workers and
// returns the results keyed by name. The first failure is reported after
// every worker has finished.
func (m *Manifest) hashAll(names []string) (map[string]string, error) {
	var (
		gate     = util.NewGate(hashWorkers)
		wg       sync.WaitGroup
		mu       sync.Mutex
		digests  = make(map[string]string, len(names))
		firstErr error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			gate.Enter()
			defer gate.Leave()
			digest, err := util.MD5File(filepath.Join(m.dir, filepath.FromSlash(name)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = errors.Wrap(err, name)
				}
				return
			}
			digests[name] = digest
		}(name)
	}
	wg.Wait()
	return digests, firstErr
}

// skipset combines the always-ignored names with a per-call ignore list.
func (m *Manifest) skipset(ignore []string) map[string]bool {
	skip := make(map[string]bool, len(m.ignore)+len(ignore))
	for name := range m.ignore {
		skip[name] = true
	}
	for _, name := range ignore {
		skip[normalize(name)] = true
	}
	return skip
}

// walk lists every file under the directory recursively, as sorted
// package-relative slash paths.
func (m *Manifest) walk() ([]string, error) {
	var names []string
	err := filepath.Walk(m.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(m.dir, path)
		if err != nil {
			return err
		}
		names = append(names, normalize(rel))
		return nil
	})
	sort.Strings(names)
	return names, err
}

// normalize converts a path to the slash-separated form used as manifest
// keys.
func normalize(name string) string {
	return filepath.ToSlash(name)
}
