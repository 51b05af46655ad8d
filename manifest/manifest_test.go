package manifest

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

const (
	manifestName = "NL-WbDRAZU-G321-661.manifest.json"
	eventlogName = "NL-WbDRAZU-G321-661.eventlog.json"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreateValidateBijection(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.txt":      "alpha",
		"b.txt":      "beta",
		"sub/c.txt":  "gamma",
		eventlogName: `{"events":[]}`, // always ignored
	})

	m := New(dir, manifestName, eventlogName)
	m.SetClock(clock.NewMock())
	if err := m.CreateFromDirectory(); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 3 {
		t.Errorf("Received %d entries, expected 3", m.Len())
	}
	if e := m.Entry("sub/c.txt"); e == nil || len(e.MD5Hash) != 32 {
		t.Errorf("Received %+v, expected 32-char digest for sub/c.txt", e)
	}

	// an unmodified directory validates clean, manifest and eventlog ignored
	if err := m.Validate(); err != nil {
		t.Errorf("Received %v, expected clean validation", err)
	}

	// creating again must fail
	if err := m.CreateFromDirectory(); err != ErrManifestExists {
		t.Errorf("Received %v, expected ErrManifestExists", err)
	}
}

func TestIdempotentSave(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, manifestName)
	m.AddEntry("a.txt", "0123456789abcdef0123456789abcdef", "2026-01-01T00:00:00Z")
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}
	// second save with no mutation must not rewrite the file
	if err := os.Remove(m.Path()); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.Path()); !os.IsNotExist(err) {
		t.Errorf("second Save rewrote the file")
	}
}

func TestLoadAndExtend(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, manifestName); err != ErrManifestNotFound {
		t.Fatalf("Received %v, expected ErrManifestNotFound", err)
	}

	m := New(dir, manifestName)
	m.AddEntry("a.txt", "0123456789abcdef0123456789abcdef", "2026-01-01T00:00:00Z")
	if err := m.ExtendEntry("a.txt", map[string]string{
		KeyObjectUID: "NL-WbDRAZU-G321-661-1",
		KeyDataset:   "661",
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.ExtendEntry("nope.txt", nil); errors.Cause(err) != ErrUnknownEntry {
		t.Errorf("Received %v, expected ErrUnknownEntry", err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m2, err := Load(dir, manifestName)
	if err != nil {
		t.Fatal(err)
	}
	if !m2.Valid() {
		t.Errorf("loaded manifest not marked valid")
	}
	e := m2.Entry("a.txt")
	if e == nil || e.Extra[KeyDataset] != "661" {
		t.Errorf("Received %+v, expected Dataset 661", e)
	}
	if e.MD5Hash != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Received %s, expected original digest", e.MD5Hash)
	}

	// the persisted form is one flat object per file
	data, err := ioutil.ReadFile(m.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["a.txt"]["ObjectUID"] != "NL-WbDRAZU-G321-661-1" {
		t.Errorf("Received %v, expected flattened ObjectUID", raw["a.txt"])
	}
}

func TestValidateCorruption(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "alpha"})
	m := New(dir, manifestName)
	if err := m.CreateFromDirectory(); err != nil {
		t.Fatal(err)
	}

	// corrupt the stored bytes after hashing
	writeFiles(t, dir, map[string]string{"a.txt": "ALPHA"})
	err := m.Validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Received %v, expected *ValidationError", err)
	}
	if len(verr.Mismatched) != 1 || verr.Mismatched[0].Filename != "a.txt" {
		t.Errorf("Received %+v, expected a.txt mismatched", verr.Mismatched)
	}
	if verr.Mismatched[0].Expected == verr.Mismatched[0].Actual {
		t.Errorf("mismatch report has identical digests")
	}
}

func TestValidateMissingAndExtra(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	m := New(dir, manifestName)
	if err := m.CreateFromDirectory(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, map[string]string{"stray.txt": "stray"})

	err := m.Validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Received %v, expected *ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "a.txt" {
		t.Errorf("Received %+v, expected a.txt missing", verr.Missing)
	}
	if len(verr.Extra) != 1 || verr.Extra[0] != "stray.txt" {
		t.Errorf("Received %+v, expected stray.txt extra", verr.Extra)
	}

	// ignoring the missing file still reports the stray one
	err = m.Validate("a.txt")
	verr, ok = err.(*ValidationError)
	if !ok {
		t.Fatalf("Received %v, expected *ValidationError", err)
	}
	if len(verr.Missing) != 0 {
		t.Errorf("Received %+v, expected missing list to be filtered", verr.Missing)
	}
	if len(verr.Extra) != 1 {
		t.Errorf("Received %+v, expected stray.txt still reported", verr.Extra)
	}

	// ignoring both validates clean
	if err := m.Validate("a.txt", "stray.txt"); err != nil {
		t.Errorf("Received %v, expected clean validation", err)
	}
}

func TestAppendFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "alpha"})
	m := New(dir, manifestName)
	if err := m.CreateFromDirectory(); err != nil {
		t.Fatal(err)
	}

	writeFiles(t, dir, map[string]string{"b.txt": "beta"})
	m2, err := Load(dir, manifestName)
	if err != nil {
		t.Fatal(err)
	}
	added, err := m2.AppendFromDirectory()
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 1 || added[0] != "b.txt" {
		t.Errorf("Received %v, expected [b.txt]", added)
	}
	if m2.Entry("a.txt") == nil || m2.Entry("b.txt") == nil {
		t.Errorf("append dropped entries")
	}
}
