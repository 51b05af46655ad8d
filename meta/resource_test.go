package meta

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/edepot/sipkit/config"
	"github.com/edepot/sipkit/ids"
)

func testScheme() ids.Scheme {
	return ids.NewScheme(config.Default(), "G321", "661")
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	r := New(testScheme(), "1", "InformationObject")
	r.SetProperty("title", "inventory 1880")
	r.AddSource("https://example.com/source.csv")

	wrote, err := r.Save(dir)
	if err != nil || !wrote {
		t.Fatalf("Received (%v, %v), expected a write", wrote, err)
	}
	// no pending changes, second save is a no-op
	wrote, err = r.Save(dir)
	if err != nil || wrote {
		t.Fatalf("Received (%v, %v), expected a no-op", wrote, err)
	}

	loaded, err := Load(testScheme(), dir, "1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.URI() != "https://data.razu.nl/id/object/NL-WbDRAZU-G321-661-1" {
		t.Errorf("Received %s", loaded.URI())
	}
	if loaded.Type() != "InformationObject" {
		t.Errorf("Received %s, expected InformationObject", loaded.Type())
	}
	if loaded.Property("title") != "inventory 1880" {
		t.Errorf("Received %v, expected title preserved", loaded.Property("title"))
	}
	if len(loaded.Sources()) != 1 {
		t.Errorf("Received %v, expected one source", loaded.Sources())
	}
	if loaded.Changed() {
		t.Errorf("loaded resource marked changed")
	}
	if loaded.HasReferencedFile() {
		t.Errorf("resource has unexpected referenced file")
	}
}

func TestReferencedFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan 001.tiff")
	if err := ioutil.WriteFile(src, []byte("image bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	r := New(testScheme(), "7", "File")
	if err := r.SetReferencedFileFromPath(src, "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if !r.HasReferencedFile() {
		t.Fatal("referenced file not attached")
	}
	ref := r.RefFile()
	if ref.OriginalFilename != "scan 001.tiff" || ref.Extension != "tiff" {
		t.Errorf("Received %+v", ref)
	}
	if len(ref.MD5Hash) != 32 {
		t.Errorf("Received digest %q, expected 32 hex chars", ref.MD5Hash)
	}
	if r.RefFilename() != "NL-WbDRAZU-G321-661-7.tiff" {
		t.Errorf("Received %s", r.RefFilename())
	}
	if r.RefURI() != "https://g321.opslag.razu.nl/NL-WbDRAZU-G321-661-7.tiff" {
		t.Errorf("Received %s", r.RefURI())
	}

	if _, err := r.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(testScheme(), dir, "7")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.HasReferencedFile() || loaded.RefFile().MD5Hash != ref.MD5Hash {
		t.Errorf("referenced file not round-tripped")
	}
}
