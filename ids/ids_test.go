package ids

import (
	"testing"

	"github.com/edepot/sipkit/config"
)

func testScheme() Scheme {
	return NewScheme(config.Default(), "G321", "661")
}

func TestNames(t *testing.T) {
	s := testScheme()
	table := []struct {
		got  string
		want string
	}{
		{s.Base(), "NL-WbDRAZU-G321-661"},
		{s.UID("42"), "NL-WbDRAZU-G321-661-42"},
		{s.DescriptionURI("42"), "https://data.razu.nl/id/object/NL-WbDRAZU-G321-661-42"},
		{s.EventURIPrefix(), "https://data.razu.nl/id/event/NL-WbDRAZU-G321-661"},
		{s.EventURI(17), "https://data.razu.nl/id/event/NL-WbDRAZU-G321-661-e17"},
		{s.URIForKind("actor", "G321"), "https://data.razu.nl/id/actor/NL-WbDRAZU-G321"},
		{s.StorageBaseURI(), "https://g321.opslag.razu.nl/"},
		{s.StorageURI("NL-WbDRAZU-G321-661-42", "jpg"), "https://g321.opslag.razu.nl/NL-WbDRAZU-G321-661-42.jpg"},
		{s.MetadataFilename("42"), "NL-WbDRAZU-G321-661-42.meta.json"},
		{s.ManifestFilename(), "NL-WbDRAZU-G321-661.manifest.json"},
		{s.EventlogFilename(), "NL-WbDRAZU-G321-661.eventlog.json"},
	}
	for _, tab := range table {
		if tab.got != tab.want {
			t.Errorf("Received %s, expected %s", tab.got, tab.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	s := testScheme()
	for _, id := range []string{"1", "42", "500", "0012"} {
		got, err := s.IDFromFilename(s.MetadataFilename(id))
		if err != nil {
			t.Errorf("%s: unexpected error %s", id, err)
			continue
		}
		if got != id {
			t.Errorf("Received %s, expected %s", got, id)
		}
	}
}

func TestExtract(t *testing.T) {
	s := testScheme()
	const fname = "NL-WbDRAZU-G321-661-42.meta.json"

	creator, err := s.CreatorFromFilename(fname)
	if err != nil || creator != "G321" {
		t.Errorf("Received (%s, %v), expected G321", creator, err)
	}
	archive, err := s.ArchiveFromFilename(fname)
	if err != nil || archive != "661" {
		t.Errorf("Received (%s, %v), expected 661", archive, err)
	}
	// works on URIs too
	id, err := s.IDFromFilename("https://data.razu.nl/id/object/NL-WbDRAZU-G321-661-42")
	if err != nil || id != "42" {
		t.Errorf("Received (%s, %v), expected 42", id, err)
	}
	// and on index filenames, where the extension follows the archive id
	archive, err = s.ArchiveFromFilename(s.ManifestFilename())
	if err != nil || archive != "661" {
		t.Errorf("Received (%s, %v), expected 661", archive, err)
	}
}

func TestMalformed(t *testing.T) {
	s := testScheme()
	table := []string{
		"other-file.json",
		"NL-WbDRAZU",
		"NL-WbDRAZU-G321",
		"NL-WbDRAZU-G321-661",
		"",
	}
	for _, name := range table {
		if _, err := s.IDFromFilename(name); err != ErrMalformedIdentifier {
			t.Errorf("%s: received %v, expected ErrMalformedIdentifier", name, err)
		}
	}
}
