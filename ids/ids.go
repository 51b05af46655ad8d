// Package ids derives every name used inside a package from one fixed
// scheme: filenames, UIDs, description URIs, event URIs, and storage URIs.
// All functions are pure. Parsing is the inverse of generation, so for any
// valid id, IDFromFilename(s.MetadataFilename(id)) == id.
package ids

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edepot/sipkit/config"
)

// ErrMalformedIdentifier is returned when a filename or URI does not match
// the "{prefix}-{creator}-{archive}-{id}.{suffix}.{ext}" shape.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// Scheme is the naming scheme for one package: the global file prefix plus
// the archive creator and archive ids. It is passed by value; a Scheme is
// immutable once built.
type Scheme struct {
	FilePrefix        string
	CreatorID         string
	ArchiveID         string
	BaseURI           string
	MetadataSuffix    string
	MetadataExt       string
	StorageHostSuffix string
}

// NewScheme builds a Scheme for the given creator and archive using the
// naming settings from cfg.
func NewScheme(cfg config.Config, creatorID, archiveID string) Scheme {
	return Scheme{
		FilePrefix:        cfg.FilePrefix,
		CreatorID:         creatorID,
		ArchiveID:         archiveID,
		BaseURI:           cfg.BaseURI,
		MetadataSuffix:    cfg.MetadataSuffix,
		MetadataExt:       cfg.MetadataExt,
		StorageHostSuffix: cfg.StorageHostSuffix,
	}
}

// Base returns the shared stem "{prefix}-{creator}-{archive}".
func (s Scheme) Base() string {
	return s.FilePrefix + "-" + s.CreatorID + "-" + s.ArchiveID
}

// UID returns the structured identifier for an object id, e.g.
// "NL-WbDRAZU-G321-661-12".
func (s Scheme) UID(id string) string {
	return s.Base() + "-" + id
}

// ObjectURIPrefix is the stem of all description URIs in this package.
func (s Scheme) ObjectURIPrefix() string {
	return s.BaseURI + "id/object/" + s.Base()
}

// DescriptionURI returns the URI describing the object with the given id.
func (s Scheme) DescriptionURI(id string) string {
	return s.ObjectURIPrefix() + "-" + id
}

// EventURIPrefix is the stem of all event URIs in this package.
func (s Scheme) EventURIPrefix() string {
	return s.BaseURI + "id/event/" + s.Base()
}

// EventURI returns the URI for the preservation event with the given
// package-scoped number.
func (s Scheme) EventURI(n int) string {
	return fmt.Sprintf("%s-e%d", s.EventURIPrefix(), n)
}

// URIForKind mints a URI for an arbitrary resource kind, e.g.
// URIForKind("actor", "G321").
func (s Scheme) URIForKind(kind, id string) string {
	return s.BaseURI + "id/" + kind + "/" + s.FilePrefix + "-" + id
}

// StorageBaseURI is the per-creator host referenced files are served from,
// e.g. "https://g321.opslag.razu.nl/".
func (s Scheme) StorageBaseURI() string {
	return "https://" + strings.ToLower(s.CreatorID) + "." + s.StorageHostSuffix + "/"
}

// StorageURI returns the storage location for a referenced file given its
// object UID and file extension.
func (s Scheme) StorageURI(uid, extension string) string {
	return s.StorageBaseURI() + uid + "." + extension
}

// MetadataFilename returns the name of the description file for an object.
func (s Scheme) MetadataFilename(id string) string {
	return s.UID(id) + "." + s.MetadataSuffix + "." + s.MetadataExt
}

// MetadataFileSuffix is the tail shared by all metadata filenames, with
// leading dot.
func (s Scheme) MetadataFileSuffix() string {
	return "." + s.MetadataSuffix + "." + s.MetadataExt
}

// ManifestFilename returns the name of the package's manifest file.
func (s Scheme) ManifestFilename() string {
	return s.Base() + ".manifest.json"
}

// EventlogFilename returns the name of the package's event log file.
func (s Scheme) EventlogFilename() string {
	return s.Base() + ".eventlog.json"
}

// partFromName extracts the n-th dash-separated part (1-based) following the
// file prefix. The prefix itself may contain dashes, so the search starts
// after its first occurrence. The extracted part ends at the next dash or
// dot, so this works on filenames like "...-661.manifest.json" where a file
// extension follows the last part.
func partFromName(prefix, name string, n int) (string, error) {
	start := strings.Index(name, prefix)
	if start == -1 {
		return "", ErrMalformedIdentifier
	}
	start += len(prefix) + 1
	if start > len(name) {
		return "", ErrMalformedIdentifier
	}
	for ; n > 1; n-- {
		i := strings.IndexByte(name[start:], '-')
		if i == -1 {
			return "", ErrMalformedIdentifier
		}
		start += i + 1
	}
	end := strings.IndexAny(name[start:], "-.")
	if end == -1 {
		return name[start:], nil
	}
	return name[start : start+end], nil
}

// CreatorFromFilename extracts the archive-creator id from a generated
// filename or URI.
func (s Scheme) CreatorFromFilename(name string) (string, error) {
	return partFromName(s.FilePrefix, name, 1)
}

// ArchiveFromFilename extracts the archive id from a generated filename
// or URI.
func (s Scheme) ArchiveFromFilename(name string) (string, error) {
	return partFromName(s.FilePrefix, name, 2)
}

// IDFromFilename extracts the object id from a generated filename or URI,
// so it works on "....-12.meta.json" as well as bare UIDs.
func (s Scheme) IDFromFilename(name string) (string, error) {
	part, err := partFromName(s.FilePrefix, name, 3)
	if err != nil {
		return "", err
	}
	if part == "" {
		return "", ErrMalformedIdentifier
	}
	return part, nil
}
