// Package meta models the metadata resources described inside a package.
// A resource is a described archival object which serializes itself to a
// JSON description file, and which may point at one referenced binary file
// carried alongside it. The full RDF graph machinery lives outside this
// module; here a resource is a property document plus the referenced-file
// facts the package engine needs.
package meta

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/edepot/sipkit/concepts"
	"github.com/edepot/sipkit/ids"
	"github.com/edepot/sipkit/util"
)

// A ReferencedFile holds the recorded facts about the external binary file
// a resource describes: where it came from, its digest at recording time,
// and its identified format.
type ReferencedFile struct {
	OriginalFilename string `json:"originalFilename"`
	MD5Hash          string `json:"md5Hash"`
	MD5HashDate      string `json:"md5HashDate"`
	FormatURI        string `json:"formatUri,omitempty"`
	Extension        string `json:"extension"`
	Size             int64  `json:"size,omitempty"`
}

// document is the persisted shape of a resource description.
type document struct {
	ID             string                 `json:"@id"`
	Type           string                 `json:"@type,omitempty"`
	UID            string                 `json:"uid"`
	Properties     map[string]interface{} `json:"properties,omitempty"`
	Sources        []string               `json:"sources,omitempty"`
	ReferencedFile *ReferencedFile        `json:"referencedFile,omitempty"`
}

// A Resource is one described object within a package.
type Resource struct {
	scheme  ids.Scheme
	id      string
	rdfType string
	props   map[string]interface{}
	sources []string
	ref     *ReferencedFile
	changed bool
}

// New creates a resource with the given object id and type. The resource
// starts with pending changes, so the first Save writes it out.
func New(scheme ids.Scheme, id, rdfType string) *Resource {
	return &Resource{
		scheme:  scheme,
		id:      id,
		rdfType: rdfType,
		props:   make(map[string]interface{}),
		changed: true,
	}
}

// Load reads the description file for the given object id from dir.
func Load(scheme ids.Scheme, dir, id string) (*Resource, error) {
	r := New(scheme, id, "")
	data, err := ioutil.ReadFile(r.Path(dir))
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "resource %s", r.Filename())
	}
	r.rdfType = doc.Type
	r.props = doc.Properties
	if r.props == nil {
		r.props = make(map[string]interface{})
	}
	r.sources = doc.Sources
	r.ref = doc.ReferencedFile
	r.changed = false
	return r, nil
}

// ID returns the object id, e.g. "12".
func (r *Resource) ID() string { return r.id }

// UID returns the structured identifier, e.g. "NL-WbDRAZU-G321-661-12".
func (r *Resource) UID() string { return r.scheme.UID(r.id) }

// URI returns the description URI of this resource.
func (r *Resource) URI() string { return r.scheme.DescriptionURI(r.id) }

// Type returns the declared resource type.
func (r *Resource) Type() string { return r.rdfType }

// Filename returns the name of the description file inside the package.
func (r *Resource) Filename() string { return r.scheme.MetadataFilename(r.id) }

// Path returns the description file location under dir.
func (r *Resource) Path(dir string) string {
	return filepath.Join(dir, r.Filename())
}

// Changed reports whether there are changes not yet saved.
func (r *Resource) Changed() bool { return r.changed }

// SetProperty records a described property on the resource.
func (r *Resource) SetProperty(key string, value interface{}) {
	r.props[key] = value
	r.changed = true
}

// Property returns a described property, or nil.
func (r *Resource) Property(key string) interface{} { return r.props[key] }

// AddSource declares a metadata source this description was derived from.
// A resource without declared sources is considered self-derived.
func (r *Resource) AddSource(uri string) {
	r.sources = append(r.sources, uri)
	r.changed = true
}

// Sources returns the declared metadata sources.
func (r *Resource) Sources() []string { return r.sources }

// SetReferencedFile attaches the referenced-file facts to this resource.
func (r *Resource) SetReferencedFile(ref ReferencedFile) {
	r.ref = &ref
	r.changed = true
}

// SetReferencedFileFromPath hashes the file at path and attaches it as this
// resource's referenced file, using hashDate as the recorded digest time.
func (r *Resource) SetReferencedFileFromPath(path, hashDate string) error {
	digest, err := util.MD5File(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if ext != "" {
		ext = ext[1:]
	}
	r.SetReferencedFile(ReferencedFile{
		OriginalFilename: name,
		MD5Hash:          digest,
		MD5HashDate:      hashDate,
		Extension:        ext,
	})
	return nil
}

// SetFormatByPUID resolves a PRONOM unique identifier against the file
// format vocabulary and records the format URI and canonical extension on
// the referenced file.
func (r *Resource) SetFormatByPUID(resolver *concepts.Resolver, puid string) error {
	if r.ref == nil {
		r.ref = &ReferencedFile{}
	}
	formatURI, err := resolver.ResolveURI(puid)
	if err != nil {
		return err
	}
	ext, err := resolver.ResolveValue(puid, concepts.SKOSNotation)
	if err != nil {
		return err
	}
	r.ref.FormatURI = formatURI
	r.ref.Extension = ext
	r.props["fileFormat"] = formatURI
	r.changed = true
	return nil
}

// SetSize records the referenced file's size in bytes.
func (r *Resource) SetSize(size int64) {
	if r.ref == nil {
		r.ref = &ReferencedFile{}
	}
	r.ref.Size = size
	r.props["size"] = size
	r.changed = true
}

// HasReferencedFile reports whether this resource describes an external
// binary file.
func (r *Resource) HasReferencedFile() bool { return r.ref != nil }

// RefFile returns the referenced-file facts, or nil.
func (r *Resource) RefFile() *ReferencedFile { return r.ref }

// RefFilename returns the package-internal filename the referenced file is
// stored under: the object UID with the file's own extension.
func (r *Resource) RefFilename() string {
	return r.UID() + "." + r.ref.Extension
}

// RefURI returns the storage URI the referenced file will be served from.
func (r *Resource) RefURI() string {
	return r.scheme.StorageURI(r.UID(), r.ref.Extension)
}

// Save writes the description file to dir when there are pending changes.
// It reports whether a write happened.
func (r *Resource) Save(dir string) (bool, error) {
	if !r.changed {
		return false, nil
	}
	doc := document{
		ID:             r.URI(),
		Type:           r.rdfType,
		UID:            r.UID(),
		Properties:     r.props,
		Sources:        r.sources,
		ReferencedFile: r.ref,
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return false, err
	}
	err = util.WriteFileAtomic(r.Path(dir), data, 0644)
	if err != nil {
		return false, errors.Wrapf(err, "save resource %s", r.Filename())
	}
	r.changed = false
	return true, nil
}
