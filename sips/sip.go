// Package sips assembles and maintains Submission Information Packages. A
// Sip owns one package directory and keeps its three persisted artifacts
// consistent: the metadata resource files, the checksum manifest, and the
// append-only preservation event log. Once ingestion is marked complete the
// package is locked and every mutating operation fails.
//
// There is no cross-process locking of the package directory. Two processes
// operating on the same Sip concurrently can corrupt the manifest or event
// log; the only supported mutator is the owning Sip within one process.
package sips

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edepot/sipkit/config"
	"github.com/edepot/sipkit/eventlog"
	"github.com/edepot/sipkit/ids"
	"github.com/edepot/sipkit/manifest"
	"github.com/edepot/sipkit/meta"
	"github.com/edepot/sipkit/util"
)

var (
	// ErrDirectoryNotEmpty indicates New was pointed at a directory that
	// already has content.
	ErrDirectoryNotEmpty = errors.New("package directory is not empty")

	// ErrEmptyDirectory indicates Open was pointed at a directory with
	// nothing in it.
	ErrEmptyDirectory = errors.New("package directory is empty")

	// ErrPackageLocked is returned by every mutating operation after an
	// ingestion_end event has been logged.
	ErrPackageLocked = errors.New("package is locked")

	// ErrDuplicateID indicates an object id is already taken.
	ErrDuplicateID = errors.New("object id already in use")

	// ErrNoSourceDirectory indicates a referenced file copy was requested
	// but no source directory was configured.
	ErrNoSourceDirectory = errors.New("no resources source directory configured")
)

// A Sip is the aggregate root for one package directory.
type Sip struct {
	dir       string
	sourceDir string
	scheme    ids.Scheme
	actorURI  string

	manifest  *manifest.Manifest
	log       *eventlog.Log
	resources map[string]*meta.Resource
	counter   int
	clk       clock.Clock
}

// An Option adjusts how a Sip is created or opened.
type Option func(*Sip)

// WithSourceDirectory sets the directory referenced files are copied in
// from.
func WithSourceDirectory(dir string) Option {
	return func(s *Sip) { s.sourceDir = dir }
}

// WithActorURI sets the archive creator's actor URI recorded as Source on
// manifest entries. Without this option the URI is minted from the naming
// scheme; pass the resolved concept URI when a vocabulary lookup is
// available.
func WithActorURI(uri string) Option {
	return func(s *Sip) { s.actorURI = uri }
}

// New creates a fresh package. The directory must not exist yet, or must be
// empty. An ingestion_start event is queued; its subjects are gathered when
// the queue is flushed, so resources added later are included.
func New(cfg config.Config, creatorID, archiveID, dir string, options ...Option) (*Sip, error) {
	entries, err := ioutil.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		return nil, errors.Wrap(ErrDirectoryNotEmpty, dir)
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s, err := assemble(cfg, creatorID, archiveID, dir, options)
	if err != nil {
		return nil, err
	}
	s.log.Defer(func() eventlog.Event {
		return eventlog.Event{
			Type:     eventlog.IngestionStart,
			Subjects: s.AllURIs(),
		}
	})
	logrus.WithFields(logrus.Fields{
		"dir":     dir,
		"creator": creatorID,
		"archive": archiveID,
	}).Info("created empty package")
	return s, nil
}

// Open loads an existing, non-empty package. The creator and archive ids
// are read from the manifest or event log filename when one is present;
// otherwise they are inferred from the first parseable filename in sorted
// order.
func Open(cfg config.Config, dir string, options ...Option) (*Sip, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range entries {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.Wrap(ErrEmptyDirectory, dir)
	}

	creatorID, archiveID, err := inferIdentity(cfg, names)
	if err != nil {
		return nil, err
	}
	s, err := assemble(cfg, creatorID, archiveID, dir, options)
	if err != nil {
		return nil, err
	}
	if err := s.loadResources(names); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"dir":       dir,
		"creator":   creatorID,
		"archive":   archiveID,
		"resources": len(s.resources),
	}).Info("opened existing package")
	return s, nil
}

// assemble builds the Sip structure shared by New and Open.
func assemble(cfg config.Config, creatorID, archiveID, dir string, options []Option) (*Sip, error) {
	scheme := ids.NewScheme(cfg, creatorID, archiveID)
	s := &Sip{
		dir:       dir,
		scheme:    scheme,
		actorURI:  scheme.URIForKind("actor", creatorID),
		resources: make(map[string]*meta.Resource),
		clk:       clock.New(),
	}
	for _, opt := range options {
		opt(s)
	}

	m, err := manifest.Load(dir, scheme.ManifestFilename(), scheme.EventlogFilename())
	if err == manifest.ErrManifestNotFound {
		m = manifest.New(dir, scheme.ManifestFilename(), scheme.EventlogFilename())
	} else if err != nil {
		return nil, err
	}
	s.manifest = m

	s.log, err = eventlog.Open(dir, scheme.EventlogFilename())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// inferIdentity finds the creator and archive ids in a directory listing.
// The manifest and event log filenames are authoritative; scanning the rest
// of the sorted listing is the fallback for directories indexed before a
// manifest existed.
func inferIdentity(cfg config.Config, names []string) (string, string, error) {
	parse := ids.Scheme{FilePrefix: cfg.FilePrefix}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var fallback string
	for _, name := range sorted {
		if strings.HasSuffix(name, ".manifest.json") || strings.HasSuffix(name, ".eventlog.json") {
			fallback = name
			break
		}
	}
	if fallback == "" {
		fallback = sorted[0]
	}
	creator, err := parse.CreatorFromFilename(fallback)
	if err != nil {
		return "", "", err
	}
	archive, err := parse.ArchiveFromFilename(fallback)
	if err != nil {
		return "", "", err
	}
	return creator, archive, nil
}

// InferScheme determines the naming scheme of an existing package
// directory without opening it, using the same identity rules as Open.
func InferScheme(cfg config.Config, dir string) (ids.Scheme, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return ids.Scheme{}, err
	}
	var names []string
	for _, fi := range entries {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	if len(names) == 0 {
		return ids.Scheme{}, errors.Wrap(ErrEmptyDirectory, dir)
	}
	creatorID, archiveID, err := inferIdentity(cfg, names)
	if err != nil {
		return ids.Scheme{}, err
	}
	return ids.NewScheme(cfg, creatorID, archiveID), nil
}

// loadResources reads every metadata description file in the listing and
// primes the id counter past the highest id seen.
func (s *Sip) loadResources(names []string) error {
	suffix := s.scheme.MetadataFileSuffix()
	for _, name := range names {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		id, err := s.scheme.IDFromFilename(name)
		if err != nil {
			continue
		}
		r, err := meta.Load(s.scheme, s.dir, id)
		if err != nil {
			return err
		}
		s.resources[id] = r
		if n, err := strconv.Atoi(id); err == nil && n > s.counter {
			s.counter = n
		}
	}
	return nil
}

// SetClock replaces the timestamp source for the Sip, its manifest, and its
// event log. Used by tests.
func (s *Sip) SetClock(c clock.Clock) {
	s.clk = c
	s.manifest.SetClock(c)
	s.log.SetClock(c)
}

// Dir returns the package directory.
func (s *Sip) Dir() string { return s.dir }

// Scheme returns the naming scheme of this package.
func (s *Sip) Scheme() ids.Scheme { return s.scheme }

// Manifest returns the package's checksum manifest.
func (s *Sip) Manifest() *manifest.Manifest { return s.manifest }

// Log returns the package's preservation event log.
func (s *Sip) Log() *eventlog.Log { return s.log }

// Locked reports whether ingestion has been marked complete. A locked
// package rejects every mutating operation.
func (s *Sip) Locked() bool { return s.log.Locked() }

// Resource returns the loaded resource with the given object id, or nil.
func (s *Sip) Resource(id string) *meta.Resource { return s.resources[id] }

// Resources returns the loaded resources ordered by object id, numerically
// where the ids are numeric.
func (s *Sip) Resources() []*meta.Resource {
	idlist := make([]string, 0, len(s.resources))
	for id := range s.resources {
		idlist = append(idlist, id)
	}
	sort.Slice(idlist, func(i, j int) bool {
		a, aerr := strconv.Atoi(idlist[i])
		b, berr := strconv.Atoi(idlist[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return idlist[i] < idlist[j]
	})
	result := make([]*meta.Resource, len(idlist))
	for i, id := range idlist {
		result[i] = s.resources[id]
	}
	return result
}

// AllURIs returns the description URI of every loaded resource plus, where
// present, its referenced-file URI, in resource order.
func (s *Sip) AllURIs() []string {
	var uris []string
	for _, r := range s.Resources() {
		uris = append(uris, r.URI())
		if r.HasReferencedFile() {
			uris = append(uris, r.RefURI())
		}
	}
	return uris
}

// ReferencedFileURIs returns the storage URI of every referenced file, in
// resource order.
func (s *Sip) ReferencedFileURIs() []string {
	var uris []string
	for _, r := range s.Resources() {
		if r.HasReferencedFile() {
			uris = append(uris, r.RefURI())
		}
	}
	return uris
}

// NewResource allocates the next free object id and registers a fresh
// resource of the given type.
func (s *Sip) NewResource(rdfType string) (*meta.Resource, error) {
	if s.Locked() {
		return nil, ErrPackageLocked
	}
	for {
		s.counter++
		if _, taken := s.resources[strconv.Itoa(s.counter)]; !taken {
			break
		}
	}
	id := strconv.Itoa(s.counter)
	r := meta.New(s.scheme, id, rdfType)
	s.resources[id] = r
	return r, nil
}

// NewResourceWithID registers a fresh resource under a caller-chosen id.
func (s *Sip) NewResourceWithID(id, rdfType string) (*meta.Resource, error) {
	if s.Locked() {
		return nil, ErrPackageLocked
	}
	if _, taken := s.resources[id]; taken {
		return nil, errors.Wrap(ErrDuplicateID, id)
	}
	r := meta.New(s.scheme, id, rdfType)
	s.resources[id] = r
	return r, nil
}

// Store serializes the resource to its description file and, when a write
// happened, records it in the manifest and logs a metadata_modification
// event. The event's subjects are the resource's declared metadata sources,
// or its own description URI when it was derived from nothing external.
// It reports whether a write happened; a resource with no pending changes
// is a no-op.
func (s *Sip) Store(r *meta.Resource) (bool, error) {
	if s.Locked() {
		return false, ErrPackageLocked
	}
	wrote, err := r.Save(s.dir)
	if err != nil || !wrote {
		return false, err
	}
	digest, err := util.MD5File(r.Path(s.dir))
	if err != nil {
		return true, err
	}
	s.manifest.AddEntry(r.Filename(), digest, s.clk.Now().Format(time.RFC3339))
	err = s.manifest.ExtendEntry(r.Filename(), map[string]string{
		manifest.KeyObjectUID: r.UID(),
		manifest.KeySource:    s.actorURI,
		manifest.KeyDataset:   s.scheme.ArchiveID,
		manifest.KeyURI:       r.URI(),
	})
	if err != nil {
		return true, err
	}

	subjects := r.Sources()
	if len(subjects) == 0 {
		subjects = []string{r.URI()}
	}
	err = s.log.Append(eventlog.Event{
		Type:     eventlog.MetadataModification,
		Subjects: subjects,
		Note:     "stored " + r.Filename(),
	})
	if err != nil {
		return true, err
	}
	logrus.WithField("uri", r.URI()).Debug("stored resource")
	return true, nil
}

// StoreReferencedFile copies the resource's referenced file from the source
// directory into the package, records it in the manifest, and logs a
// filename_change event for the original-to-package rename. It is
// idempotent: a resource without a referenced file, or whose file is
// already in place, is a no-op. It reports whether a copy happened.
func (s *Sip) StoreReferencedFile(r *meta.Resource) (bool, error) {
	if s.Locked() {
		return false, ErrPackageLocked
	}
	if !r.HasReferencedFile() {
		return false, nil
	}
	dest := filepath.Join(s.dir, r.RefFilename())
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}
	if s.sourceDir == "" {
		return false, ErrNoSourceDirectory
	}
	ref := r.RefFile()
	src := filepath.Join(s.sourceDir, ref.OriginalFilename)
	if err := util.CopyFile(dest, src); err != nil {
		return false, errors.Wrapf(err, "referenced file %s", ref.OriginalFilename)
	}

	s.manifest.AddEntry(r.RefFilename(), ref.MD5Hash, ref.MD5HashDate)
	err := s.manifest.ExtendEntry(r.RefFilename(), map[string]string{
		manifest.KeyObjectUID:        r.UID(),
		manifest.KeySource:           s.actorURI,
		manifest.KeyDataset:          s.scheme.ArchiveID,
		manifest.KeyFileFormat:       ref.FormatURI,
		manifest.KeyOriginalFilename: ref.OriginalFilename,
		manifest.KeyURI:              r.RefURI(),
	})
	if err != nil {
		return true, err
	}
	err = s.log.Append(eventlog.Event{
		Type:     eventlog.FilenameChange,
		Subjects: []string{r.RefURI()},
		Note:     "renamed " + ref.OriginalFilename + " to " + r.RefFilename(),
	})
	if err != nil {
		return true, err
	}
	logrus.WithFields(logrus.Fields{
		"original": ref.OriginalFilename,
		"uri":      r.RefURI(),
	}).Debug("added referenced file")
	return true, nil
}

// ValidateReferencedFiles rehashes every referenced file in the package and
// logs a fixity_check event per file with outcome success or failure. A
// failed check is recorded, not returned as an error: an audit pass must
// cover every file. The returned error reports only system problems, such
// as the package being locked.
func (s *Sip) ValidateReferencedFiles() error {
	if s.Locked() {
		return ErrPackageLocked
	}
	for _, r := range s.Resources() {
		if !r.HasReferencedFile() {
			continue
		}
		event := eventlog.Event{
			Type:     eventlog.FixityCheck,
			Subjects: []string{r.RefURI()},
			Outcome:  eventlog.OutcomeSuccess,
		}
		ok, err := util.VerifyFileMD5(filepath.Join(s.dir, r.RefFilename()), r.RefFile().MD5Hash)
		switch {
		case os.IsNotExist(errors.Cause(err)):
			event.Outcome = eventlog.OutcomeFailure
			event.Note = "file missing from package"
		case err != nil:
			return err
		case !ok:
			event.Outcome = eventlog.OutcomeFailure
			event.Note = "checksum mismatch"
		}
		if err := s.log.Append(event); err != nil {
			return err
		}
		if event.Outcome == eventlog.OutcomeFailure {
			logrus.WithFields(logrus.Fields{
				"uri":  r.RefURI(),
				"note": event.Note,
			}).Warn("fixity check failed")
		}
	}
	return nil
}

// Validate checks the manifest against the package directory. The manifest
// and event log files themselves are always ignored.
func (s *Sip) Validate() error {
	return s.manifest.Validate()
}

// Lock marks ingestion complete by appending a single ingestion_end event
// whose subjects are every resource's description URI and, where present,
// referenced-file URI. Queued events are flushed first so nothing deferred
// is stranded behind the terminal event. Locking is irreversible.
func (s *Sip) Lock() error {
	if s.Locked() {
		return ErrPackageLocked
	}
	if err := s.log.ProcessQueue(); err != nil {
		return err
	}
	return s.log.Append(eventlog.Event{
		Type:     eventlog.IngestionEnd,
		Subjects: s.AllURIs(),
	})
}

// Save flushes all dirty state: every resource with pending changes, every
// referenced file not yet copied in, the deferred event queue, and finally
// the manifest and event log. The indexes are written last so that by the
// time they hit disk every file they describe already exists. Save is safe
// to repeat: each step is idempotent, and a step that fails leaves its
// in-memory dirty flag set for the retry. On a locked package only the two
// index files are flushed; pending resource changes are an error then.
func (s *Sip) Save() error {
	var firstErr error
	if s.Locked() {
		for _, r := range s.Resources() {
			if r.Changed() {
				return ErrPackageLocked
			}
		}
	} else {
		for _, r := range s.Resources() {
			if _, err := s.Store(r); err != nil {
				logrus.WithError(err).WithField("uri", r.URI()).Error("storing resource")
				raven.CaptureError(err, map[string]string{"uri": r.URI()})
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		for _, r := range s.Resources() {
			if _, err := s.StoreReferencedFile(r); err != nil {
				logrus.WithError(err).WithField("uri", r.URI()).Error("storing referenced file")
				raven.CaptureError(err, map[string]string{"uri": r.URI()})
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if err := s.log.ProcessQueue(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.manifest.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.log.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
