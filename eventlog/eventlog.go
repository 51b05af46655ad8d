// Package eventlog keeps the append-only preservation event log of a
// package. Events are PREMIS-style records: what happened, to which
// subjects, with what outcome. The log is persisted as a single JSON file
// and is never edited or reordered. Appending an ingestion_end event locks
// the log permanently.
package eventlog

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/edepot/sipkit/util"
)

// Type identifies what kind of action an event records. The vocabulary is
// fixed but open for extension.
type Type string

const (
	FilenameChange           Type = "filename_change"
	FixityCheck              Type = "fixity_check"
	FormatIdentification     Type = "format_identification"
	IngestionStart           Type = "ingestion_start"
	IngestionEnd             Type = "ingestion_end"
	MessageDigestCalculation Type = "message_digest_calculation"
	MetadataModification     Type = "metadata_modification"
	VirusCheck               Type = "virus_check"
)

// Outcome records whether the action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ErrLogLocked is returned on any append once an ingestion_end event is
// present. There is no way to unlock a log.
var ErrLogLocked = errors.New("event log is locked")

// An Event is one record in the log. Events are immutable once appended.
// The ID is package-scoped and assigned by the log.
type Event struct {
	ID       int        `json:"id"`
	Type     Type       `json:"type"`
	Subjects []string   `json:"subjects"`
	Outcome  Outcome    `json:"outcome"`
	Note     string     `json:"note,omitempty"`
	Tool     string     `json:"tool,omitempty"`
	Started  *time.Time `json:"startedAt,omitempty"`
	Ended    time.Time  `json:"endedAt"`
}

// the persisted file shape
type logfile struct {
	Events []Event `json:"events"`
}

// A Log is the event log of one package directory. It is not safe for
// concurrent mutation.
type Log struct {
	path     string
	events   []Event
	nextID   int
	locked   bool // cached; set on load and on terminal append
	modified bool
	queue    []func() Event
	clk      clock.Clock
}

// Open returns the log for the given directory, loading the persisted file
// when present. A fresh log starts with nextID 1.
func Open(dir, filename string) (*Log, error) {
	l := &Log{
		path:   filepath.Join(dir, filename),
		nextID: 1,
		clk:    clock.New(),
	}
	data, err := ioutil.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	var f logfile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "event log %s", l.path)
	}
	l.events = f.Events
	for _, e := range l.events {
		if e.ID >= l.nextID {
			l.nextID = e.ID + 1
		}
		if e.Type == IngestionEnd {
			l.locked = true
		}
	}
	return l, nil
}

// SetClock replaces the timestamp source. Used by tests.
func (l *Log) SetClock(c clock.Clock) { l.clk = c }

// Path returns the absolute location of the log file.
func (l *Log) Path() string { return l.path }

// Locked reports whether an ingestion_end event has been appended. A locked
// log rejects all further appends.
func (l *Log) Locked() bool { return l.locked }

// Modified reports whether there are unsaved events.
func (l *Log) Modified() bool { return l.modified }

// Len returns the number of events in the log.
func (l *Log) Len() int { return len(l.events) }

// Events returns a copy of the event sequence in append order.
func (l *Log) Events() []Event {
	result := make([]Event, len(l.events))
	copy(result, l.events)
	return result
}

// Append adds an event to the log. The log assigns the ID; Ended is set to
// the current time when zero. Returns ErrLogLocked once the log is locked.
func (l *Log) Append(e Event) error {
	if l.locked {
		return ErrLogLocked
	}
	e.ID = l.nextID
	l.nextID++
	if e.Ended.IsZero() {
		e.Ended = l.clk.Now()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	l.events = append(l.events, e)
	l.modified = true
	if e.Type == IngestionEnd {
		l.locked = true
	}
	return nil
}

// Defer queues an event to be built and appended later by ProcessQueue.
// The provider runs at ProcessQueue time, so it may reference state that is
// not final yet, such as the full set of referenced-file URIs.
func (l *Log) Defer(build func() Event) {
	l.queue = append(l.queue, build)
}

// ProcessQueue materializes and appends every queued event in FIFO order,
// then clears the queue. On error the remaining queue is preserved so the
// call can be retried.
func (l *Log) ProcessQueue() error {
	for len(l.queue) > 0 {
		build := l.queue[0]
		if err := l.Append(build()); err != nil {
			return err
		}
		l.queue = l.queue[1:]
	}
	return nil
}

// QueueLen returns the number of pending deferred events.
func (l *Log) QueueLen() int { return len(l.queue) }

// Save writes the log to disk if there are unsaved events. A second call
// without intervening appends is a no-op. The write is atomic; on failure
// the modified flag is left set so the save can be retried.
func (l *Log) Save() error {
	if !l.modified {
		return nil
	}
	data, err := json.MarshalIndent(logfile{Events: l.events}, "", "    ")
	if err != nil {
		return err
	}
	err = util.WriteFileAtomic(l.path, data, 0644)
	if err != nil {
		return errors.Wrapf(err, "save event log %s", l.path)
	}
	l.modified = false
	return nil
}
