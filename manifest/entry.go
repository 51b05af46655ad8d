package manifest

import "encoding/json"

// Common metadata keys recorded on entries beyond the checksum pair. The set
// is open; ExtendEntry accepts any string key.
const (
	KeyObjectUID        = "ObjectUID"
	KeySource           = "Source"
	KeyDataset          = "Dataset"
	KeyFileFormat       = "FileFormat"
	KeyOriginalFilename = "OriginalFilename"
	KeyURI              = "URI"
)

// An Entry records the checksum and provenance metadata for one managed
// file. On disk an entry is a single flat JSON object: the two checksum
// fields plus whatever extra metadata has been merged in.
type Entry struct {
	MD5Hash     string
	MD5HashDate string
	Extra       map[string]string
}

// Merge copies the given metadata into the entry. Existing keys are
// overwritten, never removed.
func (e *Entry) Merge(metadata map[string]string) {
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	for k, v := range metadata {
		e.Extra[k] = v
	}
}

// MarshalJSON flattens the entry into one object. Keys are emitted in
// sorted order since encoding/json sorts map keys.
func (e Entry) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(e.Extra)+2)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["MD5Hash"] = e.MD5Hash
	m["MD5HashDate"] = e.MD5HashDate
	return json.Marshal(m)
}

// UnmarshalJSON splits the flat object back into the checksum fields and
// the extra metadata map.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	e.MD5Hash = m["MD5Hash"]
	e.MD5HashDate = m["MD5HashDate"]
	delete(m, "MD5Hash")
	delete(m, "MD5HashDate")
	if len(m) > 0 {
		e.Extra = m
	} else {
		e.Extra = nil
	}
	return nil
}
