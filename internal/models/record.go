package models

// RecordType distinguishes payload records from append-only index records.
type RecordType string

const (
	TypeData  RecordType = "data"
	TypeIndex RecordType = "index"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return t == TypeData || t == TypeIndex
}

// Entry is one element of an index record.
type Entry struct {
	EntryID   string `json:"entryID"`
	Version   uint64 `json:"version"`   // record version that appended it
	Timestamp int64  `json:"timestamp"` // Unix ms
}

// Record is the unit of storage, keyed by (chatID, nodeID).
// Type and ChatID never change after the first accepted write.
type Record struct {
	Type    RecordType `json:"type"`
	ChatID  string     `json:"chatID"`
	Version uint64     `json:"version"`
	Payload []byte     `json:"payload,omitempty"`
	Entries []Entry    `json:"entries,omitempty"`
}

// Exists reports whether the record has been written at least once.
func (r *Record) Exists() bool {
	return r != nil && r.Version > 0
}

// HasEntry reports whether an entry with the given ID is already indexed.
func (r *Record) HasEntry(id string) bool {
	for _, e := range r.Entries {
		if e.EntryID == id {
			return true
		}
	}
	return false
}

// View projects the record for a reader that last observed version known
// (nil when never observed). Index records only carry the entries appended
// after known.
func (r *Record) View(known *uint64) *View {
	v := &View{
		Type:    r.Type,
		ChatID:  r.ChatID,
		Version: r.Version,
	}

	switch r.Type {
	case TypeData:
		// Non-nil even when empty: a data view always carries a payload.
		v.Payload = append([]byte{}, r.Payload...)
	case TypeIndex:
		v.Entries = make([]Entry, 0, len(r.Entries))
		for _, e := range r.Entries {
			if known == nil || e.Version > *known {
				v.Entries = append(v.Entries, e)
			}
		}
	}

	return v
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	c.Entries = append([]Entry(nil), r.Entries...)
	return &c
}
