package models

// Envelope is the request body exchanged with a replica's store, both for
// updates and for long-poll reads.
type Envelope struct {
	Node    string     `json:"node"`
	Chat    string     `json:"chat"`
	Type    RecordType `json:"type"`
	Payload []byte     `json:"payload,omitempty"` // data writes
	Append  string     `json:"append,omitempty"`  // index writes
	Version *uint64    `json:"version,omitempty"` // last observed version, reads only
	NoWait  bool       `json:"nowait,omitempty"`  // single read attempt
}

// Key returns the storage key of the addressed record.
func (e *Envelope) Key() string {
	return e.Chat + "_" + e.Node
}

// WithVersion returns a copy of the envelope carrying a known version.
func (e Envelope) WithVersion(v uint64) Envelope {
	e.Version = &v
	return e
}
