package models

// View is what a long-poll read returns: the record header plus either the
// payload (data) or the entries appended since the caller's known version
// (index).
type View struct {
	Type    RecordType `json:"type"`
	ChatID  string     `json:"chatID"`
	Version uint64     `json:"version"`
	Payload []byte     `json:"payload,omitempty"`
	Entries []Entry    `json:"entries,omitempty"`
}
