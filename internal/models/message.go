package models

// Message is a chat message fetched through the facade.
type Message struct {
	Node    string `json:"node"`
	Payload []byte `json:"data"`
}

// IndexUpdate is the result of polling a chat's index across its replicas.
type IndexUpdate struct {
	Node     string            `json:"node"`
	Entries  []Entry           `json:"messages"`
	Versions map[string]uint64 `json:"uids"` // replica ID -> last observed version
}
