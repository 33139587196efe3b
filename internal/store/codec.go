package store

import (
	"encoding/json"
	"fmt"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// decodeRecord parses a stored record. Empty input means "never written".
func decodeRecord(data []byte) (*models.Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func encodeRecord(rec *models.Record) ([]byte, error) {
	return json.Marshal(rec)
}
