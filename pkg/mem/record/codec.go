package record

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeJSON writes records as an indented JSON array, the backup format.
func EncodeJSON(w io.Writer, records []*MemoryRecord) error {
	if records == nil {
		records = []*MemoryRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return nil
}

// DecodeJSON reads a JSON array of records written by EncodeJSON.
// Records are not validated here; the store validates on import.
func DecodeJSON(r io.Reader) ([]*MemoryRecord, error) {
	var records []*MemoryRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}
