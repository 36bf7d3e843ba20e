// Package sqlstore holds what the SQL persistence adapters share: the
// memory_records row shape and its JSON payload codec.
package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexlapax/engram/pkg/mem/record"
)

// Row is a memory_records row. The payload column carries the whole record
// as JSON; kind, content and created_at are duplicated for filtering.
type Row struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Content   string    `db:"content"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Columns is the select list that scans into Row.
const Columns = "id, kind, content, payload, created_at, updated_at"

// ToRow encodes rec for storage, stamping updated_at with now.
func ToRow(rec *record.MemoryRecord, now time.Time) (Row, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Row{}, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	return Row{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Content:   rec.Content,
		Payload:   payload,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// Record decodes the row's payload.
func (r Row) Record() (*record.MemoryRecord, error) {
	var rec record.MemoryRecord
	if err := json.Unmarshal(r.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", r.ID, err)
	}
	return &rec, nil
}

// Records decodes every row.
func Records(rows []Row) ([]*record.MemoryRecord, error) {
	out := make([]*record.MemoryRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
