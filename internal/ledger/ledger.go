// Package ledger provides the metadata ledger: an ordered record store whose entry i
// describes vector i of the paired vector index.
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/hyperjump/vecsync/internal/models"
)

// Ledger is an append-only ordered sequence of metadata records.
// It is not safe for concurrent mutation; the sync controller is its only writer.
type Ledger struct {
	records []models.MetadataRecord
}

// New returns a ledger holding a copy of records.
func New(records ...models.MetadataRecord) *Ledger {
	l := &Ledger{records: make([]models.MetadataRecord, 0, len(records))}
	l.records = append(l.records, records...)
	return l
}

// Append adds records at the end, preserving their order.
func (l *Ledger) Append(records ...models.MetadataRecord) {
	l.records = append(l.records, records...)
}

// All returns a copy of every record in order.
func (l *Ledger) All() []models.MetadataRecord {
	out := make([]models.MetadataRecord, len(l.records))
	copy(out, l.records)
	return out
}

// At returns the record at position i.
func (l *Ledger) At(i int) (models.MetadataRecord, bool) {
	if i < 0 || i >= len(l.records) {
		return models.MetadataRecord{}, false
	}
	return l.records[i], true
}

// IDs returns the set of record ids.
func (l *Ledger) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.records))
	for _, r := range l.records {
		ids[r.ID] = struct{}{}
	}
	return ids
}

// HashesByID maps each id to the text hash of its first record.
func (l *Ledger) HashesByID() map[string]string {
	out := make(map[string]string, len(l.records))
	for _, r := range l.records {
		if _, ok := out[r.ID]; !ok {
			out[r.ID] = r.TextHash
		}
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return New(l.records...)
}

// MarshalJSON encodes the ledger as a JSON array of records.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	if l.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.records)
}

// UnmarshalJSON decodes a JSON array of records. Every record must carry an id.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var records []models.MetadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("ledger record %d: %w", i, models.ErrMissingChunkID)
		}
	}
	if records == nil {
		records = make([]models.MetadataRecord, 0)
	}
	l.records = records
	return nil
}
