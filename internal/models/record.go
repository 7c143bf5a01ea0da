package models

// MetadataRecord is one ledger entry. It sits at the same ordinal position in the
// ledger as its vector in the vector index.
type MetadataRecord struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Source   map[string]interface{} `json:"source,omitempty"`
	TextHash string                 `json:"text_hash"`
}

// RecordFromChunk builds the ledger record for an embedded chunk.
func RecordFromChunk(c Chunk) MetadataRecord {
	return MetadataRecord{
		ID:       c.ID,
		Text:     c.Text,
		Source:   c.Source,
		TextHash: TextHash(c.Text),
	}
}
