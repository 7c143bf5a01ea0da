package models

// SearchResult is a single nearest-neighbor hit resolved to its ledger record.
type SearchResult struct {
	Record   MetadataRecord `json:"record"`
	Position int            `json:"position"`
	Distance float64        `json:"distance"`
	Rank     int            `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	IndexSize int             `json:"index_size"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
