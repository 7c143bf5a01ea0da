// Package models defines core data structures for chunks, ledger records, and search results.
package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingChunkID is returned when a chunk record has no id.
var ErrMissingChunkID = errors.New("chunk has no id")

// Chunk is a unit of source text produced upstream by the chunker.
// Identity is ID only: two chunks with the same ID are the same chunk.
type Chunk struct {
	ID     string                 `json:"id"`
	Text   string                 `json:"text"`
	Source map[string]interface{} `json:"source,omitempty"`
}

// NewChunk builds a chunk, rejecting an empty id.
func NewChunk(id, text string, source map[string]interface{}) (Chunk, error) {
	c := Chunk{ID: id, Text: text, Source: source}
	if err := c.Validate(); err != nil {
		return Chunk{}, err
	}
	return c, nil
}

// Validate reports whether the chunk can be embedded.
func (c Chunk) Validate() error {
	if c.ID == "" {
		return ErrMissingChunkID
	}
	return nil
}

// UnmarshalJSON accepts the chunker's flat record shape: "id" may be a string or an
// integer, and every field other than "id" and "text" is collected into Source.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rawID, ok := raw["id"]
	if !ok {
		return ErrMissingChunkID
	}
	id, err := decodeID(rawID)
	if err != nil {
		return err
	}
	var text string
	if rawText, ok := raw["text"]; ok {
		if err := json.Unmarshal(rawText, &text); err != nil {
			return fmt.Errorf("chunk %s: text: %w", id, err)
		}
	}
	var source map[string]interface{}
	nested := false
	if rawSource, ok := raw["source"]; ok {
		// A nested "source" object is taken as-is; a scalar is kept under its own key.
		if err := json.Unmarshal(rawSource, &source); err == nil && source != nil {
			nested = true
		}
	}
	for k, v := range raw {
		if k == "id" || k == "text" || (k == "source" && nested) {
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("chunk %s: field %s: %w", id, k, err)
		}
		if source == nil {
			source = make(map[string]interface{})
		}
		source[k] = val
	}
	*c = Chunk{ID: id, Text: text, Source: source}
	return c.Validate()
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingChunkID
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("chunk id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("chunk id must be a string or integer: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return "", fmt.Errorf("chunk id must be a string or integer: %s", n)
	}
	return strconv.FormatInt(i, 10), nil
}

// TextHash returns the hex SHA-256 of text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
