// Package cli provides CLI output helpers for vecsync.
package cli

import (
	"encoding/json"
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/syncer"
	"github.com/hyperjump/vecsync/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact is one tab-separated line per result.
	OutputCompact OutputFormat = "compact"
)

const snippetLength = 200

// ParseOutputFormat validates a -format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputJSON, OutputCompact:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or compact)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.6f\t%s\t%s\n", r.Rank, r.Distance, r.Record.ID, utils.Truncate(utils.SingleLine(r.Record.Text), 80))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (index size %d)\n\n", response.Total, response.QueryTime, response.IndexSize)
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.4f | Position: %d\n", result.Rank, result.Distance, result.Position)
		fmt.Fprintf(w, "ID: %s\n", result.Record.ID)
		if src := sourceLabel(result.Record.Source); src != "" {
			fmt.Fprintf(w, "Source: %s\n", src)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.Record.Text, snippetLength))
	}
}

// sourceLabel picks a human-readable origin from chunk source metadata.
func sourceLabel(source map[string]interface{}) string {
	for _, key := range []string{"url", "file", "path", "title"} {
		if v, ok := source[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// WriteSyncReport writes the outcome of a sync run. A nil report means the run was
// skipped because there were no chunks.
func WriteSyncReport(w io.Writer, report *syncer.Report, format OutputFormat) error {
	if format == OutputJSON {
		if report == nil {
			return writeJSON(w, map[string]string{"status": "skipped", "reason": "no chunks found"})
		}
		return writeJSON(w, report)
	}
	if report == nil {
		fmt.Fprintln(w, "No chunks found, nothing to embed.")
		return nil
	}
	if format == OutputCompact {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", report.RunID, report.State, report.TotalChunks, report.Embedded, report.TrackerCount)
		return nil
	}
	fmt.Fprintf(w, "Sync %s: %s in %dms\n", report.RunID, report.State, report.DurationMS)
	fmt.Fprintf(w, "  previous state:    %s (%d records)\n", report.LoadStatus, report.ExistingRecords)
	fmt.Fprintf(w, "  chunks:            %d\n", report.TotalChunks)
	fmt.Fprintf(w, "  embedded:          %d\n", report.Embedded)
	if report.DroppedDuplicates > 0 {
		fmt.Fprintf(w, "  dropped duplicates: %d\n", report.DroppedDuplicates)
	}
	if report.ChangedText > 0 {
		fmt.Fprintf(w, "  changed text kept: %d\n", report.ChangedText)
	}
	fmt.Fprintf(w, "  persisted:         %t\n", report.Persisted)
	fmt.Fprintf(w, "  tracker count:     %d\n", report.TrackerCount)
	return nil
}

// WriteStatus writes a status document as indented JSON or key/value text.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]interface{}
	if err := dec.Decode(&flat); err != nil {
		return err
	}
	writeFlat(w, "", flat)
	return nil
}

func writeFlat(w io.Writer, prefix string, m map[string]interface{}) {
	for _, k := range sortedKeys(m) {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := m[k].(map[string]interface{}); ok {
			writeFlat(w, key, sub)
			continue
		}
		fmt.Fprintf(w, "%s: %v\n", key, m[k])
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
