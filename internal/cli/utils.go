// Package cli formats command output for manabu.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/parser"
	"github.com/hyperjump/manabu/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fuzzy := ""
	if response.AutoFuzzy {
		fuzzy = " (typo-tolerant)"
	}
	fmt.Fprintf(w, "\nFound %d results for %q in %dms%s\n\n", response.Total, response.Query, response.QueryTime, fuzzy)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", result.Rank, result.Score)
	fmt.Fprintf(w, "ID: %s\n", result.Document.ID)
	fmt.Fprintf(w, "File: %s (%s)\n", result.Document.OriginalFilename, result.Document.Status)
	if result.Snippet != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Snippet, 200))
	}
	fmt.Fprintln(w)
}

// ParseOutput is the JSON shape of a parse command result.
type ParseOutput struct {
	File          string                 `json:"file"`
	CanonicalText string                 `json:"canonicalText"`
	Blocks        []models.Block         `json:"blocks"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// WriteParseResult writes the canonical text and block layout of a parsed file.
func WriteParseResult(w io.Writer, file string, res *parser.Result, format OutputFormat) error {
	if format == OutputJSON {
		blocks := res.Blocks
		if blocks == nil {
			blocks = []models.Block{}
		}
		return writeJSON(w, ParseOutput{File: file, CanonicalText: res.CanonicalText, Blocks: blocks, Metadata: res.Metadata})
	}
	fmt.Fprintf(w, "%s: %d bytes, %d blocks\n\n", file, len(res.CanonicalText), len(res.Blocks))
	for _, b := range res.Blocks {
		fmt.Fprintf(w, "[%d,%d) %-9s %s\n", b.StartOffset, b.EndOffset, b.Kind, TruncateWords(utils.CollapseWhitespace(b.Text), 12))
	}
	return nil
}

// Status is the output of the status command.
type Status struct {
	User           string                `json:"user"`
	Stats          *models.DocumentStats `json:"stats"`
	DatabasePath   string                `json:"databasePath,omitempty"`
	BleveIndexPath string                `json:"bleveIndexPath,omitempty"`
	UploadDir      string                `json:"uploadDir,omitempty"`
	IndexedDocs    uint64                `json:"indexedDocs"`
}

// WriteStatus writes document counts and storage locations.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "User:        %s\n", st.User)
	fmt.Fprintf(w, "Documents:   %d (%d completed, %d processing, %d failed)\n",
		st.Stats.TotalFiles, st.Stats.CompletedFiles, st.Stats.ProcessingFiles, st.Stats.FailedFiles)
	fmt.Fprintf(w, "Total size:  %s\n", FormatBytes(st.Stats.TotalSize))
	if st.Stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(*st.Stats.DiskUsageBytes))
	}
	fmt.Fprintf(w, "Index docs:  %d\n", st.IndexedDocs)
	if st.DatabasePath != "" {
		fmt.Fprintf(w, "Database:    %s\n", st.DatabasePath)
	}
	if st.BleveIndexPath != "" {
		fmt.Fprintf(w, "Index:       %s\n", st.BleveIndexPath)
	}
	if st.UploadDir != "" {
		fmt.Fprintf(w, "Uploads:     %s\n", st.UploadDir)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
