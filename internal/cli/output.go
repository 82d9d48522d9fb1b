// Package cli renders command output for Shiori as text or JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/search"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes a retrieval answer: one block per citation with
// its locator and score, then the rendered prompt when one was requested.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d fragments in %dms (%d searched)\n\n",
		len(resp.Citations), resp.QueryTime, resp.Stats.FragmentsSearched)
	for i, c := range resp.Citations {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%d] %s\n", c.Number, c.Locator)
		fmt.Fprintf(w, "%s | Score: %.4f", c.Modality, c.Score)
		if i < len(resp.Fragments) && resp.Fragments[i].Boost != 0 {
			fmt.Fprintf(w, " (boost %+.2f)", resp.Fragments[i].Boost)
		}
		fmt.Fprintln(w)
		if i < len(resp.Fragments) {
			if text := strings.TrimSpace(resp.Fragments[i].Fragment.Text); text != "" {
				fmt.Fprintf(w, "\n%s\n", search.Snippet(text, 200))
			}
		}
		fmt.Fprintln(w)
	}
	if resp.Prompt != "" {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, resp.Prompt)
	}
	return nil
}

// WriteIngestReport writes the outcome of a directory ingest.
func WriteIngestReport(w io.Writer, report *indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Indexed %d, skipped %d, failed %d files (%d fragments) in %s\n",
		len(report.Indexed), len(report.Skipped), len(report.Failed), report.Fragments,
		report.Duration.Round(time.Millisecond))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  failed: %s: %v\n", f.Path, f.Err)
	}
	return nil
}

// WriteFileResult writes the outcome of a single-file ingest.
func WriteFileResult(w io.Writer, res *indexer.FileResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "%s: %s (%d fragments)\n", res.Status, res.Path, res.Fragments)
	return nil
}

// WriteKeywordResults writes full-text matches, one line per fragment.
func WriteKeywordResults(w io.Writer, query string, results []*keyword.KeywordResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"query": query, "results": results})
	}
	fmt.Fprintf(w, "%d matches for %q\n", len(results), query)
	for _, r := range results {
		fmt.Fprintf(w, "%s [%s] %.3f: %s\n", r.Path, r.Modality, r.Score, TruncateWords(oneLine(r.Text), 20))
	}
	return nil
}

// Status is what the status command reports.
type Status struct {
	Index            index.Stats      `json:"index"`
	DataDir          string           `json:"data_dir"`
	DiskUsageBytes   int64            `json:"disk_usage_bytes"`
	DiskUsage        map[string]int64 `json:"disk_usage,omitempty"`
	KeywordFragments *uint64          `json:"keyword_fragments,omitempty"`
}

// WriteStatus writes index statistics.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Data directory:  %s\n", s.DataDir)
	fmt.Fprintf(w, "Documents:       %d\n", s.Index.Documents)
	fmt.Fprintf(w, "Fragments:       %d\n", s.Index.Fragments)
	fmt.Fprintf(w, "Dimensions:      %d\n", s.Index.Dimensions)
	fmt.Fprintf(w, "Backend:         %s\n", s.Index.Backend)
	fmt.Fprintf(w, "Embedder:        %s\n", s.Index.Fingerprint)
	fmt.Fprintf(w, "Generation:      %d (persisted %d)\n", s.Index.Generation, s.Index.PersistedGeneration)
	if s.KeywordFragments != nil {
		fmt.Fprintf(w, "Keyword index:   %d fragments\n", *s.KeywordFragments)
	}
	fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(s.DiskUsageBytes))
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

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
