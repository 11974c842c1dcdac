// Package cli formats command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/pkg/utils"
)

// OutputFormat selects how results are rendered.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteChunks writes retrieval results to w in the given format.
func WriteChunks(w io.Writer, chunks []models.RetrievedChunk, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	}
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	for _, c := range chunks {
		fmt.Fprintf(w, "[%d] %.3f  %s\n", c.Rank, c.Score, c.Source)
		fmt.Fprintf(w, "    %s\n", utils.Truncate(c.Text, 200))
	}
	return nil
}

// WriteAnswer writes an ask response to w in the given format.
func WriteAnswer(w io.Writer, resp *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range resp.Sources {
			fmt.Fprintf(w, "  [%d] %s (score %.3f)\n", s.Rank, s.Source, s.Score)
		}
	}
	return nil
}

// WriteStatus writes a status response to w in the given format.
func WriteStatus(w io.Writer, status models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "chunks:      %d\n", status.ChunkCount)
	fmt.Fprintf(w, "sources:     %d\n", status.SourceCount)
	fmt.Fprintf(w, "index_size:  %d\n", status.IndexSize)
	fmt.Fprintf(w, "drift:       %d\n", status.DriftCount)
	return nil
}
