package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fieldwise/kura/internal/models"
)

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != OutputText {
		t.Errorf("empty: got %v, %v", f, err)
	}
	if f, err := ParseFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: got %v, %v", f, err)
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteChunks_Text(t *testing.T) {
	chunks := []models.RetrievedChunk{
		{Rank: 1, Score: 0.91, Source: "rice.txt", Text: "Rice grows in paddies."},
		{Rank: 2, Score: 0.52, Source: "wheat.txt", Text: "Wheat grows in fields."},
	}
	var buf bytes.Buffer
	if err := WriteChunks(&buf, chunks, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "[1] 0.910  rice.txt") {
		t.Errorf("output missing first result:\n%s", out)
	}
	if !strings.Contains(out, "Wheat grows in fields.") {
		t.Errorf("output missing second text:\n%s", out)
	}
}

func TestWriteChunks_TextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunks(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No results.") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteChunks_JSONRoundTrips(t *testing.T) {
	chunks := []models.RetrievedChunk{{Rank: 1, ID: 7, Score: 0.5, Text: "t", Source: "s", FullPath: "doc://s"}}
	var buf bytes.Buffer
	if err := WriteChunks(&buf, chunks, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []models.RetrievedChunk
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].ID != 7 {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestWriteAnswer_Text(t *testing.T) {
	resp := &models.AskResponse{
		Answer:  "In flooded paddies.",
		Sources: []models.RetrievedChunk{{Rank: 1, Score: 0.8, Source: "rice.txt"}},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "In flooded paddies.") {
		t.Errorf("answer not first:\n%s", out)
	}
	if !strings.Contains(out, "Sources:") || !strings.Contains(out, "rice.txt") {
		t.Errorf("sources missing:\n%s", out)
	}
}

func TestWriteStatus_Text(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStatus(&buf, models.StatusResponse{ChunkCount: 5, SourceCount: 2, IndexSize: 5, DriftCount: 0}, OutputText)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "chunks:      5") {
		t.Errorf("got %q", buf.String())
	}
}
