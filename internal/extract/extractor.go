// Package extract turns document files into plain text for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
)

// Extractor converts supported document formats to plain text.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content. Plain
// formats (.txt, .md, .rst) pass through with UTF-8 validation; PDF,
// DOCX, XLSX, RTF and ODT are decoded from their binary formats.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".rtf", ".odt":
		text, err := cat.File(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", ext, err)
		}
		return strings.TrimSpace(text), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from in-memory content. ext carries the
// leading dot (".pdf"). RTF and ODT need a file path and are only
// handled by Extract.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		// Everything else, including unknown extensions, is read as
		// plain text.
		return extractPlain(content)
	}
}

// Supported reports whether ext is an extension Extract understands
// beyond unknown-extension passthrough.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx", ".rtf", ".odt", ".txt", ".md", ".rst":
		return true
	}
	return false
}
