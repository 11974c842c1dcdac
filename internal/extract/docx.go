package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const wordMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// textRunTag matches <w:t>...</w:t> with or without attributes, so runs
// survive regardless of paragraph formatting.
var textRunTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// mainPartOverride matches the Override element naming the main document
// part, in either attribute order.
var mainPartOverride = []*regexp.Regexp{
	regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(wordMainContentType) + `"`),
	regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(wordMainContentType) + `"[^>]+PartName="([^"]+)"`),
}

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	docPath := mainDocumentPart(zr)
	docXML, err := zipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	runs := textRunTag.FindAllSubmatch(docXML, -1)
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(bytes.TrimSpace(r[1]))
	}
	return strings.TrimSpace(b.String()), nil
}

// mainDocumentPart resolves the document body path from
// [Content_Types].xml, falling back to the conventional location.
func mainDocumentPart(zr *zip.Reader) string {
	types, err := zipEntry(zr, "[Content_Types].xml")
	if err == nil {
		for _, re := range mainPartOverride {
			if m := re.FindSubmatch(types); len(m) > 1 {
				return strings.TrimPrefix(string(m[1]), "/")
			}
		}
	}
	return "word/document.xml"
}

func zipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}
