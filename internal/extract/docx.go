package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docxDocumentXMLPath is the main document body inside a .docx package.
const docxDocumentXMLPath = "word/document.xml"

// extractDOCX extracts text from .docx bytes. DOCX is a ZIP containing OOXML;
// the text lives in <w:t> elements of word/document.xml. The XML is walked
// with a streaming tokenizer so run and paragraph attributes never matter.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == docxDocumentXMLPath {
			if doc, err = f.Open(); err != nil {
				return "", fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docxDocumentXMLPath)
	}
	defer doc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(doc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract DOCX: parse %s: %w", docxDocumentXMLPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			} else if t.Name.Local == "p" && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
