package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractText sniffs the true file type from bytes, then extracts plain
// text. Supported: PDF, DOCX, TXT/MD/CSV. Returns an error when no text can
// be recovered so callers can mark the document failed instead of indexing
// an empty body.
func ExtractText(originalName string, mimeType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if len(data) == 0 {
		return "", fmt.Errorf("empty file: name=%s", originalName)
	}

	if isPDF(data) {
		return extractPDF(data)
	}
	if isZip(data) {
		text, err := extractDOCX(data)
		if err != nil {
			return "", fmt.Errorf("openxml extract: %w", err)
		}
		return text, nil
	}
	if isProbablyText(data) || mt == "text/plain" || mt == "text/csv" ||
		ext == ".txt" || ext == ".md" || ext == ".csv" {
		return normalizeText(decodeText(data)), nil
	}

	if mt == "application/pdf" || ext == ".pdf" {
		return "", fmt.Errorf("file claims pdf but missing %%PDF header: name=%s", originalName)
	}
	if ext == ".docx" {
		return "", fmt.Errorf("file claims docx but is not a zip container: name=%s", originalName)
	}
	return "", fmt.Errorf("unsupported file type: name=%s ext=%s mime=%s", originalName, ext, mt)
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func isProbablyText(b []byte) bool {
	sample := b
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

// decodeText treats input as UTF-8, falling back to Latin-1 when the bytes
// do not validate.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, 0, len(b))
	for _, c := range b {
		runes = append(runes, rune(c))
	}
	return string(runes)
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	text := normalizeText(string(b))
	if text == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return text, nil
}

// extractDOCX pulls the run text out of word/document.xml.
func extractDOCX(zipBytes []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("zip does not look like docx")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return "", err
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "t":
			var v string
			_ = dec.DecodeElement(&v, &se)
			out.WriteString(v)
		case "p":
			out.WriteString("\n\n")
		case "br", "tab":
			out.WriteString(" ")
		}
	}
	text := normalizeText(out.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from docx")
	}
	return text, nil
}

// normalizeText collapses runs of spaces but keeps paragraph breaks so the
// chunker can still cut on them.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	paras := strings.Split(s, "\n\n")
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
