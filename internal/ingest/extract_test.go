package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestExtractTextEmptyFile(t *testing.T) {
	if _, err := ExtractText("a.txt", "text/plain", nil); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestExtractTextPlain(t *testing.T) {
	got, err := ExtractText("notes.txt", "text/plain", []byte("hello   world\n\nsecond   para"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world\n\nsecond para" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestExtractTextCSV(t *testing.T) {
	got, err := ExtractText("data.csv", "text/csv", []byte("name,age\nalice,30\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "alice,30") {
		t.Fatalf("csv content lost: %q", got)
	}
}

func TestExtractTextLatin1Fallback(t *testing.T) {
	// 0xE9 is é in Latin-1 but invalid UTF-8 on its own.
	got, err := ExtractText("legacy.txt", "text/plain", []byte("caf\xe9 time"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "café") {
		t.Fatalf("latin-1 fallback failed: %q", got)
	}
}

func TestExtractTextFakePDFRejected(t *testing.T) {
	if _, err := ExtractText("fake.pdf", "application/pdf", []byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for fake pdf")
	}
}

func TestExtractTextDOCX(t *testing.T) {
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(docXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	got, err := ExtractText("doc.docx", "", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "First paragraph.") || !strings.Contains(got, "Second paragraph.") {
		t.Fatalf("docx text missing: %q", got)
	}
}

func TestExtractTextZipWithoutDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("random.txt")
	_, _ = f.Write([]byte("data"))
	_ = zw.Close()

	if _, err := ExtractText("weird.docx", "", buf.Bytes()); err == nil {
		t.Fatal("expected error for zip without word/document.xml")
	}
}
