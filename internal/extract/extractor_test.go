package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipFixture builds an in-memory zip with the given name->content entries.
func zipFixture(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func docxFixture(t *testing.T, text string) []byte {
	return zipFixture(t, map[string]string{
		"word/document.xml": `<w:document xmlns:w="ns"><w:body><w:p w:rsidR="X"><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`,
	})
}

func TestExtractBytesPlain(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name string
		in   string
		ext  string
		want string
	}{
		{"txt passthrough", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"valid utf8", "caf\xc3\xa9", ".md", "café"},
		{"invalid utf8 replaced", "hello\x80world", ".rst", "hello�world"},
		{"unknown extension falls back to plain", "raw content", ".xyz", "raw content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes([]byte(tt.in), tt.ext)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytesDocx(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes(docxFixture(t, "Searchable docx content"), ".docx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Searchable docx content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesDocxCustomPart(t *testing.T) {
	// [Content_Types].xml can point the main document at a non-default part,
	// with either attribute order on the Override element.
	overrides := map[string]string{
		"PartName first": `<Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/>`,
		"PartName last":  `<Override ContentType="` + docxMainType + `" PartName="/word/document2.xml"/>`,
	}
	e := NewExtractor()
	for name, override := range overrides {
		t.Run(name, func(t *testing.T) {
			content := zipFixture(t, map[string]string{
				"[Content_Types].xml": `<Types xmlns="ns">` + override + `</Types>`,
				"word/document2.xml":  `<w:document xmlns:w="ns"><w:body><w:p><w:r><w:t>Relocated body</w:t></w:r></w:p></w:body></w:document>`,
			})
			got, err := e.ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if got != "Relocated body" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytesPptx(t *testing.T) {
	e := NewExtractor()
	content := zipFixture(t, map[string]string{
		"ppt/slides/slide1.xml": `<p:sld><p:txBody><a:p><a:r><a:t>First slide</a:t></a:r></a:p></p:txBody></p:sld>`,
		"ppt/slides/slide2.xml": `<p:sld><p:txBody><a:p><a:r><a:t xml:space="preserve">Second slide</a:t></a:r></a:p></p:txBody></p:sld>`,
		"docProps/core.xml":     `<cp:coreProperties/>`,
	})
	got, err := e.ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "First slide Second slide" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesPptxNoSlides(t *testing.T) {
	e := NewExtractor()
	content := zipFixture(t, map[string]string{"docProps/core.xml": "<x/>"})
	got, err := e.ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestExtractBytesODP(t *testing.T) {
	e := NewExtractor()
	content := zipFixture(t, map[string]string{
		"content.xml": `<office:document><draw:page><text:h>Slide title</text:h><text:p>Body text</text:p></draw:page></office:document>`,
	})
	got, err := e.ExtractBytes(content, ".odp")
	if err != nil {
		t.Fatal(err)
	}
	// Paragraphs collect before headings.
	if got != "Body text Slide title" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesODS(t *testing.T) {
	e := NewExtractor()
	content := zipFixture(t, map[string]string{
		"content.xml": `<table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:span>Cell B</text:span></table:table-cell></table:table-row>`,
	})
	got, err := e.ExtractBytes(content, ".ods")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Cell A Cell B" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesExcel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesErrors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".pptx"); err == nil {
		t.Error("expected error for non-zip pptx")
	}
	missing := zipFixture(t, map[string]string{"other.xml": "<x/>"})
	for _, ext := range []string{".odp", ".ods"} {
		if _, err := e.ExtractBytes(missing, ext); err == nil {
			t.Errorf("expected error for %s without content.xml", ext)
		}
	}
}

func TestExtractFromFile(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(txt, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	deck := filepath.Join(dir, "deck.pptx")
	slides := zipFixture(t, map[string]string{
		"ppt/slides/slide1.xml": `<p:sld><a:p><a:r><a:t>Deck content</a:t></a:r></a:p></p:sld>`,
	})
	if err := os.WriteFile(deck, slides, 0600); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, err := e.Extract(txt)
	if err != nil {
		t.Fatal(err)
	}
	if got != "File content" {
		t.Errorf("txt: got %q", got)
	}
	got, err = e.Extract(deck)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Deck content" {
		t.Errorf("pptx: got %q", got)
	}
	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
