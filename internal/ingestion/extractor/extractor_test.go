package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %q: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTXTNormalizes(t *testing.T) {
	got, err := Extract(domain.SourceTypeTXT, []byte("  line one  \n\n\t line two \n\n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "line one\nline two"
	if got != want {
		t.Fatalf("text: want=%q got=%q", want, got)
	}
}

func TestExtractDropsInvalidUTF8(t *testing.T) {
	got, err := Extract(domain.SourceTypeTXT, []byte("ok \xff\xfe text"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.ContainsRune(got, '�') {
		t.Fatalf("text contains replacement rune: %q", got)
	}
	if !strings.Contains(got, "ok") || !strings.Contains(got, "text") {
		t.Fatalf("text lost valid content: %q", got)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := Extract(domain.SourceTypePostgres, []byte("irrelevant"))
	var unsupported *UnsupportedTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error type: want=*UnsupportedTypeError got=%T (%v)", err, err)
	}
	if unsupported.Type != domain.SourceTypePostgres {
		t.Fatalf("type: want=%q got=%q", domain.SourceTypePostgres, unsupported.Type)
	}
}

func TestExtractHTMLStripsMarkup(t *testing.T) {
	html := `<html><head>
		<title>Doc</title>
		<style>body { color: red; }</style>
		<script>alert("nope")</script>
	</head><body>
		<h1>Heading</h1>
		<p>First <b>paragraph</b> text.</p>
		<noscript>enable js</noscript>
	</body></html>`
	got, err := Extract(domain.SourceTypeHTML, []byte(html))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "color: red") || strings.Contains(got, "enable js") {
		t.Fatalf("script/style/noscript leaked: %q", got)
	}
	if !strings.Contains(got, "Heading") {
		t.Fatalf("heading missing: %q", got)
	}
	if !strings.Contains(got, "paragraph") {
		t.Fatalf("paragraph text missing: %q", got)
	}
	if strings.Contains(got, "<") {
		t.Fatalf("markup leaked: %q", got)
	}
}

func TestExtractRTF(t *testing.T) {
	rtf := `{\rtf1\ansi{\fonttbl{\f0 Arial;}}{\colortbl;\red0\green0\blue0;}Hello\par World\tab End}`
	got, err := Extract(domain.SourceTypeRTF, []byte(rtf))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Hello\nWorld\tEnd"
	if got != want {
		t.Fatalf("text: want=%q got=%q", want, got)
	}
}

func TestExtractRTFSkipsMetadataGroups(t *testing.T) {
	rtf := `{\rtf1{\info{\title secret title}}{\*\generator Word}Visible text}`
	got, err := Extract(domain.SourceTypeRTF, []byte(rtf))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Contains(got, "secret title") || strings.Contains(got, "Word") {
		t.Fatalf("destination group leaked: %q", got)
	}
	if got != "Visible text" {
		t.Fatalf("text: want=%q got=%q", "Visible text", got)
	}
}

func TestExtractDOCX(t *testing.T) {
	document := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First line</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>line</w:t></w:r></w:p>
  </w:body>
</w:document>`
	content := buildZip(t, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"word/document.xml":   document,
	})
	got, err := Extract(domain.SourceTypeDOCX, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "First line\nSecond line"
	if got != want {
		t.Fatalf("text: want=%q got=%q", want, got)
	}
}

func TestExtractDOCXMissingDocument(t *testing.T) {
	content := buildZip(t, map[string]string{"other.xml": "<x/>"})
	if _, err := Extract(domain.SourceTypeDOCX, content); err == nil {
		t.Fatalf("Extract: want error for missing word/document.xml")
	}
}

func TestExtractPPTXOrdersSlidesNumerically(t *testing.T) {
	slide := func(text string) string {
		return `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld>
</p:sld>`
	}
	content := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml": slide("tenth"),
		"ppt/slides/slide2.xml":  slide("second"),
		"ppt/slides/slide1.xml":  slide("first"),
	})
	got, err := Extract(domain.SourceTypePPTX, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "first\nsecond\ntenth"
	if got != want {
		t.Fatalf("slide order: want=%q got=%q", want, got)
	}
}

func TestExtractODT(t *testing.T) {
	contentXML := `<?xml version="1.0"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
  <office:body><office:text>
    <text:p>Plain paragraph</text:p>
    <text:p>With a <text:span>nested span</text:span> inside</text:p>
  </office:text></office:body>
</office:document-content>`
	content := buildZip(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.text",
		"content.xml": contentXML,
	})
	got, err := Extract(domain.SourceTypeODT, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Plain paragraph\nWith a nested span inside"
	if got != want {
		t.Fatalf("text: want=%q got=%q", want, got)
	}
}

func TestExtractEPUB(t *testing.T) {
	content := buildZip(t, map[string]string{
		"mimetype":               "application/epub+zip",
		"OEBPS/chapter1.xhtml":   `<html><body><p>Chapter one text</p></body></html>`,
		"OEBPS/chapter2.xhtml":   `<html><body><p>Chapter two text</p></body></html>`,
		"OEBPS/styles/style.css": "p { margin: 0 }",
	})
	got, err := Extract(domain.SourceTypeEPUB, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "Chapter one text") || !strings.Contains(got, "Chapter two text") {
		t.Fatalf("chapter text missing: %q", got)
	}
	if strings.Contains(got, "margin") {
		t.Fatalf("stylesheet leaked: %q", got)
	}
}

func TestExtractEPUBFollowsManifestOrder(t *testing.T) {
	containerXML := `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	opfXML := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="intro" href="intro.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="styles/style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="intro"/>
    <itemref idref="ch1"/>
  </spine>
</package>`
	content := buildZip(t, map[string]string{
		"mimetype":                  "application/epub+zip",
		"META-INF/container.xml":    containerXML,
		"OEBPS/content.opf":         opfXML,
		"OEBPS/text/chapter1.xhtml": `<html><body><p>Chapter one text</p></body></html>`,
		"OEBPS/intro.xhtml":         `<html><body><p>Introduction text</p></body></html>`,
		"OEBPS/styles/style.css":    "p { margin: 0 }",
	})
	got, err := Extract(domain.SourceTypeEPUB, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Introduction text\nChapter one text"
	if got != want {
		t.Fatalf("reading order: want=%q got=%q", want, got)
	}
}

func TestExtractEPUBIgnoresBrokenPackage(t *testing.T) {
	content := buildZip(t, map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="OEBPS/content.opf"`,
		"OEBPS/chapter1.xhtml":   `<html><body><p>Chapter one text</p></body></html>`,
	})
	got, err := Extract(domain.SourceTypeEPUB, content)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "Chapter one text") {
		t.Fatalf("chapter text missing: %q", got)
	}
}

func TestExtractXLSX(t *testing.T) {
	workbook := excelize.NewFile()
	sheet := workbook.GetSheetName(0)
	if err := workbook.SetCellValue(sheet, "A1", "name"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	if err := workbook.SetCellValue(sheet, "B1", "region"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	if err := workbook.SetCellValue(sheet, "A2", "acme"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	if err := workbook.SetCellValue(sheet, "B2", "emea"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	buf, err := workbook.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	got, err := Extract(domain.SourceTypeXLSX, buf.Bytes())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: want=3 got=%d (%q)", len(lines), got)
	}
	if lines[0] != "["+sheet+"]" {
		t.Fatalf("sheet marker: want=%q got=%q", "["+sheet+"]", lines[0])
	}
	if lines[1] != "name\tregion" {
		t.Fatalf("header row: want=%q got=%q", "name\tregion", lines[1])
	}
	if lines[2] != "acme\temea" {
		t.Fatalf("data row: want=%q got=%q", "acme\temea", lines[2])
	}
}

func TestExtractEMLMultipart(t *testing.T) {
	eml := strings.Join([]string{
		"From: sender@example.com",
		"To: reader@example.com",
		"Subject: quarterly update",
		`Content-Type: multipart/alternative; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Plain body line.",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"<html><body><p>HTML body =E2=80=94 rendered.</p></body></html>",
		"--frontier",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--frontier--",
		"",
	}, "\r\n")

	got, err := Extract(domain.SourceTypeEML, []byte(eml))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "Plain body line.") {
		t.Fatalf("plain part missing: %q", got)
	}
	if !strings.Contains(got, "rendered.") {
		t.Fatalf("html part missing: %q", got)
	}
	if strings.Contains(got, "<p>") {
		t.Fatalf("html markup leaked: %q", got)
	}
	if strings.Contains(got, "JVBERi0xLjQ") {
		t.Fatalf("attachment leaked: %q", got)
	}
}

func TestExtractEMLPlainBody(t *testing.T) {
	eml := strings.Join([]string{
		"From: sender@example.com",
		"Subject: note",
		"",
		"Just a body.",
		"",
	}, "\r\n")

	got, err := Extract(domain.SourceTypeEML, []byte(eml))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Just a body." {
		t.Fatalf("text: want=%q got=%q", "Just a body.", got)
	}
}
