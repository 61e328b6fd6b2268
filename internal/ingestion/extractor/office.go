package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// DOCX, PPTX and ODT are zip containers around XML; the text lives in
// well-known elements (w:t, a:t, text:p). Walking the XML token stream keeps
// the decoding allocation-light and format-tolerant.

func openZip(content []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(content), int64(len(content)))
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractDOCX(content []byte) (string, error) {
	archive, err := openZip(content)
	if err != nil {
		return "", err
	}
	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			return "", err
		}
		return xmlParagraphText(raw, "p", "t")
	}
	return "", fmt.Errorf("word/document.xml not found")
}

func extractPPTX(content []byte) (string, error) {
	archive, err := openZip(content)
	if err != nil {
		return "", err
	}

	slides := make([]*zip.File, 0)
	for _, f := range archive.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	parts := make([]string, 0, len(slides))
	for _, f := range slides {
		raw, err := readZipFile(f)
		if err != nil {
			return "", err
		}
		// Text runs live in a:t; every paragraph (a:p) becomes one line.
		text, err := xmlParagraphText(raw, "p", "t")
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func slideNumber(name string) int {
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func extractODT(content []byte) (string, error) {
	archive, err := openZip(content)
	if err != nil {
		return "", err
	}
	for _, f := range archive.File {
		if f.Name != "content.xml" {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			return "", err
		}
		return odtParagraphText(raw)
	}
	return "", fmt.Errorf("content.xml not found")
}

// xmlParagraphText collects character data inside textElem runs, emitting one
// line per paraElem element.
func xmlParagraphText(raw []byte, paraElem, textElem string) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var b strings.Builder
	inText := 0
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				if inText > 0 {
					inText--
				}
			case paraElem:
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText > 0 {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// odtParagraphText collects every character datum inside text:p paragraphs,
// including nested spans and links.
func odtParagraphText(raw []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var b strings.Builder
	inParagraph := 0
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" {
				inParagraph++
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph > 0 {
				inParagraph--
				b.WriteString("\n")
			}
		case xml.CharData:
			if inParagraph > 0 {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
