package extractor

import (
	"archive/zip"
	"encoding/xml"
	"path"
	"strings"
)

// extractEPUB treats the book as its zip container and strips every document
// item as HTML. Reading order comes from the OPF package manifest; archive
// order is the fallback for books without a parseable package document.
func extractEPUB(content []byte) (string, error) {
	archive, err := openZip(content)
	if err != nil {
		return "", err
	}

	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[f.Name] = f
	}

	ordered := epubDocumentOrder(files)
	if len(ordered) == 0 {
		for _, f := range archive.File {
			if isEPUBDocumentName(f.Name) {
				ordered = append(ordered, f)
			}
		}
	}

	chapters := make([]string, 0, len(ordered))
	for _, f := range ordered {
		raw, err := readZipFile(f)
		if err != nil {
			return "", err
		}
		text, err := extractHTML(decodeText(raw))
		if err != nil {
			return "", err
		}
		chapters = append(chapters, text)
	}
	return strings.Join(chapters, "\n"), nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest struct {
		Items []struct {
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
}

// epubDocumentOrder resolves META-INF/container.xml to the OPF package and
// returns the manifest's document items in declaration order. Hrefs resolve
// relative to the package document's directory.
func epubDocumentOrder(files map[string]*zip.File) []*zip.File {
	containerFile, ok := files["META-INF/container.xml"]
	if !ok {
		return nil
	}
	raw, err := readZipFile(containerFile)
	if err != nil {
		return nil
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil {
		return nil
	}

	var ordered []*zip.File
	for _, rootfile := range container.Rootfiles {
		opfFile, ok := files[rootfile.FullPath]
		if !ok {
			continue
		}
		raw, err := readZipFile(opfFile)
		if err != nil {
			continue
		}
		var pkg epubPackage
		if err := xml.Unmarshal(raw, &pkg); err != nil {
			continue
		}
		base := path.Dir(rootfile.FullPath)
		for _, item := range pkg.Manifest.Items {
			if item.MediaType != "application/xhtml+xml" && !isEPUBDocumentName(item.Href) {
				continue
			}
			href := item.Href
			if i := strings.IndexByte(href, '#'); i >= 0 {
				href = href[:i]
			}
			name := href
			if base != "." {
				name = path.Join(base, href)
			}
			if f, ok := files[name]; ok {
				ordered = append(ordered, f)
			}
		}
	}
	return ordered
}

func isEPUBDocumentName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".xhtml") || strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}
