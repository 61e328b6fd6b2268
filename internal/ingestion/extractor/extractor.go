// Package extractor converts raw source bytes into normalized plain text.
// Dispatch is a closed mapping over the file type enum so an unmapped type
// fails fast, before anything touches the vector store.
package extractor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
)

// UnsupportedTypeError rejects a source type with no registered extractor.
type UnsupportedTypeError struct {
	Type domain.SourceType
}

func (e *UnsupportedTypeError) Error() string {
	if e == nil {
		return "unsupported source type"
	}
	return fmt.Sprintf("unsupported source type: %s", e.Type)
}

// Extract converts content into plain text for the declared type. Output is
// normalized: every line trimmed, blank lines dropped.
func Extract(sourceType domain.SourceType, content []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch sourceType {
	case domain.SourceTypeTXT, domain.SourceTypeMD:
		text = decodeText(content)
	case domain.SourceTypeHTML, domain.SourceTypeHTM:
		text, err = extractHTML(decodeText(content))
	case domain.SourceTypePDF:
		text, err = extractPDF(content)
	case domain.SourceTypeDOCX:
		text, err = extractDOCX(content)
	case domain.SourceTypeRTF:
		text = extractRTF(decodeText(content))
	case domain.SourceTypeODT:
		text, err = extractODT(content)
	case domain.SourceTypeEPUB:
		text, err = extractEPUB(content)
	case domain.SourceTypePPTX:
		text, err = extractPPTX(content)
	case domain.SourceTypeXLSX:
		text, err = extractXLSX(content)
	case domain.SourceTypeEML:
		text, err = extractEML(content)
	default:
		return "", &UnsupportedTypeError{Type: sourceType}
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", sourceType, err)
	}
	return normalize(text), nil
}

// decodeText decodes bytes as UTF-8, dropping invalid sequences instead of
// failing on them.
func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "")
}

func normalize(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}
