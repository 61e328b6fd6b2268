package extractor

import "strings"

// extractRTF strips RTF control structure down to document text. Destination
// groups (font/color tables, metadata, embedded objects) are dropped wholesale;
// \par, \line and \tab map to their plain-text equivalents; other control
// words are discarded.
func extractRTF(raw string) string {
	var b strings.Builder
	i := 0
	for i < len(raw) {
		switch ch := raw[i]; ch {
		case '{':
			if isSkippedGroup(raw, i) {
				i = skipBalanced(raw, i)
				continue
			}
			i++
		case '}':
			i++
		case '\\':
			i = consumeControl(raw, i, &b)
		case '\r', '\n':
			i++
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

var skippedDestinations = []string{
	`{\*`, `{\fonttbl`, `{\colortbl`, `{\stylesheet`, `{\info`, `{\pict`,
}

func isSkippedGroup(raw string, i int) bool {
	for _, prefix := range skippedDestinations {
		if strings.HasPrefix(raw[i:], prefix) {
			return true
		}
	}
	return false
}

// skipBalanced returns the index just past the brace matching raw[i].
func skipBalanced(raw string, i int) int {
	depth := 0
	for ; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++ // escaped character, never a brace boundary
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(raw)
}

func consumeControl(raw string, i int, b *strings.Builder) int {
	i++ // backslash
	if i >= len(raw) {
		return i
	}
	switch c := raw[i]; {
	case c == '\\' || c == '{' || c == '}':
		b.WriteByte(c)
		return i + 1
	case c == '\'':
		// Hex-escaped codepage byte; outside UTF-8, dropped.
		i++
		if i+2 <= len(raw) {
			i += 2
		}
		return i
	case c == '~':
		b.WriteByte(' ')
		return i + 1
	}

	start := i
	for i < len(raw) && isASCIILetter(raw[i]) {
		i++
	}
	word := raw[start:i]
	if i < len(raw) && (raw[i] == '-' || isASCIIDigit(raw[i])) {
		i++
		for i < len(raw) && isASCIIDigit(raw[i]) {
			i++
		}
	}
	if i < len(raw) && raw[i] == ' ' {
		i++ // the delimiter space belongs to the control word
	}

	switch word {
	case "par", "line", "sect", "page":
		b.WriteByte('\n')
	case "tab":
		b.WriteByte('\t')
	}
	return i
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
