// Package chunker splits normalized text into bounded passages with zero
// overlap. Splitting is recursive over decreasing-priority boundaries
// (paragraph, line, sentence, word, character), so chunks break at the
// coarsest boundary that still fits the size limit. Identical input always
// produces the identical chunk sequence.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxSize bounds a chunk's length in characters.
const DefaultMaxSize = 512

var separators = []string{"\n\n", "\n", ". ", " "}

// Split breaks text into chunks of at most maxSize characters. Chunks are
// trimmed; blank chunks are dropped.
func Split(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return splitRecursive(text, maxSize, separators)
}

func splitRecursive(text string, maxSize int, seps []string) []string {
	if utf8.RuneCountInString(text) <= maxSize {
		return emit(text)
	}

	sep := ""
	var rest []string
	for i, s := range seps {
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return hardCut(text, maxSize)
	}

	pieces := strings.Split(text, sep)
	sepLen := utf8.RuneCountInString(sep)

	var out []string
	var current []string
	currentLen := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, emit(strings.Join(current, sep))...)
		current = current[:0]
		currentLen = 0
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if pieceLen > maxSize {
			flush()
			out = append(out, splitRecursive(piece, maxSize, rest)...)
			continue
		}
		joined := pieceLen
		if len(current) > 0 {
			joined += currentLen + sepLen
		}
		if joined > maxSize {
			flush()
			joined = pieceLen
		}
		current = append(current, piece)
		currentLen = joined
	}
	flush()
	return out
}

// hardCut slices at rune boundaries when no separator is left to honor.
func hardCut(text string, maxSize int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += maxSize {
		end := start + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, emit(string(runes[start:end]))...)
	}
	return out
}

func emit(chunk string) []string {
	trimmed := strings.TrimSpace(chunk)
	if trimmed == "" {
		return nil
	}
	return []string{trimmed}
}
