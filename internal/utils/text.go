package utils

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxModelInputChars caps the combined document passed to inference.
	// Larger inputs blow the model context window, so they are cut here
	// rather than rejected.
	MaxModelInputChars = 12000

	// TruncationNotice is appended when an input was cut.
	TruncationNotice = "\n[...document truncated for processing]"
)

// CleanText normalizes whitespace in a plain-text clinical input: every
// line is trimmed and blank lines are dropped. Content is kept intact,
// no interpretation happens here.
func CleanText(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// DecodeTextUpload converts an uploaded text file to a valid UTF-8 string.
// Invalid byte sequences become the Unicode replacement character instead
// of failing the whole upload.
func DecodeTextUpload(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

// TruncateForModel cuts text that exceeds the model input budget and marks
// the cut so clinicians can tell the document was shortened.
func TruncateForModel(text string) string {
	if len(text) <= MaxModelInputChars {
		return text
	}
	return text[:MaxModelInputChars] + TruncationNotice
}
