package utils

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	// MaxPDFPages limits the number of pages to process
	MaxPDFPages = 100

	// MaxExtractedTextSize limits the extracted text size (1MB)
	MaxExtractedTextSize = 1024 * 1024
)

// ExtractPDFText extracts text from an uploaded PDF document. Pages are
// labelled and separated by blank lines. Pages that fail extraction are
// skipped rather than failing the whole document.
func ExtractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	if totalPages > MaxPDFPages {
		return "", fmt.Errorf("PDF has too many pages (%d), max allowed is %d", totalPages, MaxPDFPages)
	}

	pages := make([]string, 0, totalPages)
	size := 0

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages with extraction errors, don't fail completely
			continue
		}

		cleaned := cleanPDFText(text)
		if cleaned == "" {
			continue
		}

		pages = append(pages, fmt.Sprintf("[Page %d]\n%s", pageNum, cleaned))
		size += len(cleaned)

		if size > MaxExtractedTextSize {
			pages = append(pages, "... [Content truncated - size limit reached]")
			break
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// cleanPDFText cleans extracted PDF text
func cleanPDFText(text string) string {
	// Remove null bytes
	text = strings.ReplaceAll(text, "\x00", "")

	// Normalize whitespace
	text = normalizeWhitespace(text)

	// Trim
	text = strings.TrimSpace(text)

	return text
}

// normalizeWhitespace normalizes whitespace in text
func normalizeWhitespace(text string) string {
	var result strings.Builder
	lastWasSpace := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				// Preserve newlines, convert other spaces to single space
				if r == '\n' {
					result.WriteRune('\n')
					lastWasSpace = false
				} else {
					result.WriteRune(' ')
					lastWasSpace = true
				}
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}
