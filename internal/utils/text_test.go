package utils

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "drops blank lines",
			input:    "line one\n\n\nline two\n",
			expected: "line one\nline two",
		},
		{
			name:     "trims each line",
			input:    "  padded line  \n\ttabbed\t",
			expected: "padded line\ntabbed",
		},
		{
			name:     "whitespace only becomes empty",
			input:    "   \n\t\n  ",
			expected: "",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "clinical note kept intact",
			input:    "BP 150/95 mmHg\n\nCreatinine 2.1 mg/dL",
			expected: "BP 150/95 mmHg\nCreatinine 2.1 mg/dL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanText(tt.input)
			if got != tt.expected {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDecodeTextUpload(t *testing.T) {
	if got := DecodeTextUpload([]byte("plain ascii")); got != "plain ascii" {
		t.Errorf("DecodeTextUpload ascii = %q", got)
	}

	// Invalid UTF-8 bytes become replacement characters instead of failing
	got := DecodeTextUpload([]byte{'h', 'i', 0xFF, 0xFE, '!'})
	if !strings.Contains(got, "hi") || !strings.Contains(got, "!") {
		t.Errorf("DecodeTextUpload should keep valid bytes, got %q", got)
	}
	if !strings.ContainsRune(got, '�') {
		t.Errorf("DecodeTextUpload should replace invalid bytes, got %q", got)
	}
}

func TestTruncateForModel(t *testing.T) {
	short := "short document"
	if got := TruncateForModel(short); got != short {
		t.Errorf("TruncateForModel should not touch short input")
	}

	long := strings.Repeat("a", MaxModelInputChars+500)
	got := TruncateForModel(long)

	if !strings.HasSuffix(got, TruncationNotice) {
		t.Error("truncated input should end with the truncation notice")
	}
	if len(got) != MaxModelInputChars+len(TruncationNotice) {
		t.Errorf("truncated length = %d, want %d", len(got), MaxModelInputChars+len(TruncationNotice))
	}

	// Exactly at the limit is untouched
	exact := strings.Repeat("b", MaxModelInputChars)
	if got := TruncateForModel(exact); got != exact {
		t.Error("input exactly at the limit should not be truncated")
	}
}

func TestDetectScanImageType(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	if got := DetectScanImageType(jpeg, "scan.bin"); got != "image/jpeg" {
		t.Errorf("JPEG magic bytes detected as %q", got)
	}

	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if got := DetectScanImageType(png, "scan.bin"); got != "image/png" {
		t.Errorf("PNG magic bytes detected as %q", got)
	}

	if IsSupportedScanImage([]byte("just some text"), "notes.txt") {
		t.Error("plain text should not pass as a scan image")
	}
	if !IsSupportedScanImage(png, "chest.png") {
		t.Error("PNG bytes should pass as a scan image")
	}
}

func TestEncodeImageDataURL(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	url := EncodeImageDataURL(DetectScanImageType(png, "chest.png"), png)

	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("data URL prefix wrong: %q", url[:40])
	}
}
