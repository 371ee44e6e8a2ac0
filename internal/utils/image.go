package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectScanImageType detects the MIME type of an uploaded scan image from
// its magic bytes, falling back to the filename extension for formats
// http.DetectContentType cannot identify.
func DetectScanImageType(data []byte, filename string) string {
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}
	if bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}) {
		return "image/png"
	}

	sniffLen := len(data)
	if sniffLen > 512 {
		sniffLen = 512
	}
	mimeType := http.DetectContentType(data[:sniffLen])

	if mimeType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".png":
			return "image/png"
		case ".webp":
			return "image/webp"
		}
	}

	return mimeType
}

// IsSupportedScanImage reports whether the uploaded bytes look like an
// image format the inference layer can consume.
func IsSupportedScanImage(data []byte, filename string) bool {
	switch DetectScanImageType(data, filename) {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

// EncodeImageDataURL encodes scan image bytes as a data URL for model
// requests that take inline images.
func EncodeImageDataURL(mimeType string, data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)
}
