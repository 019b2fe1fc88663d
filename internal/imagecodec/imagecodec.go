// Package imagecodec turns camera frames into compressed artifacts and
// artifacts into a text-safe transport form.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultQuality is the JPEG quality used for captured frames.
const DefaultQuality = 90

const MimeJPEG = "image/jpeg"

// EncodeJPEG compresses img. Quality values outside 1..100 fall back to
// DefaultQuality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("no frame to encode")
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("frame has empty bounds %v", b)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeTransport validates that data is a supported image and returns its
// base64 form.
func EncodeTransport(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image payload")
	}
	if _, ok := SniffMIME(data); !ok {
		return "", fmt.Errorf("payload is not a supported image")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func DecodeTransport(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transport image: %w", err)
	}
	return data, nil
}

// allowedTypes is the set of MIME types accepted as image artifacts.
// http.DetectContentType recognises JPEG, PNG and GIF; WebP is checked
// separately because the WHATWG sniffing table has no WebP signature.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// SniffMIME returns the detected MIME type and true if data is an accepted
// image format, or ("", false) otherwise.
func SniffMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedTypes[mime] {
		return mime, true
	}
	return "", false
}

func ExtForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func MIMEForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return MimeJPEG
	}
}
