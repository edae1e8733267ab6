package pollinations

import (
	"bytes"
	"encoding/base64"
)

var (
	pngSignature  = []byte("\x89PNG\r\n\x1a\n")
	jpegSignature = []byte{0xff, 0xd8}
)

// SniffImageMIME returns the MIME type of an uploaded image from its magic
// bytes, defaulting to JPEG.
func SniffImageMIME(b []byte) string {
	switch {
	case bytes.HasPrefix(b, pngSignature):
		return "image/png"
	case bytes.HasPrefix(b, jpegSignature):
		return "image/jpeg"
	default:
		return "image/jpeg"
	}
}

// imageDataURL encodes b as a data: URL suitable for a multimodal content part.
func imageDataURL(b []byte) string {
	return "data:" + SniffImageMIME(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}
