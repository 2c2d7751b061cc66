package models

import (
	"bytes"
	"strings"
)

// Target formats accepted by the conversion API. The engine accepts soffice
// filter suffixes ("pdf:writer_pdf_Export"); the bare extension is the part
// before the colon.
var targetFormats = map[string]string{
	"pdf":  "application/pdf",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"odt":  "application/vnd.oasis.opendocument.text",
	"html": "text/html",
	"txt":  "text/plain",
}

// FormatExtension returns the file extension a target format produces.
func FormatExtension(target string) string {
	ext, _, _ := strings.Cut(target, ":")
	return strings.ToLower(ext)
}

// ValidTargetFormat reports whether the API accepts this target format.
func ValidTargetFormat(target string) bool {
	_, ok := targetFormats[FormatExtension(target)]
	return ok
}

// FormatContentType returns the MIME type for a target format, or an empty
// string for unknown formats.
func FormatContentType(target string) string {
	return targetFormats[FormatExtension(target)]
}

// Leading-byte signatures per output extension. DOCX and ODT are zip
// containers, so both share the PK header.
var formatSignatures = map[string][][]byte{
	"pdf":  {[]byte("%PDF-")},
	"docx": {{0x50, 0x4B, 0x03, 0x04}},
	"odt":  {{0x50, 0x4B, 0x03, 0x04}},
}

// ValidOutput reports whether data plausibly is a document of the target
// format: non-empty, and matching the format's magic bytes when one is
// defined. Text formats only require non-empty output.
func ValidOutput(target string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sigs, ok := formatSignatures[FormatExtension(target)]
	if !ok {
		return true
	}
	for _, sig := range sigs {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	return false
}
