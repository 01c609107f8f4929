package extdata

import (
	"path/filepath"
	"strings"
)

// DefaultMimeTypes maps lower-case file extensions (without dot) to the mime
// types media files are recorded with.
var DefaultMimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"webm": "video/webm",
	"ogv":  "video/ogg",
	"mov":  "video/quicktime",
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
}

// MimeTypes resolves file names to mime types.
type MimeTypes map[string]string

// Merge returns the defaults overlaid with extra. Keys are normalized.
func Merge(extra map[string]string) MimeTypes {
	out := make(MimeTypes, len(DefaultMimeTypes)+len(extra))
	for ext, mt := range DefaultMimeTypes {
		out[ext] = mt
	}
	for ext, mt := range extra {
		out[normalizeExt(ext)] = mt
	}
	return out
}

// Lookup returns the mime type of name and whether its extension is known.
func (m MimeTypes) Lookup(name string) (string, bool) {
	mt, ok := m[normalizeExt(filepath.Ext(name))]
	return mt, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
