// Package contenttype maps request paths to media types by file extension.
//
// A fixed table covers the formats mesh page servers commonly host so results
// do not depend on the host's mime.types files; anything else falls back to
// the standard library registry. Parameters such as "charset" are stripped.
package contenttype

import (
	"mime"
	"path"
	"strings"
)

// Default is returned by ForPath when the extension is unknown.
const Default = "application/octet-stream"

var builtin = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".txt":   "text/plain",
	".md":    "text/markdown",
	".mu":    "text/micron",
	".css":   "text/css",
	".csv":   "text/csv",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".wasm":  "application/wasm",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".svg":   "image/svg+xml",
	".ico":   "image/vnd.microsoft.icon",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".opus":  "audio/opus",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ByExtension returns the media type for p's extension, or "" when unknown.
// Query strings and fragments are ignored.
func ByExtension(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	if t, ok := builtin[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mediaType
}

// ForPath is ByExtension with Default as the fallback.
func ForPath(p string) string {
	if t := ByExtension(p); t != "" {
		return t
	}
	return Default
}
