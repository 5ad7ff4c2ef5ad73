package normalize

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// fallbackMIME covers extensions the platform MIME table may not know.
var fallbackMIME = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

// textApplicationTypes are application/* types whose bodies are text.
var textApplicationTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/yaml":       true,
	"application/x-yaml":     true,
	"application/toml":       true,
	"application/javascript": true,
	"application/x-sh":       true,
	"application/sql":        true,
}

// isTextType reports whether a type resolved from the extension is text.
func isTextType(mimeType string) bool {
	switch {
	case mimeType == "":
		return false
	case strings.HasPrefix(mimeType, "text/"):
		return true
	case strings.HasSuffix(mimeType, "+json"), strings.HasSuffix(mimeType, "+xml"):
		return true
	}
	return textApplicationTypes[mimeType]
}

// resolveMIME guesses a content type from the filename, sniffing the bytes
// only when the name carries no extension.
func resolveMIME(filename string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return stripParams(t)
		}
		return fallbackMIME[ext]
	}
	return mimetype.Detect(content).String()
}

func stripParams(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// isText reports whether content sniffs as some form of text. The detected
// type is returned for error messages.
func isText(content []byte) (string, bool) {
	detected := mimetype.Detect(content)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return detected.String(), true
		}
	}
	return stripParams(detected.String()), false
}
