// Package normalize turns raw drive file bytes into model parts the LLM
// backends understand.
package normalize

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jun/drivechat/internal/model"
)

// DefaultMaxSheetRows is how many rows of each worksheet are extracted.
const DefaultMaxSheetRows = 50

// Normalizer converts a file into one or more parts. It never returns an
// empty slice: failures become a single Error part.
type Normalizer struct {
	MaxSheetRows int
}

// New creates a Normalizer with default limits.
func New() *Normalizer {
	return &Normalizer{MaxSheetRows: DefaultMaxSheetRows}
}

// Normalize dispatches on the file extension (case-insensitive) and, when
// that is inconclusive, on the sniffed content type.
func (n *Normalizer) Normalize(filename string, content []byte) []model.Part {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".docx":
		text, err := extractDocx(content)
		if err != nil {
			return []model.Part{model.ErrorPart(fmt.Sprintf("Error reading DOCX %s: %v", filename, err))}
		}
		return []model.Part{model.TextPart(fmt.Sprintf("Filename: %s (Extracted Content)\n%s", filename, text))}

	case ".xlsx":
		text, err := extractXlsx(content, n.maxRows())
		if err != nil {
			return []model.Part{model.ErrorPart(fmt.Sprintf("Error reading XLSX %s: %v", filename, err))}
		}
		return []model.Part{model.TextPart(fmt.Sprintf("Filename: %s (Extracted Content)\n%s", filename, text))}
	}

	mimeType := resolveMIME(filename, content)
	if ext == ".pdf" || strings.HasPrefix(mimeType, "image/") {
		return []model.Part{
			model.TextPart(fmt.Sprintf("Filename: %s", filename)),
			model.BinaryPart(mimeType, content),
		}
	}

	// A text extension is trusted; control bytes in a log or note are not
	// a reason to drop the file.
	if isTextType(mimeType) {
		return []model.Part{model.TextPart(fmt.Sprintf("Filename: %s\nContent:\n%s", filename, decodeLossy(content)))}
	}
	if detected, ok := isText(content); !ok {
		return []model.Part{model.ErrorPart(fmt.Sprintf("Skipping file %s: Unsupported format (%s)", filename, detected))}
	}
	return []model.Part{model.TextPart(fmt.Sprintf("Filename: %s\nContent:\n%s", filename, decodeLossy(content)))}
}

func (n *Normalizer) maxRows() int {
	if n.MaxSheetRows <= 0 {
		return DefaultMaxSheetRows
	}
	return n.MaxSheetRows
}

// decodeLossy decodes UTF-8, replacing each invalid byte sequence with U+FFFD.
func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
