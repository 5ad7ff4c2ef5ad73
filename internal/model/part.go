package model

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartText   PartKind = "text"
	PartBinary PartKind = "binary"
	PartError  PartKind = "error"
)

// Part is one unit of grounding material attached to a model request.
// Exactly one of Text, Binary or Error is meaningful, selected by Kind.
type Part struct {
	Kind   PartKind
	Text   string
	Binary *Blob
	Error  string
}

// Blob is binary content forwarded to the model untouched.
type Blob struct {
	MIMEType string
	Data     []byte
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func BinaryPart(mimeType string, data []byte) Part {
	return Part{Kind: PartBinary, Binary: &Blob{MIMEType: mimeType, Data: data}}
}

func ErrorPart(message string) Part {
	return Part{Kind: PartError, Error: message}
}

// AsText renders text and error parts as plain text. Binary parts yield "".
func (p Part) AsText() string {
	switch p.Kind {
	case PartText:
		return p.Text
	case PartError:
		return p.Error
	default:
		return ""
	}
}
