package normalize

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoDocument = errors.New("word/document.xml not found in package")

// extractDocx returns the text of each top-level body paragraph, joined by
// newlines. Tables, headers and text boxes are not included.
func extractDocx(content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		paragraphs, err := parseParagraphs(rc)
		if err != nil {
			return "", err
		}
		return strings.Join(paragraphs, "\n"), nil
	}
	return "", errNoDocument
}

// parseParagraphs streams document.xml and collects run content of body
// paragraphs. Runs may sit directly in the paragraph or inside a hyperlink.
func parseParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		stack      []string
		paragraphs []string
		current    strings.Builder
		inText     bool
	)

	// inRun reports whether the element on top of the stack is a run of a
	// body paragraph: document/body/p/r or document/body/p/hyperlink/r.
	inRun := func() bool {
		n := len(stack)
		if n < 4 || stack[n-1] != "r" {
			return false
		}
		if stack[0] != "document" || stack[1] != "body" {
			return false
		}
		switch n {
		case 4:
			return stack[2] == "p"
		case 5:
			return stack[2] == "p" && stack[3] == "hyperlink"
		}
		return false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if inRun() {
				switch name {
				case "t":
					inText = true
				case "tab":
					current.WriteByte('\t')
				case "br", "cr":
					current.WriteByte('\n')
				}
			}
			stack = append(stack, name)
			if len(stack) == 3 && stack[1] == "body" && name == "p" {
				current.Reset()
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if name == "t" {
				inText = false
			}
			if len(stack) == 2 && stack[1] == "body" && name == "p" {
				paragraphs = append(paragraphs, current.String())
			}

		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	if len(stack) != 0 {
		return nil, errors.New("invalid document.xml: unexpected end of document")
	}
	return paragraphs, nil
}
