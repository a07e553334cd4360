package fileproc

import (
	"fmt"
	"unicode/utf8"
)

// maxTextBytes caps how much extracted text is stored per attachment.
const maxTextBytes = 1 << 20

// processText treats the bytes as UTF-8 text.
func processText(content []byte, mimeType string) (map[string]any, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("content is not valid utf-8")
	}
	if len(content) > maxTextBytes {
		content = content[:maxTextBytes]
		// Trim a possibly split trailing rune.
		for len(content) > 0 && !utf8.Valid(content) {
			content = content[:len(content)-1]
		}
	}
	text := string(content)
	return map[string]any{
		"type":      TypeDocument,
		"mime_type": mimeType,
		"text":      text,
		"overview":  overviewOf(text),
	}, nil
}
