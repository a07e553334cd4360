package fileproc

import (
	"encoding/base64"
)

// processImage inlines the image as base64 so it can be projected into a
// multimodal chat message without another read from storage.
func processImage(content []byte, mimeType string) (map[string]any, error) {
	return map[string]any{
		"type":      TypeImage,
		"mime_type": mimeType,
		"content":   base64.StdEncoding.EncodeToString(content),
	}, nil
}
