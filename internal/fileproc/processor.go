// Package fileproc turns raw attachment bytes into the structured
// processed_content stored on a message attachment.
package fileproc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Processed content types.
const (
	TypeImage    = "image"
	TypeDocument = "document"
	TypeAudio    = "audio"
	TypeBinary   = "binary"
)

// Processor dispatches attachment content to a type-specific handler based
// on MIME type.
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger.With("component", "fileproc")}
}

// Process extracts structured content from raw bytes. The returned map is
// stored verbatim as the attachment's processed_content.
func (p *Processor) Process(ctx context.Context, content []byte, filename, mimeType string) (map[string]any, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty content for %s", filename)
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return processImage(content, mimeType)
	case mimeType == "application/pdf":
		return processPDF(content)
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml":
		return processText(content, mimeType)
	case strings.HasPrefix(mimeType, "audio/"):
		return map[string]any{
			"type":      TypeAudio,
			"mime_type": mimeType,
			"overview":  fmt.Sprintf("Audio file %s (%d bytes)", filename, len(content)),
		}, nil
	default:
		p.logger.Debug("no extractor for mime type", "mime_type", mimeType, "filename", filename)
		return map[string]any{
			"type":      TypeBinary,
			"mime_type": mimeType,
			"overview":  fmt.Sprintf("Binary file %s (%d bytes)", filename, len(content)),
		}, nil
	}
}

// overviewOf condenses extracted text into a short single-line summary.
func overviewOf(text string) string {
	const max = 150
	line := strings.Join(strings.Fields(text), " ")
	runes := []rune(line)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return line
}
