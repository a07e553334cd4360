package agent

import (
	"context"
	"fmt"

	"github.com/tyler-agent/tyler/internal/filestore"
	"github.com/tyler-agent/tyler/pkg/models"
)

// processAttachments runs the attachment pipeline over every message in the
// thread that still carries unprocessed attachments: detect the MIME type,
// persist the bytes to the file store, and extract processed content. A
// failure on one attachment is recorded on that attachment and never fails
// the turn.
func (a *Agent) processAttachments(ctx context.Context, thread *models.Thread) error {
	for _, msg := range thread.Messages {
		if len(msg.Attachments) == 0 {
			continue
		}
		a.storeAndProcess(ctx, msg)
	}
	return nil
}

// storeAndProcess handles one message's attachments. Attachments that are
// already stored and processed are left alone.
func (a *Agent) storeAndProcess(ctx context.Context, msg *models.Message) {
	for _, att := range msg.Attachments {
		if att.Stored() && att.ProcessedContent != nil {
			continue
		}

		content, err := att.GetContentBytes(ctx, a.files)
		if err != nil {
			a.logger.Error("failed to resolve attachment content",
				"filename", att.Filename, "error", err)
			att.ProcessedContent = processingError(err)
			continue
		}

		if att.MimeType == "" {
			att.MimeType = filestore.DetectMimeType(content, att.Filename, "")
		}

		if !att.Stored() && a.files != nil {
			stored, err := a.files.Save(ctx, content, att.Filename, att.MimeType)
			if err != nil {
				a.logger.Error("failed to store attachment",
					"filename", att.Filename, "error", err)
				att.ProcessedContent = processingError(err)
				continue
			}
			att.FileID = stored.ID
			att.MimeType = stored.MimeType
			att.StoragePath = stored.StoragePath
			att.StorageBackend = stored.StorageBackend
		}

		if att.ProcessedContent != nil {
			continue
		}
		processed, err := a.proc.Process(ctx, content, att.Filename, att.MimeType)
		if err != nil {
			a.logger.Warn("failed to process attachment",
				"filename", att.Filename, "mime_type", att.MimeType, "error", err)
			att.ProcessedContent = processingError(err)
			continue
		}
		if att.Stored() && att.StoragePath != "" {
			processed["url"] = "file://" + att.StoragePath
		}
		att.ProcessedContent = processed
	}
}

func processingError(err error) map[string]any {
	return map[string]any{"error": fmt.Sprintf("Failed to process file: %v", err)}
}
