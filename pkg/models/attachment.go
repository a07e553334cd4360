package models

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// BlobGetter resolves stored attachment bytes by file id and storage path.
// The local file store satisfies this; other backends may too.
type BlobGetter interface {
	Get(ctx context.Context, id, storagePath string) ([]byte, error)
}

// Attachment is a file bound to a message. It starts with inline content and,
// once persisted, holds only a storage reference; serialized forms omit the
// raw bytes whenever a file id is present.
type Attachment struct {
	Filename         string         `json:"filename"`
	MimeType         string         `json:"mime_type,omitempty"`
	Content          []byte         `json:"-"`
	ProcessedContent map[string]any `json:"processed_content,omitempty"`
	FileID           string         `json:"file_id,omitempty"`
	StoragePath      string         `json:"storage_path,omitempty"`
	StorageBackend   string         `json:"storage_backend,omitempty"`
}

// Stored reports whether the attachment bytes live in a file store.
func (a *Attachment) Stored() bool {
	return a.FileID != ""
}

// GetContentBytes resolves the attachment bytes. Resolution prefers the
// storage backend when a file id is set, then falls back to inline content.
func (a *Attachment) GetContentBytes(ctx context.Context, store BlobGetter) ([]byte, error) {
	if a.FileID != "" {
		if store == nil {
			return nil, errors.New("attachment is stored but no file store was provided")
		}
		return store.Get(ctx, a.FileID, a.StoragePath)
	}
	if a.Content != nil {
		return a.Content, nil
	}
	return nil, fmt.Errorf("attachment %q has no content", a.Filename)
}

// attachmentJSON is the wire form. Content is carried as base64 and is only
// written when the attachment has not been persisted to a file store.
type attachmentJSON struct {
	Filename         string         `json:"filename"`
	MimeType         string         `json:"mime_type,omitempty"`
	Content          string         `json:"content,omitempty"`
	ProcessedContent map[string]any `json:"processed_content,omitempty"`
	FileID           string         `json:"file_id,omitempty"`
	StoragePath      string         `json:"storage_path,omitempty"`
	StorageBackend   string         `json:"storage_backend,omitempty"`
}

// MarshalJSON omits content iff file_id is set.
func (a Attachment) MarshalJSON() ([]byte, error) {
	out := attachmentJSON{
		Filename:         a.Filename,
		MimeType:         a.MimeType,
		ProcessedContent: a.ProcessedContent,
		FileID:           a.FileID,
		StoragePath:      a.StoragePath,
		StorageBackend:   a.StorageBackend,
	}
	if a.FileID == "" && len(a.Content) > 0 {
		out.Content = base64.StdEncoding.EncodeToString(a.Content)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts base64 content, falling back to the literal UTF-8
// bytes for payloads written before content was base64-encoded.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	var in attachmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.Filename = in.Filename
	a.MimeType = in.MimeType
	a.ProcessedContent = in.ProcessedContent
	a.FileID = in.FileID
	a.StoragePath = in.StoragePath
	a.StorageBackend = in.StorageBackend
	a.Content = nil
	if in.Content != "" {
		if decoded, err := base64.StdEncoding.DecodeString(in.Content); err == nil {
			a.Content = decoded
		} else if utf8.ValidString(in.Content) {
			a.Content = []byte(in.Content)
		} else {
			return fmt.Errorf("attachment %q: undecodable content", in.Filename)
		}
	}
	return nil
}
