package models

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeBlobStore struct {
	blobs map[string][]byte
}

func (f *fakeBlobStore) Get(ctx context.Context, id, storagePath string) ([]byte, error) {
	if b, ok := f.blobs[id]; ok {
		return b, nil
	}
	return nil, context.Canceled
}

func TestAttachmentMarshalOmitsContentWhenStored(t *testing.T) {
	att := &Attachment{
		Filename: "doc.pdf",
		MimeType: "application/pdf",
		Content:  []byte("%PDF-1.4 fake"),
	}

	data, err := json.Marshal(att)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"content"`) {
		t.Fatalf("expected inline content before storage: %s", data)
	}

	att.FileID = "abc123"
	att.StoragePath = "ab/c123.pdf"
	att.StorageBackend = "local"
	data, err = json.Marshal(att)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), `"content"`) {
		t.Fatalf("content must be omitted once file_id is set: %s", data)
	}
	if !strings.Contains(string(data), `"file_id":"abc123"`) {
		t.Fatalf("file_id missing from serialized form: %s", data)
	}
}

func TestAttachmentGetContentBytesPriority(t *testing.T) {
	original := []byte("raw bytes")

	inline := &Attachment{Filename: "a.txt", Content: original}
	got, err := inline.GetContentBytes(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetContentBytes() error = %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("inline bytes mismatch")
	}

	stored := &Attachment{Filename: "a.txt", FileID: "id1", Content: []byte("stale")}
	store := &fakeBlobStore{blobs: map[string][]byte{"id1": original}}
	got, err = stored.GetContentBytes(context.Background(), store)
	if err != nil {
		t.Fatalf("GetContentBytes() error = %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("stored backend must win over inline content")
	}

	empty := &Attachment{Filename: "a.txt"}
	if _, err := empty.GetContentBytes(context.Background(), nil); err == nil {
		t.Fatal("expected error for attachment without content")
	}
}

func TestAttachmentUnmarshalBase64AndLegacy(t *testing.T) {
	var att Attachment
	if err := json.Unmarshal([]byte(`{"filename":"a.txt","content":"aGVsbG8="}`), &att); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if string(att.Content) != "hello" {
		t.Fatalf("expected base64 decode, got %q", att.Content)
	}

	// Legacy payloads carried literal text.
	var legacy Attachment
	if err := json.Unmarshal([]byte(`{"filename":"a.txt","content":"not base64!!"}`), &legacy); err != nil {
		t.Fatalf("Unmarshal() legacy error = %v", err)
	}
	if string(legacy.Content) != "not base64!!" {
		t.Fatalf("expected UTF-8 fallback, got %q", legacy.Content)
	}
}
