package filestore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T, mutate func(*Config)) *LocalStore {
	t.Helper()
	cfg := Config{
		BasePath:         t.TempDir(),
		MaxFileSize:      DefaultMaxFileSize,
		MaxStorageSize:   DefaultMaxStorageSize,
		AllowedMimeTypes: DefaultAllowedMimeTypes,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := NewLocalStore(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return store
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()

	content := []byte("hello world")
	file, err := store.Save(ctx, content, "note.txt", "text/plain")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if file.StorageBackend != BackendLocal {
		t.Fatalf("unexpected backend %q", file.StorageBackend)
	}
	if file.MimeType != "text/plain" {
		t.Fatalf("unexpected mime type %q", file.MimeType)
	}

	// Sharded layout: <id[0:2]>/<id[2:]>.txt
	wantPath := filepath.Join(file.ID[:2], file.ID[2:]+".txt")
	if file.StoragePath != wantPath {
		t.Fatalf("storage path %q, want %q", file.StoragePath, wantPath)
	}

	got, err := store.Get(ctx, file.ID, file.StoragePath)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: %q", got)
	}

	// Retrieval by id alone works without the recorded path.
	got, err = store.Get(ctx, file.ID, "")
	if err != nil {
		t.Fatalf("Get() by id error = %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch by id: %q", got)
	}
}

func TestSaveRejectsOversizeFile(t *testing.T) {
	store := testStore(t, func(c *Config) { c.MaxFileSize = 8 })
	_, err := store.Save(context.Background(), []byte("way too many bytes"), "a.txt", "text/plain")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSaveRejectsUnsupportedMime(t *testing.T) {
	store := testStore(t, func(c *Config) { c.AllowedMimeTypes = []string{"text/plain"} })
	_, err := store.Save(context.Background(), []byte("bin"), "a.bin", "application/x-msdownload")
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
}

func TestSaveEnforcesStorageQuota(t *testing.T) {
	store := testStore(t, func(c *Config) { c.MaxStorageSize = 20 })
	ctx := context.Background()

	if _, err := store.Save(ctx, []byte("0123456789"), "a.txt", "text/plain"); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	_, err := store.Save(ctx, []byte("0123456789AB"), "b.txt", "text/plain")
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("expected ErrStorageFull, got %v", err)
	}
}

func TestDeleteRemovesFileAndShardDir(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()

	file, err := store.Save(ctx, []byte("bye"), "a.txt", "text/plain")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, file.ID, file.StoragePath); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, file.ID, file.StoragePath); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.BasePath(), file.ID[:2])); !os.IsNotExist(err) {
		t.Fatalf("empty shard dir not removed")
	}

	if err := store.Delete(ctx, "0123456789abcdef", ""); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound for missing id, got %v", err)
	}
}

func TestBatchSaveAndDelete(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()

	items := []BatchItem{
		{Content: []byte("one"), Filename: "1.txt", MimeType: "text/plain"},
		{Content: []byte("two"), Filename: "2.txt", MimeType: "text/plain"},
		{Content: []byte("three"), Filename: "3.txt", MimeType: "text/plain"},
	}
	files, errs := store.BatchSave(ctx, items)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("BatchSave()[%d] error = %v", i, err)
		}
		if files[i] == nil {
			t.Fatalf("BatchSave()[%d] returned nil file", i)
		}
	}

	count, err := store.GetFileCount(ctx)
	if err != nil {
		t.Fatalf("GetFileCount() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 files, got %d", count)
	}

	ids := []string{files[0].ID, files[1].ID, files[2].ID}
	for i, err := range store.BatchDelete(ctx, ids) {
		if err != nil {
			t.Fatalf("BatchDelete()[%d] error = %v", i, err)
		}
	}
	count, _ = store.GetFileCount(ctx)
	if count != 0 {
		t.Fatalf("expected empty store, got %d files", count)
	}
}

func TestStorageAccounting(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()

	if _, err := store.Save(ctx, []byte("12345"), "a.txt", "text/plain"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Save(ctx, []byte("1234567"), "b.txt", "text/plain"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	size, err := store.GetStorageSize(ctx)
	if err != nil {
		t.Fatalf("GetStorageSize() error = %v", err)
	}
	if size != 12 {
		t.Fatalf("expected 12 bytes, got %d", size)
	}
}

func TestCheckHealth(t *testing.T) {
	store := testStore(t, nil)
	h := store.CheckHealth(context.Background())
	if !h.Healthy {
		t.Fatalf("expected healthy store: %+v", h)
	}
}

type staticIndex map[string]bool

func (s staticIndex) ListAttachmentFileIDs(ctx context.Context) (map[string]bool, error) {
	return s, nil
}

func TestCleanupOrphanedFiles(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()

	kept, err := store.Save(ctx, []byte("referenced"), "keep.txt", "text/plain")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	orphan, err := store.Save(ctx, []byte("orphaned"), "drop.txt", "text/plain")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deleted, errs := store.CleanupOrphanedFiles(ctx, staticIndex{kept.ID: true})
	if len(errs) != 0 {
		t.Fatalf("CleanupOrphanedFiles() errors = %v", errs)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 orphan deleted, got %d", deleted)
	}
	if _, err := store.Get(ctx, kept.ID, kept.StoragePath); err != nil {
		t.Fatalf("referenced file removed: %v", err)
	}
	if _, err := store.Get(ctx, orphan.ID, orphan.StoragePath); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("orphan still present: %v", err)
	}
}

func TestDetectMimeType(t *testing.T) {
	if got := DetectMimeType(nil, "a.txt", "application/pdf"); got != "application/pdf" {
		t.Fatalf("hint not honored: %q", got)
	}
	if got := DetectMimeType(nil, "a.json", ""); got != "application/json" {
		t.Fatalf("extension lookup failed: %q", got)
	}
	sniffed := DetectMimeType([]byte("\x89PNG\r\n\x1a\n0000"), "noext", "")
	if sniffed != "image/png" {
		t.Fatalf("content sniff failed: %q", sniffed)
	}
	if strings.Contains(sniffed, ";") {
		t.Fatalf("mime parameters not stripped: %q", sniffed)
	}
}
