// Package filestore persists attachment bytes under generated ids with
// size, quota, and MIME policy enforcement.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors raised by store operations.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum size")
	ErrStorageFull         = errors.New("storage quota exceeded")
	ErrFileNotFound        = errors.New("file not found")
)

// BackendLocal identifies the sharded-filesystem backend.
const BackendLocal = "local"

const shardDirPerm = 0o755

// StoredFile describes a persisted blob. The returned struct is the only
// metadata record; the filesystem carries no sidecars.
type StoredFile struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mime_type"`
	StoragePath    string         `json:"storage_path"`
	StorageBackend string         `json:"storage_backend"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata"`
}

// Health reports the outcome of a store self-check.
type Health struct {
	Healthy   bool     `json:"healthy"`
	TotalSize int64    `json:"total_size"`
	FileCount int      `json:"file_count"`
	Errors    []string `json:"errors,omitempty"`
}

// AttachmentIndex lists the file ids referenced by any stored message
// attachment. The thread store satisfies this for orphan cleanup.
type AttachmentIndex interface {
	ListAttachmentFileIDs(ctx context.Context) (map[string]bool, error)
}

// LocalStore keeps blobs in a sharded directory tree:
// <base>/<id[0:2]>/<id[2:]>.<ext>.
type LocalStore struct {
	config Config
	logger *slog.Logger

	// Serializes quota accounting; individual file writes are independent.
	mu sync.Mutex
}

// NewLocalStore creates the store and its base directory.
func NewLocalStore(cfg Config, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BasePath == "" {
		cfg = DefaultConfig()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxStorageSize <= 0 {
		cfg.MaxStorageSize = DefaultMaxStorageSize
	}
	if len(cfg.AllowedMimeTypes) == 0 {
		cfg.AllowedMimeTypes = DefaultAllowedMimeTypes
	}
	if err := os.MkdirAll(cfg.BasePath, shardDirPerm); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &LocalStore{
		config: cfg,
		logger: logger.With("component", "filestore"),
	}, nil
}

// Save validates and persists content, returning the metadata record.
func (s *LocalStore) Save(ctx context.Context, content []byte, filename, mimeType string) (*StoredFile, error) {
	if int64(len(content)) > s.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(content), s.config.MaxFileSize)
	}

	detected := DetectMimeType(content, filename, mimeType)
	if !s.mimeAllowed(detected) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, detected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used, _, err := s.scan()
	if err != nil {
		return nil, fmt.Errorf("scan storage: %w", err)
	}
	if used+int64(len(content)) > s.config.MaxStorageSize {
		return nil, fmt.Errorf("%w: %d used, %d incoming, %d limit",
			ErrStorageFull, used, len(content), s.config.MaxStorageSize)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	relPath := s.shardPath(id, filename)
	absPath := filepath.Join(s.config.BasePath, relPath)

	if err := os.MkdirAll(filepath.Dir(absPath), shardDirPerm); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	s.logger.Debug("stored file", "id", id, "filename", filename, "size", len(content))
	return &StoredFile{
		ID:             id,
		Filename:       filename,
		MimeType:       detected,
		StoragePath:    relPath,
		StorageBackend: BackendLocal,
		CreatedAt:      time.Now().UTC(),
		Metadata:       map[string]any{"size": int64(len(content))},
	}, nil
}

// Get reads back stored bytes. A provided storage path is preferred; the
// sharded path derived from the id is the fallback.
func (s *LocalStore) Get(ctx context.Context, id, storagePath string) ([]byte, error) {
	for _, candidate := range s.candidatePaths(id, storagePath) {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
}

// Delete removes a stored file and, best effort, its emptied shard directory.
func (s *LocalStore) Delete(ctx context.Context, id, storagePath string) error {
	for _, candidate := range s.candidatePaths(id, storagePath) {
		err := os.Remove(candidate)
		if err == nil {
			// Removing the shard dir fails while siblings remain, which is fine.
			_ = os.Remove(filepath.Dir(candidate))
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete file: %w", err)
		}
	}
	return fmt.Errorf("%w: %s", ErrFileNotFound, id)
}

// BatchSave persists multiple files concurrently, preserving input order.
// Each element of the result is either a stored record or its error.
func (s *LocalStore) BatchSave(ctx context.Context, items []BatchItem) ([]*StoredFile, []error) {
	files := make([]*StoredFile, len(items))
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, it BatchItem) {
			defer wg.Done()
			files[idx], errs[idx] = s.Save(ctx, it.Content, it.Filename, it.MimeType)
		}(i, item)
	}
	wg.Wait()
	return files, errs
}

// BatchItem is one entry of a BatchSave request.
type BatchItem struct {
	Content  []byte
	Filename string
	MimeType string
}

// BatchDelete removes multiple files concurrently.
func (s *LocalStore) BatchDelete(ctx context.Context, ids []string) []error {
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(idx int, fileID string) {
			defer wg.Done()
			errs[idx] = s.Delete(ctx, fileID, "")
		}(i, id)
	}
	wg.Wait()
	return errs
}

// GetStorageSize returns the total bytes currently stored.
func (s *LocalStore) GetStorageSize(ctx context.Context) (int64, error) {
	size, _, err := s.scan()
	return size, err
}

// GetFileCount returns the number of stored files.
func (s *LocalStore) GetFileCount(ctx context.Context) (int, error) {
	_, count, err := s.scan()
	return count, err
}

// CheckHealth verifies the base path is usable and reports totals.
func (s *LocalStore) CheckHealth(ctx context.Context) Health {
	h := Health{Healthy: true}

	probe := filepath.Join(s.config.BasePath, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		h.Healthy = false
		h.Errors = append(h.Errors, fmt.Sprintf("base path not writable: %v", err))
	} else {
		_ = os.Remove(probe)
	}

	size, count, err := s.scan()
	if err != nil {
		h.Healthy = false
		h.Errors = append(h.Errors, fmt.Sprintf("scan failed: %v", err))
		return h
	}
	h.TotalSize = size
	h.FileCount = count
	if size > s.config.MaxStorageSize {
		h.Healthy = false
		h.Errors = append(h.Errors, fmt.Sprintf("storage over quota: %d > %d", size, s.config.MaxStorageSize))
	}
	return h
}

// CleanupOrphanedFiles deletes stored files no message attachment references.
func (s *LocalStore) CleanupOrphanedFiles(ctx context.Context, index AttachmentIndex) (int, []error) {
	referenced, err := index.ListAttachmentFileIDs(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("list attachment refs: %w", err)}
	}

	var deleted int
	var errs []error
	err = filepath.WalkDir(s.config.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		id := idFromPath(s.config.BasePath, path)
		if id == "" || referenced[id] {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, rmErr))
			return nil
		}
		_ = os.Remove(filepath.Dir(path))
		deleted++
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("walk storage: %w", err))
	}
	if deleted > 0 {
		s.logger.Info("cleaned orphaned files", "deleted", deleted)
	}
	return deleted, errs
}

// BasePath exposes the configured root, mainly for the CLI stats command.
func (s *LocalStore) BasePath() string {
	return s.config.BasePath
}

func (s *LocalStore) mimeAllowed(mimeType string) bool {
	for _, allowed := range s.config.AllowedMimeTypes {
		if strings.EqualFold(allowed, mimeType) {
			return true
		}
	}
	return false
}

// shardPath builds <id[0:2]>/<id[2:]>.<ext> relative to the base path.
func (s *LocalStore) shardPath(id, filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	name := id[2:]
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(id[:2], name)
}

func (s *LocalStore) candidatePaths(id, storagePath string) []string {
	var out []string
	if storagePath != "" {
		if filepath.IsAbs(storagePath) {
			out = append(out, storagePath)
		} else {
			out = append(out, filepath.Join(s.config.BasePath, storagePath))
		}
	}
	if len(id) > 2 {
		// Without the original filename the extension is unknown, so glob
		// the shard for the id stem.
		pattern := filepath.Join(s.config.BasePath, id[:2], id[2:]+"*")
		if matches, err := filepath.Glob(pattern); err == nil {
			out = append(out, matches...)
		}
	}
	return out
}

func (s *LocalStore) scan() (int64, int, error) {
	var size int64
	var count int
	err := filepath.WalkDir(s.config.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		count++
		return nil
	})
	return size, count, err
}

// idFromPath recovers the file id from a sharded path.
func idFromPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || len(parts[0]) != 2 {
		return ""
	}
	stem := parts[1]
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return parts[0] + stem
}

// DetectMimeType resolves a MIME type from the hint, the filename
// extension, or the content bytes, in that order.
func DetectMimeType(content []byte, filename, hint string) string {
	if hint != "" {
		return hint
	}
	if ext := filepath.Ext(filename); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if i := strings.IndexByte(byExt, ';'); i >= 0 {
				byExt = byExt[:i]
			}
			return byExt
		}
	}
	sniffed := http.DetectContentType(content)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}
