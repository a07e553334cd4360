// Package threadstore persists conversation threads. Two implementations
// exist: an in-memory store for tests and local runs, and a SQL store
// backed by SQLite or PostgreSQL.
package threadstore

import (
	"context"
	"errors"
	"reflect"

	"github.com/tyler-agent/tyler/pkg/models"
)

// ErrThreadNotFound is returned by operations that require an existing thread.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the thread persistence interface.
//
// Get returns (nil, nil) when the thread does not exist; callers that need
// an error use ErrThreadNotFound themselves. Delete reports whether a
// thread was actually removed.
type Store interface {
	Save(ctx context.Context, thread *models.Thread) error
	Get(ctx context.Context, id string) (*models.Thread, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.Thread, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Thread, error)
	FindByAttributes(ctx context.Context, attributes map[string]any) ([]*models.Thread, error)
	FindBySource(ctx context.Context, sourceName string, properties map[string]any) ([]*models.Thread, error)

	// ListAttachmentFileIDs feeds the file store's orphan cleanup.
	ListAttachmentFileIDs(ctx context.Context) (map[string]bool, error)

	Close() error
}

const defaultListLimit = 100

func normalizeListArgs(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// matchSubset reports whether every key in want is present in got with an
// equal value. Used by the attribute and source finders.
func matchSubset(got, want map[string]any) bool {
	for k, v := range want {
		g, ok := got[k]
		if !ok || !reflect.DeepEqual(g, v) {
			return false
		}
	}
	return true
}
