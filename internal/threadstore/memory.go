package threadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tyler-agent/tyler/pkg/models"
)

// MemoryStore keeps threads in process memory. Threads are stored as deep
// copies so callers cannot mutate persisted state through retained pointers.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
}

// NewMemoryStore creates an empty in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: map[string]*models.Thread{}}
}

func (m *MemoryStore) Save(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread id is required")
	}
	clone, err := cloneThread(thread)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[thread.ID] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok {
		return nil, nil
	}
	return cloneThread(thread)
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return false, nil
	}
	delete(m.threads, id)
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*models.Thread, error) {
	limit, offset = normalizeListArgs(limit, offset)

	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedByUpdatedLocked()
	if offset >= len(sorted) {
		return []*models.Thread{}, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return cloneThreads(sorted[offset:end])
}

func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*models.Thread, error) {
	return m.List(ctx, limit, 0)
}

func (m *MemoryStore) FindByAttributes(ctx context.Context, attributes map[string]any) ([]*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Thread
	for _, thread := range m.sortedByUpdatedLocked() {
		if matchSubset(thread.Attributes, attributes) {
			out = append(out, thread)
		}
	}
	return cloneThreads(out)
}

func (m *MemoryStore) FindBySource(ctx context.Context, sourceName string, properties map[string]any) ([]*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Thread
	for _, thread := range m.sortedByUpdatedLocked() {
		if thread.Source == nil {
			continue
		}
		if name, _ := thread.Source["name"].(string); name != sourceName {
			continue
		}
		if matchSubset(thread.Source, properties) {
			out = append(out, thread)
		}
	}
	return cloneThreads(out)
}

func (m *MemoryStore) ListAttachmentFileIDs(ctx context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := map[string]bool{}
	for _, thread := range m.threads {
		for _, msg := range thread.Messages {
			for _, att := range msg.Attachments {
				if att.FileID != "" {
					refs[att.FileID] = true
				}
			}
		}
	}
	return refs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) sortedByUpdatedLocked() []*models.Thread {
	out := make([]*models.Thread, 0, len(m.threads))
	for _, thread := range m.threads {
		out = append(out, thread)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// cloneThread round-trips through JSON, the same serialization the SQL
// store uses, so both backends share failure modes.
func cloneThread(thread *models.Thread) (*models.Thread, error) {
	data, err := json.Marshal(thread)
	if err != nil {
		return nil, fmt.Errorf("serialize thread: %w", err)
	}
	var clone models.Thread
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("deserialize thread: %w", err)
	}
	clone.Normalize()
	return &clone, nil
}

func cloneThreads(threads []*models.Thread) ([]*models.Thread, error) {
	out := make([]*models.Thread, 0, len(threads))
	for _, thread := range threads {
		clone, err := cloneThread(thread)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}
