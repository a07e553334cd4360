package threadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tyler-agent/tyler/pkg/models"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds so the stored strings
// sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	attributes TEXT NOT NULL,
	source     TEXT,
	metrics    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_updated_at ON threads(updated_at);
CREATE INDEX IF NOT EXISTS idx_threads_created_at ON threads(created_at);

CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	sequence  INTEGER NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
`

// SQLStore persists threads in SQLite or PostgreSQL. Thread metadata lives
// in columns; message bodies are stored as JSON documents and merged by
// message id on save.
type SQLStore struct {
	db     *sql.DB
	driver string
	echo   bool
	logger *slog.Logger
}

// NewSQLStore opens the configured database, verifies connectivity, and
// applies the schema.
func NewSQLStore(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 5
	}
	db.SetMaxOpenConns(poolSize + cfg.MaxOverflow)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{
		db:     db,
		driver: driver,
		echo:   cfg.Echo,
		logger: logger.With("component", "threadstore", "driver", driver),
	}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreWithDB wraps an existing connection; used by tests.
func NewSQLStoreWithDB(db *sql.DB, driver string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:     db,
		driver: driver,
		logger: logger.With("component", "threadstore", "driver", driver),
	}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for maintenance commands.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Save upserts the thread row and merges its messages by id: new messages
// are inserted and existing ones have their stored document replaced. Rows
// absent from the in-memory thread are left untouched so interleaved savers
// cannot erase each other's messages. Any serialization failure aborts the
// whole save before the transaction starts.
func (s *SQLStore) Save(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread id is required")
	}

	attributes, err := marshalField(thread.Attributes, "attributes")
	if err != nil {
		return err
	}
	source, err := marshalField(thread.Source, "source")
	if err != nil {
		return err
	}
	metrics, err := marshalField(thread.Metrics, "metrics")
	if err != nil {
		return err
	}

	type row struct {
		id       string
		sequence int
		data     []byte
	}
	rows := make([]row, 0, len(thread.Messages))
	for _, msg := range thread.Messages {
		msg.EnsureID()
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("serialize message %s: %w", msg.ID, err)
		}
		rows = append(rows, row{id: msg.ID, sequence: msg.Sequence, data: data})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO threads (id, title, attributes, source, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			attributes = excluded.attributes,
			source = excluded.source,
			metrics = excluded.metrics,
			updated_at = excluded.updated_at
	`),
		thread.ID, thread.Title, attributes, source, metrics,
		thread.CreatedAt.UTC().Format(timeFormat),
		thread.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	existing := map[string]bool{}
	idRows, err := tx.QueryContext(ctx, s.rebind(`SELECT id FROM messages WHERE thread_id = ?`), thread.ID)
	if err != nil {
		return fmt.Errorf("query existing messages: %w", err)
	}
	for idRows.Next() {
		var id string
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return fmt.Errorf("scan message id: %w", err)
		}
		existing[id] = true
	}
	if err := idRows.Err(); err != nil {
		idRows.Close()
		return fmt.Errorf("iterate message ids: %w", err)
	}
	idRows.Close()

	for _, r := range rows {
		if existing[r.id] {
			_, err = tx.ExecContext(ctx,
				s.rebind(`UPDATE messages SET sequence = ?, data = ? WHERE id = ?`),
				r.sequence, r.data, r.id)
		} else {
			_, err = tx.ExecContext(ctx,
				s.rebind(`INSERT INTO messages (id, thread_id, sequence, data) VALUES (?, ?, ?, ?)`),
				r.id, thread.ID, r.sequence, r.data)
		}
		if err != nil {
			return fmt.Errorf("write message %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	if s.echo {
		s.logger.Debug("saved thread", "thread_id", thread.ID, "messages", len(rows))
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	thread := &models.Thread{}
	var attributes, source, metrics []byte
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, attributes, source, metrics, created_at, updated_at
		FROM threads WHERE id = ?
	`), id).Scan(&thread.ID, &thread.Title, &attributes, &source, &metrics, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	if err := unmarshalField(attributes, &thread.Attributes, "attributes"); err != nil {
		return nil, err
	}
	if err := unmarshalField(source, &thread.Source, "source"); err != nil {
		return nil, err
	}
	if err := unmarshalField(metrics, &thread.Metrics, "metrics"); err != nil {
		return nil, err
	}
	if thread.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if thread.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if err := s.loadMessages(ctx, thread); err != nil {
		return nil, err
	}
	thread.Normalize()
	return thread, nil
}

func (s *SQLStore) loadMessages(ctx context.Context, thread *models.Thread) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT data FROM messages WHERE thread_id = ? ORDER BY sequence ASC
	`), thread.ID)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		msg := &models.Message{}
		if err := json.Unmarshal(data, msg); err != nil {
			return fmt.Errorf("deserialize message: %w", err)
		}
		thread.Messages = append(thread.Messages, msg)
	}
	return rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE thread_id = ?`), id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM threads WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]*models.Thread, error) {
	limit, offset = normalizeListArgs(limit, offset)
	return s.queryThreads(ctx, s.rebind(`
		SELECT id FROM threads ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`), limit, offset)
}

func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]*models.Thread, error) {
	return s.List(ctx, limit, 0)
}

// FindByAttributes loads candidate threads and filters in Go: JSON
// predicates differ too much between SQLite and PostgreSQL to share SQL.
func (s *SQLStore) FindByAttributes(ctx context.Context, attributes map[string]any) ([]*models.Thread, error) {
	threads, err := s.queryThreads(ctx, `SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	var out []*models.Thread
	for _, thread := range threads {
		if matchSubset(thread.Attributes, attributes) {
			out = append(out, thread)
		}
	}
	return out, nil
}

func (s *SQLStore) FindBySource(ctx context.Context, sourceName string, properties map[string]any) ([]*models.Thread, error) {
	threads, err := s.queryThreads(ctx, `SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	var out []*models.Thread
	for _, thread := range threads {
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
	return out, nil
}

func (s *SQLStore) ListAttachmentFileIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	refs := map[string]bool{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var doc struct {
			Attachments []struct {
				FileID string `json:"file_id"`
			} `json:"attachments"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("deserialize message: %w", err)
		}
		for _, att := range doc.Attachments {
			if att.FileID != "" {
				refs[att.FileID] = true
			}
		}
	}
	return refs, rows.Err()
}

func (s *SQLStore) queryThreads(ctx context.Context, query string, args ...any) ([]*models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	rows.Close()

	threads := make([]*models.Thread, 0, len(ids))
	for _, id := range ids {
		thread, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			threads = append(threads, thread)
		}
	}
	return threads, nil
}

// rebind converts ? placeholders to $n for the postgres driver.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func marshalField(v any, name string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}
	return data, nil
}

func unmarshalField(data []byte, v any, name string) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("deserialize %s: %w", name, err)
	}
	return nil
}
