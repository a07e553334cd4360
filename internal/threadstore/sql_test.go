package threadstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tyler-agent/tyler/pkg/models"
)

func mockStore(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStoreWithDB(db, driver, nil), mock
}

func TestSQLStoreSaveInsertsNewMessages(t *testing.T) {
	store, mock := mockStore(t, "sqlite")

	thread := models.NewThread()
	thread.AddMessage(models.NewMessage(models.RoleUser, models.TextContent("hello")))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO threads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM messages WHERE thread_id").
		WithArgs(thread.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), thread); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreSaveMergesMessagesByID(t *testing.T) {
	store, mock := mockStore(t, "sqlite")

	thread := models.NewThread()
	kept := models.NewMessage(models.RoleUser, models.TextContent("kept"))
	added := models.NewMessage(models.RoleAssistant, models.TextContent("added"))
	thread.AddMessage(kept)
	thread.AddMessage(added)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO threads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The database holds the kept message plus one written by another saver
	// that this thread copy never saw. The foreign row must survive the save.
	mock.ExpectQuery("SELECT id FROM messages WHERE thread_id").
		WithArgs(thread.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(kept.ID).
			AddRow("concurrent-message-id"))
	mock.ExpectExec("UPDATE messages SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), thread); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Expectations are ordered; a DELETE for the foreign row would have
	// failed the UPDATE or INSERT match above.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreGetMissingReturnsNil(t *testing.T) {
	store, mock := mockStore(t, "sqlite")

	mock.ExpectQuery("SELECT id, title, attributes").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing thread, got %+v", got)
	}
}

func TestSQLStoreDeleteReportsRemoval(t *testing.T) {
	store, mock := mockStore(t, "sqlite")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages WHERE thread_id").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM threads WHERE id").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := store.Delete(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages WHERE thread_id").
		WithArgs("t2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM threads WHERE id").
		WithArgs("t2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	deleted, err = store.Delete(context.Background(), "t2")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted {
		t.Fatalf("expected delete of missing thread to report false")
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	store, _ := mockStore(t, "postgres")
	got := store.rebind("SELECT data FROM messages WHERE thread_id = ? AND sequence > ?")
	want := "SELECT data FROM messages WHERE thread_id = $1 AND sequence > $2"
	if got != want {
		t.Fatalf("rebind() = %q, want %q", got, want)
	}

	sqlite, _ := mockStore(t, "sqlite")
	passthrough := "SELECT 1 WHERE a = ?"
	if got := sqlite.rebind(passthrough); got != passthrough {
		t.Fatalf("sqlite rebind should be a no-op, got %q", got)
	}
}

func TestConfigDSN(t *testing.T) {
	driver, dsn, err := DefaultConfig().DSN()
	if err != nil {
		t.Fatalf("DSN() error = %v", err)
	}
	if driver != "sqlite" || dsn != "file:tyler?mode=memory&cache=shared" {
		t.Fatalf("unexpected default DSN: %s %s", driver, dsn)
	}

	pg := Config{Type: DBTypePostgres, Host: "db", Port: 5433, Name: "tyler", User: "u", Password: "p"}
	driver, dsn, err = pg.DSN()
	if err != nil {
		t.Fatalf("DSN() error = %v", err)
	}
	if driver != "postgres" {
		t.Fatalf("driver = %q", driver)
	}
	want := "host=db port=5433 user=u password=p dbname=tyler sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}

	if _, _, err := (Config{Type: "oracle"}).DSN(); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
