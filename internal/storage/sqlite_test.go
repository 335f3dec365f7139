package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"testing/fstest"
	"time"
)

var testMigrations = fstest.MapFS{
	"migrations/0001_init.sql": {Data: []byte(`
CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
`)},
	"migrations/0002_tags.sql": {Data: []byte(`
CREATE TABLE IF NOT EXISTS tags (
	note_id INTEGER NOT NULL REFERENCES notes(id),
	tag TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
`)},
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(MemoryPath, testMigrations)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.EnsureSchema(ctx); err != nil {
		t.Fatalf("first EnsureSchema: %v", err)
	}
	first, err := d.SchemaObjects(ctx)
	if err != nil {
		t.Fatalf("SchemaObjects: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := d.EnsureSchema(ctx); err != nil {
			t.Fatalf("repeat EnsureSchema #%d: %v", i, err)
		}
	}
	again, err := d.SchemaObjects(ctx)
	if err != nil {
		t.Fatalf("SchemaObjects: %v", err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Errorf("schema changed after repeat: %v -> %v", first, again)
	}

	want := []string{"index:idx_notes_created_at", "index:idx_tags_tag", "table:notes", "table:schema_version", "table:tags"}
	if !reflect.DeepEqual(again, want) {
		t.Errorf("SchemaObjects = %v, want %v", again, want)
	}
}

func TestMigrationsReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	ctx := context.Background()

	d1, err := Open(path, testMigrations)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := d1.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	d1.Close()

	d2, err := Open(path, testMigrations)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer d2.Close()

	v2, err := d2.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if !reflect.DeepEqual(v1, []int{1, 2}) || !reflect.DeepEqual(v1, v2) {
		t.Errorf("migrations = %v then %v, want [1 2] both times", v1, v2)
	}
}

func TestConcurrentFirstUse(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.WithConn(ctx, func(conn *sql.Conn) error {
				_, err := conn.ExecContext(ctx, "INSERT INTO notes (body) VALUES (?)", "hello")
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	versions, err := d.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("applied %d migrations, want 2", len(versions))
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO notes (body) VALUES ('partial')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var n int
	err = d.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&n)
	})
	if err != nil {
		t.Fatalf("counting notes: %v", err)
	}
	if n != 0 {
		t.Errorf("notes = %d after rollback, want 0", n)
	}
}

func TestWithConnReleasesConnection(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	// With a single pooled connection, a leaked conn would block the next call.
	for i := 0; i < 5; i++ {
		err := d.WithConn(ctx, func(conn *sql.Conn) error {
			return errors.New("fail")
		})
		if err == nil {
			t.Fatal("expected error from callback")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.WithConn(ctx, func(conn *sql.Conn) error { return nil }); err != nil {
		t.Fatalf("connection was not released: %v", err)
	}
}

func TestEnsureSchemaBadMigration(t *testing.T) {
	bad := fstest.MapFS{
		"migrations/0001_bad.sql": {Data: []byte("CREATE TABLE oops (")},
	}
	d, err := Open(MemoryPath, bad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	err = d.WithConn(context.Background(), func(conn *sql.Conn) error { return nil })
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("X", 3600))
	s := FormatTime(in)
	if s != "2025-03-04 04:06:07.890" {
		t.Errorf("FormatTime = %q", s)
	}
	out, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if got := Since(in, 2); got != "2025-03-02 04:06:07.890" {
		t.Errorf("Since = %q", got)
	}
}
