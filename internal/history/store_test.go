package history

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/kalambet/pdfqa/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTurns(t *testing.T, s *Store, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Save(context.Background(), Turn{
			UserID:   user,
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
			TopK:     4,
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
}

func TestSaveRequiresUser(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Save(context.Background(), Turn{Question: "q", Answer: "a"})
	if !errors.Is(err, ErrUserRequired) {
		t.Errorf("Save without user = %v, want ErrUserRequired", err)
	}
}

func TestSourcesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sources := []storage.Source{
		storage.NewSource("z.pdf", 9),
		{Source: "notes.txt"},
		storage.NewSource("a.pdf", 1),
	}
	id, err := s.Save(ctx, Turn{UserID: "alice", Question: "q", Answer: "a", Sources: sources, TopK: 3})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d turns, want 1", len(got))
	}
	if got[0].ID != id || got[0].TopK != 3 || got[0].Answer != "a" {
		t.Errorf("turn = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].Sources, sources) {
		t.Errorf("sources = %+v, want %+v", got[0].Sources, sources)
	}
}

func TestNilSourcesReadBackEmpty(t *testing.T) {
	s := openTestStore(t)
	saveTurns(t, s, "alice", 1)

	got, err := s.History(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got[0].Sources == nil || len(got[0].Sources) != 0 {
		t.Errorf("sources = %#v, want empty slice", got[0].Sources)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	saveTurns(t, s, "alice", 5)
	saveTurns(t, s, "bob", 2)

	all, err := s.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d turns, want 5", len(all))
	}
	for i, c := range all {
		if c.Question != fmt.Sprintf("q%d", i) {
			t.Errorf("turn %d question = %q", i, c.Question)
		}
	}

	// A limit keeps the most recent turns, oldest first.
	recent, err := s.History(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recent) != 2 || recent[0].Question != "q3" || recent[1].Question != "q4" {
		t.Errorf("History(limit=2) = %+v", recent)
	}
}

func TestHistoryUnknownUser(t *testing.T) {
	s := openTestStore(t)
	got, err := s.History(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("History(nobody) = %#v, want empty slice", got)
	}
}

func TestDeleteAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	saveTurns(t, s, "alice", 3)
	saveTurns(t, s, "bob", 1)

	n, err := s.Count(ctx, "alice")
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	deleted, err := s.Delete(ctx, "alice")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Delete = %d, want 3", deleted)
	}

	got, err := s.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History after delete = %+v", got)
	}
	if n, _ := s.Count(ctx, "bob"); n != 1 {
		t.Errorf("bob's history touched: count %d", n)
	}

	again, err := s.Delete(ctx, "alice")
	if err != nil || again != 0 {
		t.Errorf("second Delete = %d, %v; want 0, nil", again, err)
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i, err)
		}
	}
	got, err := s.SchemaObjects(ctx)
	if err != nil {
		t.Fatalf("SchemaObjects: %v", err)
	}
	want := []string{"table:conversations", "index:idx_conversations_created_at", "index:idx_conversations_user_id", "table:schema_version"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SchemaObjects = %v, want %v", got, want)
	}
}
