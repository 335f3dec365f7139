package storage

import (
	"reflect"
	"testing"
)

func TestWhereEmpty(t *testing.T) {
	var w Where
	if w.SQL() != "" {
		t.Errorf("SQL() = %q, want empty", w.SQL())
	}
	if len(w.Args()) != 0 {
		t.Errorf("Args() = %v, want none", w.Args())
	}
}

func TestWhereCompose(t *testing.T) {
	var w Where
	w.And("user_id = ?", "alice").And("created_at >= ?", "2025-01-01 00:00:00.000")

	if got, want := w.SQL(), "WHERE user_id = ? AND created_at >= ?"; got != want {
		t.Errorf("SQL() = %q, want %q", got, want)
	}
	if got, want := w.Args(), []any{"alice", "2025-01-01 00:00:00.000"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestWhereCloneIsIndependent(t *testing.T) {
	var base Where
	success := base.Clone().And("success = 1")
	if got := success.SQL(); got != "WHERE success = 1" {
		t.Errorf("clone of empty filter = %q", got)
	}
	if base.Len() != 0 {
		t.Errorf("base modified by clone: %q", base.SQL())
	}

	base.And("user_id = ?", "bob")
	ext := base.Clone().And("success = 1")
	if got := ext.SQL(); got != "WHERE user_id = ? AND success = 1" {
		t.Errorf("extended = %q", got)
	}
	if got := base.SQL(); got != "WHERE user_id = ?" {
		t.Errorf("base = %q", got)
	}
}

func TestWhereArgsCopy(t *testing.T) {
	var w Where
	w.And("a = ?", 1)
	args := w.Args()
	args[0] = 2
	if w.Args()[0] != 1 {
		t.Error("Args() exposed internal slice")
	}
}

func TestWherePanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for placeholder mismatch")
		}
	}()
	var w Where
	w.And("user_id = ?")
}
