package storage

import (
	"fmt"
	"strings"
)

// Where accumulates ANDed SQL conditions together with their positional
// arguments. Conditions are constant SQL fragments using "?" placeholders;
// values only ever travel in the argument list. The zero value is an empty
// filter.
type Where struct {
	conds []string
	args  []any
}

// And appends cond. It panics if the number of placeholders in cond does not
// match len(args).
func (w *Where) And(cond string, args ...any) *Where {
	if n := strings.Count(cond, "?"); n != len(args) {
		panic(fmt.Sprintf("storage: condition %q has %d placeholders, got %d args", cond, n, len(args)))
	}
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
	return w
}

// Len returns the number of conditions.
func (w *Where) Len() int {
	return len(w.conds)
}

// SQL renders the clause: "" when empty, otherwise "WHERE c1 AND c2 ...".
func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// Args returns a copy of the argument list in placeholder order.
func (w *Where) Args() []any {
	out := make([]any, len(w.args))
	copy(out, w.args)
	return out
}

// Clone returns an independent copy that can be extended without affecting w.
func (w *Where) Clone() *Where {
	return &Where{
		conds: append([]string(nil), w.conds...),
		args:  append([]any(nil), w.args...),
	}
}
