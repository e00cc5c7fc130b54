package session

import "github.com/remote-agent-terminal/dashboard/internal/model"

// table is the insertion-ordered set of tracked sessions. It is not safe for
// concurrent use; the Reconciler's mutex guards it.
type table struct {
	order   []string
	entries map[string]model.Session
}

func newTable() *table {
	return &table{entries: make(map[string]model.Session)}
}

func (t *table) has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// put inserts s at the end, or overwrites it in place when already tracked.
func (t *table) put(s model.Session) {
	if !t.has(s.Name) {
		t.order = append(t.order, s.Name)
	}
	t.entries[s.Name] = s
}

func (t *table) remove(name string) {
	if !t.has(name) {
		return
	}
	delete(t.entries, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// list returns a copy of the entries in order.
func (t *table) list() []model.Session {
	out := make([]model.Session, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name])
	}
	return out
}

func (t *table) len() int {
	return len(t.order)
}
