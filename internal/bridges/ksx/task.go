package ksx

import "github.com/nerrad567/gray-logic-homenet/internal/property"

// TaskFunc turns requested property values into protocol actions.
//
// req holds the caller's requested values over the committed ones; out is
// the staged view that will be committed once every task has run. It
// reports whether it did meaningful work.
type TaskFunc func(req property.Reader, out property.Map) bool

// TaskTable maps property names to tasks. It is filled once when the
// context is built; a task bound to several names runs once per request.
type TaskTable struct {
	tasks  []TaskFunc
	byName map[string]int
}

func newTaskTable() *TaskTable {
	return &TaskTable{byName: make(map[string]int)}
}

// Bind registers fn for names, replacing earlier bindings of those names.
func (t *TaskTable) Bind(fn TaskFunc, names ...string) {
	id := len(t.tasks)
	t.tasks = append(t.tasks, fn)
	for _, name := range names {
		t.byName[name] = id
	}
}

// Reflect binds a task that copies the requested value straight to out.
func (t *TaskTable) Reflect(names ...string) {
	for _, name := range names {
		t.Bind(reflectTask(name), name)
	}
}

// lookup returns the distinct tasks for names in first-seen order.
func (t *TaskTable) lookup(names []string) []TaskFunc {
	seen := make(map[int]bool, len(names))
	out := make([]TaskFunc, 0, len(names))
	for _, name := range names {
		id, ok := t.byName[name]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, t.tasks[id])
	}
	return out
}

func (t *TaskTable) has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

func reflectTask(name string) TaskFunc {
	return func(req property.Reader, out property.Map) bool {
		v, ok := req.Get(name)
		if !ok {
			return false
		}
		return out.Put(v)
	}
}
