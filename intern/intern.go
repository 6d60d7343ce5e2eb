// Package intern gives strings cheap, comparable identity.
//
// FuncInst identity and dot-graph node labels are both keyed by source
// position strings; interning them once means later comparisons and map
// lookups are integer operations instead of string operations.
package intern

import "sync"

// ID is an interned string handle. The zero ID is reserved and never
// returned by Table.Intern for a non-empty string.
type ID uint32

// Table interns strings into small integers, such that Intern(x) == Intern(y)
// iff x == y. The zero Table is ready to use.
type Table struct {
	mu sync.Mutex
	m  map[string]ID
	s  []string
}

// Intern returns the ID for str, allocating a new one if str has not been
// seen before.
func (t *Table) Intern(str string) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[string]ID)
		// Reserve 0 so the zero ID can mean "absent" without
		// colliding with a real interned string.
		t.s = append(t.s, "")
	}
	if id, ok := t.m[str]; ok {
		return id
	}
	id := ID(len(t.s))
	t.s = append(t.s, str)
	t.m[str] = id
	return id
}

// String returns the string that id was interned from.
func (t *Table) String(id ID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.s) {
		return ""
	}
	return t.s[id]
}
