package chunk

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// slot pairs one section with the mutex guarding it.
type slot struct {
	mu      deadlock.Mutex
	section *Section
}

// Table holds the SectionCount sections of a column, each behind its own
// lock, so writers to different sections of the same column do not contend.
//
// Whole-column operations take every slot lock in ascending index order with
// LockAll. Callers that need more than one slot must do the same.
type Table struct {
	slots [SectionCount]slot
}

// NewTable returns a table of empty sections.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].section = NewSection()
	}
	return t
}

// Modify runs fn with section i locked. The lock is released when fn returns
// or panics.
func (t *Table) Modify(i int, fn func(*Section)) {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.section)
}

// ModifyValue runs fn with section i locked and returns its result.
func ModifyValue[T any](t *Table, i int, fn func(*Section) T) T {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.section)
}

// LockAll locks every slot in ascending order. The returned guard must be
// released exactly once; extra Release calls are no-ops.
func (t *Table) LockAll() *Locked {
	for i := range t.slots {
		t.slots[i].mu.Lock()
	}
	return &Locked{t: t}
}

// WithAll runs fn with the whole column locked.
func (t *Table) WithAll(fn func(*Locked) error) error {
	l := t.LockAll()
	defer l.Release()
	return fn(l)
}

// Locked is proof that every slot of a Table is held.
type Locked struct {
	t    *Table
	once sync.Once
}

// Section returns section i. The section must not be used after Release.
func (l *Locked) Section(i int) *Section {
	return l.t.slots[i].section
}

// Release unlocks every slot in descending order.
func (l *Locked) Release() {
	l.once.Do(func() {
		for i := len(l.t.slots) - 1; i >= 0; i-- {
			l.t.slots[i].mu.Unlock()
		}
	})
}
