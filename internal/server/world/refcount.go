package world

import (
	"fmt"
	"sync/atomic"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// RefUnderflowError is the panic value raised when a reference is released
// more times than it was taken.
type RefUnderflowError struct {
	Pos  chunk.Pos
	Kind string // "strong" or "weak"
}

func (e *RefUnderflowError) Error() string {
	return fmt.Sprintf("%s reference count of chunk %s dropped below zero", e.Kind, e.Pos)
}

// Ref is a resident column together with its reference counts. Strong
// references keep the column loaded; weak references are observers that
// tolerate it being unloaded, subject to the directory's WeakRefPolicy.
type Ref struct {
	c   *chunk.Chunk
	dir *Directory

	strong atomic.Int64
	weak   atomic.Int64
}

func newRef(c *chunk.Chunk, dir *Directory) *Ref {
	return &Ref{c: c, dir: dir}
}

// Chunk returns the wrapped column.
func (r *Ref) Chunk() *chunk.Chunk {
	return r.c
}

func (r *Ref) Pos() chunk.Pos {
	return r.c.Pos()
}

// RefStrong takes a strong reference.
func (r *Ref) RefStrong() {
	r.strong.Add(1)
}

// ReleaseStrong drops a strong reference. When the count reaches zero the
// directory is asked to remove the column by position, so no chunk pointer
// is held across a possible unload.
func (r *Ref) ReleaseStrong() {
	if r.release() == 0 && r.dir != nil {
		r.dir.TryRemove(r.Pos())
	}
}

// release drops a strong reference without asking the directory to remove
// the column. A column left unreferenced this way is collected by
// World.CollectGarbage.
func (r *Ref) release() int64 {
	n := r.strong.Add(-1)
	if n < 0 {
		panic(&RefUnderflowError{Pos: r.Pos(), Kind: "strong"})
	}
	return n
}

// RefWeak takes a weak reference.
func (r *Ref) RefWeak() {
	r.weak.Add(1)
}

// ReleaseWeak drops a weak reference.
func (r *Ref) ReleaseWeak() {
	if r.weak.Add(-1) < 0 {
		panic(&RefUnderflowError{Pos: r.Pos(), Kind: "weak"})
	}
}

func (r *Ref) HasStrongRefs() bool {
	return r.strong.Load() > 0
}

func (r *Ref) HasWeakRefs() bool {
	return r.weak.Load() > 0
}

func (r *Ref) StrongRefs() int64 {
	return r.strong.Load()
}

func (r *Ref) WeakRefs() int64 {
	return r.weak.Load()
}
