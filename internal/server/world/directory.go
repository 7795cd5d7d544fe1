package world

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

const shardCount = 64

// RemoveResult reports what TryRemove did.
type RemoveResult uint8

const (
	// Removed means the column was dropped and unloaded.
	Removed RemoveResult = iota
	// Protected means the column lies in the spawn square and is never
	// removed.
	Protected
	// Retained means the column is still referenced or still loading.
	Retained
	// Absent means no column is resident at the position.
	Absent
)

func (r RemoveResult) String() string {
	switch r {
	case Removed:
		return "removed"
	case Protected:
		return "protected"
	case Retained:
		return "retained"
	case Absent:
		return "absent"
	default:
		return fmt.Sprintf("RemoveResult(%d)", uint8(r))
	}
}

// WeakRefPolicy decides what happens when a column with weak references
// loses its last strong reference.
type WeakRefPolicy uint8

const (
	// WeakRefIgnore unloads the column. Weak holders may observe a column
	// with Unloaded set.
	WeakRefIgnore WeakRefPolicy = iota
	// WeakRefNotify unloads the column after logging and calling the
	// directory's OnWeakEvict hook.
	WeakRefNotify
	// WeakRefBlock keeps the column resident until the weak references are
	// gone and a later TryRemove succeeds.
	WeakRefBlock
)

var weakRefPolicyNames = [...]string{"ignore", "notify", "block"}

func (p WeakRefPolicy) String() string {
	if int(p) < len(weakRefPolicyNames) {
		return weakRefPolicyNames[p]
	}
	return fmt.Sprintf("WeakRefPolicy(%d)", uint8(p))
}

// ParseWeakRefPolicy parses "ignore", "notify" or "block".
func ParseWeakRefPolicy(s string) (WeakRefPolicy, error) {
	for i, name := range weakRefPolicyNames {
		if strings.EqualFold(s, name) {
			return WeakRefPolicy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weak reference policy %q", s)
}

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	Log *slog.Logger
	// SpawnRadius is the half-width in chunks of the square around the
	// origin whose columns are never removed. A negative radius disables
	// spawn protection.
	SpawnRadius   int
	WeakRefPolicy WeakRefPolicy

	// Load produces the column for a position. It is called at most once per
	// residency of a position and never with a shard lock held.
	Load func(pos chunk.Pos) *chunk.Chunk
	// OnUnload runs after a column has left the directory, outside any lock.
	OnUnload func(c *chunk.Chunk)
	// OnWeakEvict runs under WeakRefNotify before a column that still has
	// weak references is unloaded.
	OnWeakEvict func(r *Ref)
}

// entry is a directory slot. ready is closed once ref is set, so callers
// that find an entry still loading wait on it instead of loading again.
//
// An unloading entry marks a column that has left the directory but whose
// OnUnload hook is still running. Its ready is closed once the hook returns,
// and callers looking up the position wait for that before loading it again.
type entry struct {
	ref       *Ref
	ready     chan struct{}
	unloading bool
}

func (e *entry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

type shard struct {
	mu deadlock.RWMutex
	m  map[chunk.Pos]*entry
}

// Directory maps positions to resident columns. Every coordinate is loaded
// exactly once while resident, and a column is only removed once no strong
// reference remains.
type Directory struct {
	conf   DirectoryConfig
	shards [shardCount]shard
}

// NewDirectory returns an empty directory.
func NewDirectory(conf DirectoryConfig) *Directory {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	d := &Directory{conf: conf}
	for i := range d.shards {
		d.shards[i].m = make(map[chunk.Pos]*entry)
	}
	return d
}

func (d *Directory) shard(pos chunk.Pos) *shard {
	return &d.shards[fnv1a.HashUint64(pos.Packed())%shardCount]
}

// Protected reports whether pos lies in the spawn square.
func (d *Directory) Protected(pos chunk.Pos) bool {
	r := d.conf.SpawnRadius
	if r < 0 {
		return false
	}
	return abs(int(pos.X)) <= r && abs(int(pos.Z)) <= r
}

// Get returns the column at pos. If none is resident and generate is set,
// the column is loaded through the Load hook; concurrent callers for the
// same position wait for that single load.
//
// The returned Ref is not pinned: it may be removed as soon as Get returns
// unless the caller already holds a strong reference. Use Acquire to pin.
func (d *Directory) Get(pos chunk.Pos, generate bool) (*Ref, bool) {
	e, ok := d.entry(pos, generate)
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// Acquire is Get followed by RefStrong, performed so that no TryRemove can
// run between the lookup and the increment.
func (d *Directory) Acquire(pos chunk.Pos, generate bool) (*Ref, bool) {
	s := d.shard(pos)
	for {
		e, ok := d.entry(pos, generate)
		if !ok {
			return nil, false
		}
		s.mu.RLock()
		if s.m[pos] == e {
			e.ref.RefStrong()
			s.mu.RUnlock()
			return e.ref, true
		}
		s.mu.RUnlock()
		// Removed after loading; look again.
	}
}

// entry returns the ready entry at pos, loading it if generate is set.
func (d *Directory) entry(pos chunk.Pos, generate bool) (*entry, bool) {
	s := d.shard(pos)
	for {
		s.mu.RLock()
		e, ok := s.m[pos]
		s.mu.RUnlock()
		if ok {
			if e.unloading {
				<-e.ready
				continue
			}
			return d.wait(e)
		}
		if !generate {
			return nil, false
		}

		s.mu.Lock()
		if e, ok := s.m[pos]; ok {
			s.mu.Unlock()
			if e.unloading {
				<-e.ready
				continue
			}
			return d.wait(e)
		}
		e = &entry{ready: make(chan struct{})}
		s.m[pos] = e
		s.mu.Unlock()

		d.load(pos, e)
		return e, true
	}
}

func (d *Directory) wait(e *entry) (*entry, bool) {
	<-e.ready
	if e.ref == nil {
		return nil, false
	}
	return e, true
}

// load fills a placeholder entry. If the Load hook panics the placeholder
// is dropped and waiters see no column.
func (d *Directory) load(pos chunk.Pos, e *entry) {
	defer func() {
		if e.ref == nil {
			s := d.shard(pos)
			s.mu.Lock()
			if s.m[pos] == e {
				delete(s.m, pos)
			}
			s.mu.Unlock()
		}
		close(e.ready)
	}()
	e.ref = newRef(d.conf.Load(pos), d)
}

// Put stores c unless a column is already resident at its position, in which
// case the resident Ref is returned with false.
func (d *Directory) Put(c *chunk.Chunk) (*Ref, bool) {
	pos := c.Pos()
	s := d.shard(pos)

	s.mu.Lock()
	if e, ok := s.m[pos]; ok {
		s.mu.Unlock()
		if e, ok := d.wait(e); ok {
			return e.ref, false
		}
		return d.Put(c)
	}
	e := &entry{ref: newRef(c, d), ready: make(chan struct{})}
	close(e.ready)
	s.m[pos] = e
	s.mu.Unlock()
	return e.ref, true
}

// Apply runs fn on the resident column at pos, outside any directory lock.
// It reports whether a column was found.
func (d *Directory) Apply(pos chunk.Pos, fn func(*Ref)) bool {
	r, ok := d.Get(pos, false)
	if !ok {
		return false
	}
	fn(r)
	return true
}

// TryRemove removes and unloads the column at pos if it is outside the spawn
// square and has no strong references.
func (d *Directory) TryRemove(pos chunk.Pos) RemoveResult {
	if d.Protected(pos) {
		return Protected
	}

	s := d.shard(pos)
	s.mu.Lock()
	e, ok := s.m[pos]
	if !ok {
		s.mu.Unlock()
		return Absent
	}
	if e.unloading {
		s.mu.Unlock()
		return Absent
	}
	if !e.isReady() {
		s.mu.Unlock()
		return Retained
	}
	r := e.ref
	weak := r.HasWeakRefs()
	if r.HasStrongRefs() || weak && d.conf.WeakRefPolicy == WeakRefBlock {
		s.mu.Unlock()
		return Retained
	}
	mark := d.markUnloading(s, pos)
	s.mu.Unlock()
	defer d.unloaded(s, pos, mark)

	if weak && d.conf.WeakRefPolicy == WeakRefNotify {
		d.conf.Log.Warn("unloading chunk with weak references", "chunk", pos, "weak", r.WeakRefs())
		if d.conf.OnWeakEvict != nil {
			d.conf.OnWeakEvict(r)
		}
	}
	d.unload(r)
	return Removed
}

// Remove drops the column at pos regardless of references or spawn
// protection, and unloads it. It is used on shutdown.
func (d *Directory) Remove(pos chunk.Pos) bool {
	s := d.shard(pos)
	s.mu.Lock()
	e, ok := s.m[pos]
	if !ok || e.unloading || !e.isReady() {
		s.mu.Unlock()
		return false
	}
	mark := d.markUnloading(s, pos)
	s.mu.Unlock()
	defer d.unloaded(s, pos, mark)

	d.unload(e.ref)
	return true
}

// markUnloading replaces the entry at pos with an unloading marker. s.mu
// must be held.
func (d *Directory) markUnloading(s *shard, pos chunk.Pos) *entry {
	mark := &entry{ready: make(chan struct{}), unloading: true}
	s.m[pos] = mark
	return mark
}

// unloaded drops the marker left by markUnloading and wakes its waiters.
func (d *Directory) unloaded(s *shard, pos chunk.Pos, mark *entry) {
	s.mu.Lock()
	if s.m[pos] == mark {
		delete(s.m, pos)
	}
	s.mu.Unlock()
	close(mark.ready)
}

func (d *Directory) unload(r *Ref) {
	if r.c.MarkUnloaded() && d.conf.OnUnload != nil {
		d.conf.OnUnload(r.c)
	}
}

// Keys returns the positions of all resident columns.
func (d *Directory) Keys() []chunk.Pos {
	var keys []chunk.Pos
	d.each(func(pos chunk.Pos, _ *Ref) {
		keys = append(keys, pos)
	})
	return keys
}

// Values returns all resident columns.
func (d *Directory) Values() []*Ref {
	var refs []*Ref
	d.each(func(_ chunk.Pos, r *Ref) {
		refs = append(refs, r)
	})
	return refs
}

// Unused returns the positions of resident columns without strong
// references.
func (d *Directory) Unused() []chunk.Pos {
	var keys []chunk.Pos
	d.each(func(pos chunk.Pos, r *Ref) {
		if !r.HasStrongRefs() {
			keys = append(keys, pos)
		}
	})
	return keys
}

// Size returns the number of resident, loading or unloading columns.
func (d *Directory) Size() int {
	n := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// each calls fn for every ready entry, one shard at a time. fn runs with a
// shard read lock held and must not call back into the directory.
func (d *Directory) each(fn func(chunk.Pos, *Ref)) {
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.RLock()
		for pos, e := range s.m {
			if e.isReady() && e.ref != nil {
				fn(pos, e.ref)
			}
		}
		s.mu.RUnlock()
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
