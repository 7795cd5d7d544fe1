package world

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/getsentry/sentry-go"
	"github.com/sasha-s/go-deadlock"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

// ticksPerDay is the length of a day-night cycle.
const ticksPerDay = 24000

// ErrChunkNotLoaded is returned for block access in a column that is not
// resident.
var ErrChunkNotLoaded = errors.New("chunk not loaded")

// Provider persists columns. LoadChunk returns an error wrapping
// storage.ErrNotFound for columns that were never saved.
type Provider interface {
	LoadChunk(pos chunk.Pos, skylight bool) (*chunk.Chunk, error)
	SaveChunk(c *chunk.Chunk) error
}

// Config configures a World.
type Config struct {
	Log       *slog.Logger
	Generator gen.Generator
	// Provider is optional. Without one, unloaded columns are discarded.
	Provider Provider
	// Skylight is set for dimensions whose sections carry sky light.
	Skylight      bool
	SpawnRadius   int
	WeakRefPolicy WeakRefPolicy
	OnWeakEvict   func(r *Ref)
}

// World owns the chunk directory of one dimension and the viewer sets
// streaming from it.
type World struct {
	conf Config
	log  *slog.Logger
	dir  *Directory

	viewersMu deadlock.RWMutex
	viewers   map[*ViewerSet]struct{}

	timeMu    deadlock.Mutex
	age       int64
	timeOfDay int64
}

// New creates a World from conf.
func New(conf Config) *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	w := &World{
		conf:    conf,
		log:     conf.Log,
		viewers: make(map[*ViewerSet]struct{}),
	}
	w.dir = NewDirectory(DirectoryConfig{
		Log:           conf.Log,
		SpawnRadius:   conf.SpawnRadius,
		WeakRefPolicy: conf.WeakRefPolicy,
		Load:          w.GenerateChunk,
		OnUnload:      w.unload,
		OnWeakEvict:   conf.OnWeakEvict,
	})
	return w
}

// Directory returns the world's chunk directory.
func (w *World) Directory() *Directory {
	return w.dir
}

// GenerateChunk produces the column at pos, reading it from the provider
// when one is stored there and running the generator otherwise. A stored
// column that fails to load is regenerated.
func (w *World) GenerateChunk(pos chunk.Pos) *chunk.Chunk {
	if w.conf.Provider != nil {
		c, err := w.conf.Provider.LoadChunk(pos, w.conf.Skylight)
		switch {
		case err == nil:
			return c
		case errors.Is(err, storage.ErrNotFound):
		default:
			w.log.Error("load chunk: regenerating", "chunk", pos, "error", err)
			sentry.CaptureException(err)
		}
	}
	c := chunk.New(pos, w.conf.Skylight)
	w.conf.Generator.Generate(c)
	return c
}

func (w *World) unload(c *chunk.Chunk) {
	if w.conf.Provider == nil {
		return
	}
	if err := w.conf.Provider.SaveChunk(c); err != nil {
		w.log.Error("save unloaded chunk", "chunk", c.Pos(), "error", err)
		sentry.CaptureException(err)
		return
	}
	w.log.Debug("unloaded chunk", "chunk", c.Pos())
}

// PreGenerate makes every column within radius of the origin resident and
// returns how many were visited.
func (w *World) PreGenerate(radius int) int {
	n := 0
	for x := -radius; x <= radius; x++ {
		for z := -radius; z <= radius; z++ {
			if _, ok := w.dir.Get(chunk.Pos{X: int32(x), Z: int32(z)}, true); ok {
				n++
			}
		}
	}
	return n
}

// SetBlock changes the block at world coordinates x, y, z and sends the
// change to every viewer that knows the column. The column must be
// resident, and it stays resident after the edit even when nothing else
// references it.
func (w *World) SetBlock(x, y, z int, state chunk.State) error {
	pos := chunk.PosOf(x, z)
	r, ok := w.dir.Acquire(pos, false)
	if !ok {
		return fmt.Errorf("set block %d,%d,%d: %w", x, y, z, ErrChunkNotLoaded)
	}
	defer r.release()

	if err := r.Chunk().SetBlock(x&0xF, y, z&0xF, state); err != nil {
		return err
	}
	w.broadcast(pos, &packet.BlockChange{
		Location: mcnet.EncodePosition(x, y, z),
		BlockID:  int32(state),
	})
	return nil
}

// Block returns the block at world coordinates x, y, z, and false if the
// column is not resident.
func (w *World) Block(x, y, z int) (chunk.State, bool) {
	r, ok := w.dir.Get(chunk.PosOf(x, z), false)
	if !ok {
		return chunk.Air, false
	}
	return r.Chunk().Block(x&0xF, y, z&0xF), true
}

func (w *World) broadcast(pos chunk.Pos, p mcnet.Packet) {
	for _, s := range w.viewerSets() {
		if !s.Knows(pos) {
			continue
		}
		if err := s.Viewer().SendPacket(p); err != nil {
			w.log.Debug("broadcast to viewer", "chunk", pos, "error", err)
		}
	}
}

// NewViewerSet registers a viewer set streaming this world to v.
func (w *World) NewViewerSet(v Viewer, conf ViewerConfig) *ViewerSet {
	if conf.Log == nil {
		conf.Log = w.log
	}
	s := NewViewerSet(w.dir, v, conf)

	w.viewersMu.Lock()
	w.viewers[s] = struct{}{}
	w.viewersMu.Unlock()
	return s
}

// Detach unregisters s and releases everything it holds.
func (w *World) Detach(s *ViewerSet) {
	w.viewersMu.Lock()
	delete(w.viewers, s)
	w.viewersMu.Unlock()
	s.Clear()
}

func (w *World) viewerSets() []*ViewerSet {
	w.viewersMu.RLock()
	defer w.viewersMu.RUnlock()
	return slices.Collect(maps.Keys(w.viewers))
}

// CollectGarbage removes every resident column without strong references,
// such as neighbours loaded for a viewer that has since moved on. It returns
// the number of columns removed.
func (w *World) CollectGarbage() int {
	n := 0
	for _, pos := range w.dir.Unused() {
		if w.dir.TryRemove(pos) == Removed {
			n++
		}
	}
	return n
}

// Tick advances the world clock by one tick. A negative time of day is
// frozen. It returns the new age and time of day.
func (w *World) Tick() (age, timeOfDay int64) {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	w.age++
	if w.timeOfDay >= 0 {
		w.timeOfDay = (w.timeOfDay + 1) % ticksPerDay
	}
	return w.age, w.timeOfDay
}

// Time returns the world age and time of day.
func (w *World) Time() (age, timeOfDay int64) {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.age, w.timeOfDay
}

func (w *World) SetTime(age, timeOfDay int64) {
	w.timeMu.Lock()
	w.age, w.timeOfDay = age, timeOfDay
	w.timeMu.Unlock()
}

// SetTimeOfDay changes the time of day. A negative value freezes the clock
// at its absolute value.
func (w *World) SetTimeOfDay(timeOfDay int64) {
	w.timeMu.Lock()
	w.timeOfDay = timeOfDay
	w.timeMu.Unlock()
}

// SpawnHeight returns the y a player spawning at the origin stands on.
func (w *World) SpawnHeight() int {
	r, ok := w.dir.Get(chunk.Pos{}, true)
	if !ok {
		return w.conf.Generator.HeightAt(0, 0) + 1
	}
	return r.Chunk().HighestBlock(0, 0) + 1
}

// Save writes every resident column to the provider.
func (w *World) Save() error {
	if w.conf.Provider == nil {
		return nil
	}
	var errs []error
	for _, r := range w.dir.Values() {
		if err := w.conf.Provider.SaveChunk(r.Chunk()); err != nil {
			errs = append(errs, fmt.Errorf("save chunk %s: %w", r.Pos(), err))
		}
	}
	return errors.Join(errs...)
}

// Close detaches every viewer set and unloads every resident column,
// persisting each through the provider.
func (w *World) Close() {
	for _, s := range w.viewerSets() {
		w.Detach(s)
	}
	keys := w.dir.Keys()
	for _, pos := range keys {
		w.dir.Remove(pos)
	}
	w.log.Info("closed world", "chunks", len(keys))
}
