package world

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Viewer is the receiving end of a ViewerSet, usually a connected player.
type Viewer interface {
	Position() mgl64.Vec3
	SendPacket(p mcnet.Packet) error
}

// ViewerConfig holds the streaming limits of a ViewerSet.
type ViewerConfig struct {
	Log *slog.Logger
	// BatchCeiling is the largest encoded chunk batch, in bytes, sent as a
	// single message.
	BatchCeiling int
	// CleanThreshold is the known-set size above which Clean evicts. Zero
	// makes every Clean evict.
	CleanThreshold int
	// CleanIterations is the number of shrinking eviction passes per Clean.
	CleanIterations int
	// LoadRate caps new columns per second. Zero disables the limit.
	LoadRate  float64
	LoadBurst int
}

// DefaultViewerConfig returns the standard streaming limits.
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		BatchCeiling:    1_845_152,
		CleanThreshold:  441, // 21×21
		CleanIterations: 4,
	}
}

// ColumnTooLargeError reports a single column whose encoding does not fit
// in one batch.
type ColumnTooLargeError struct {
	Pos     chunk.Pos
	Size    int
	Ceiling int
}

func (e *ColumnTooLargeError) Error() string {
	return fmt.Sprintf("chunk %s encodes to %d bytes, over the %d byte batch ceiling", e.Pos, e.Size, e.Ceiling)
}

// ViewerSet tracks the columns one viewer has been sent. Every known column
// holds one strong reference in the directory until it is evicted or the
// set is cleared.
type ViewerSet struct {
	dir     *Directory
	viewer  Viewer
	conf    ViewerConfig
	limiter *rate.Limiter

	mu deadlock.Mutex
	// known maps positions to whether the column reached the viewer. A
	// known but unsent column failed to encode and is not retried.
	known   *orderedmap.OrderedMap[chunk.Pos, bool]
	offsets []chunk.Pos
	half    int32
}

// NewViewerSet returns an empty set streaming columns from dir to v.
func NewViewerSet(dir *Directory, v Viewer, conf ViewerConfig) *ViewerSet {
	def := DefaultViewerConfig()
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.BatchCeiling <= 0 {
		conf.BatchCeiling = def.BatchCeiling
	}
	if conf.CleanIterations <= 0 {
		conf.CleanIterations = def.CleanIterations
	}
	s := &ViewerSet{
		dir:    dir,
		viewer: v,
		conf:   conf,
		known:  orderedmap.NewOrderedMap[chunk.Pos, bool](),
		half:   -1,
	}
	if conf.LoadRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(conf.LoadRate), max(conf.LoadBurst, 1))
	}
	return s
}

// Viewer returns the viewer the set streams to.
func (s *ViewerSet) Viewer() Viewer {
	return s.viewer
}

// Center returns the position of the column the viewer stands in.
func (s *ViewerSet) Center() chunk.Pos {
	p := s.viewer.Position()
	return chunk.PosOf(int(math.Floor(p[0])), int(math.Floor(p[2])))
}

// Update sends every column of the viewDistance square around the viewer
// that it does not know yet, nearest first. Before a column is sent its 3×3
// neighbourhood is made resident. Columns are grouped into ChunkBatch
// messages no larger than the batch ceiling.
//
// Failures do not stop the update: a column that fails to encode stays
// known but unsent. All failures are joined into the returned error.
func (s *ViewerSet) Update(viewDistance int) error {
	center := s.Center()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		errs []error
		b    = batch{ceiling: s.conf.BatchCeiling}
	)
	for _, off := range s.square(viewDistance) {
		pos := center.Add(off.X, off.Z)
		if _, ok := s.known.Get(pos); ok {
			continue
		}
		if s.limiter != nil && !s.limiter.Allow() {
			break
		}

		for dx := int32(-1); dx <= 1; dx++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx != 0 || dz != 0 {
					s.dir.Get(pos.Add(dx, dz), true)
				}
			}
		}
		r, ok := s.dir.Acquire(pos, true)
		if !ok {
			errs = append(errs, fmt.Errorf("load chunk %s: not available", pos))
			continue
		}
		s.known.Set(pos, false)

		data, err := r.Chunk().AsPacket()
		if err != nil {
			errs = append(errs, fmt.Errorf("encode chunk %s: %w", pos, err))
			continue
		}
		if size := batchSize(1, len(data)); size > b.ceiling {
			errs = append(errs, &ColumnTooLargeError{Pos: pos, Size: size, Ceiling: b.ceiling})
			continue
		}
		if batchSize(len(b.pos)+1, len(b.data)+len(data)) > b.ceiling {
			errs = append(errs, s.flush(&b))
		}
		b.add(pos, data)
	}
	errs = append(errs, s.flush(&b))
	return errors.Join(errs...)
}

// square returns the offsets of the viewDistance square, nearest first. The
// result is cached per distance.
func (s *ViewerSet) square(viewDistance int) []chunk.Pos {
	half := int32(max(viewDistance, 0) / 2)
	if half == s.half {
		return s.offsets
	}

	offsets := make([]chunk.Pos, 0, (2*half+1)*(2*half+1))
	for dx := -half; dx <= half; dx++ {
		for dz := -half; dz <= half; dz++ {
			offsets = append(offsets, chunk.Pos{X: dx, Z: dz})
		}
	}
	var origin chunk.Pos
	slices.SortStableFunc(offsets, func(a, b chunk.Pos) int {
		if c := cmp.Compare(origin.Chebyshev(a), origin.Chebyshev(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.X*a.X+a.Z*a.Z, b.X*b.X+b.Z*b.Z)
	})
	s.offsets, s.half = offsets, half
	return offsets
}

// flush sends the pending batch, if any, and marks its columns as sent.
func (s *ViewerSet) flush(b *batch) error {
	if len(b.pos) == 0 {
		return nil
	}
	defer b.reset()

	err := s.viewer.SendPacket(&packet.ChunkBatch{Count: int32(len(b.pos)), Data: b.data})
	if err != nil {
		return fmt.Errorf("send batch of %d chunks: %w", len(b.pos), err)
	}
	for _, pos := range b.pos {
		s.known.Set(pos, true)
	}
	return nil
}

// Clean evicts columns outside the view distance once the set holds more
// than CleanThreshold columns. Each of up to CleanIterations passes evicts
// every column at or beyond a radius that starts at the farthest known
// distance and shrinks by one per pass, never below viewDistance/2+1. It
// returns the number of evicted columns.
func (s *ViewerSet) Clean(viewDistance int) int {
	center := s.Center()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known.Len() <= s.conf.CleanThreshold {
		return 0
	}

	var farthest int32
	for _, pos := range s.known.Keys() {
		farthest = max(farthest, pos.Chebyshev(center))
	}
	inner := int32(max(viewDistance, 0)/2 + 1)

	evicted := 0
	for i := range s.conf.CleanIterations {
		if s.known.Len() <= s.conf.CleanThreshold {
			break
		}
		radius := max(inner, farthest-int32(i))
		// Deleting while iterating the ordered map is not safe.
		for _, pos := range s.known.Keys() {
			if pos.Chebyshev(center) >= radius {
				s.evict(pos)
				evicted++
			}
		}
	}
	return evicted
}

// evict forgets pos, tells the viewer to unload it and drops the strong
// reference taken by Update.
func (s *ViewerSet) evict(pos chunk.Pos) {
	sent, _ := s.known.Get(pos)
	s.known.Delete(pos)
	if sent {
		if err := s.viewer.SendPacket(&packet.UnloadChunk{ChunkX: pos.X, ChunkZ: pos.Z}); err != nil {
			s.conf.Log.Debug("send unload chunk", "chunk", pos, "error", err)
		}
	}
	s.release(pos)
}

func (s *ViewerSet) release(pos chunk.Pos) {
	if !s.dir.Apply(pos, (*Ref).ReleaseStrong) {
		s.conf.Log.Warn("known chunk missing from directory", "chunk", pos)
	}
}

// Clear releases every known column and empties the set. Calling Clear on
// an empty set does nothing.
func (s *ViewerSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pos := range s.known.Keys() {
		s.known.Delete(pos)
		s.release(pos)
	}
}

// Knows reports whether pos is in the set.
func (s *ViewerSet) Knows(pos chunk.Pos) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known.Get(pos)
	return ok
}

// Len returns the number of known columns.
func (s *ViewerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known.Len()
}

// Locations runs fn with the known map while the set is locked. The map
// maps each position to whether it was sent; fn must not retain it or call
// back into the set.
func (s *ViewerSet) Locations(fn func(known *orderedmap.OrderedMap[chunk.Pos, bool])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.known)
}

// batch accumulates encoded columns for one ChunkBatch message.
type batch struct {
	ceiling int
	pos     []chunk.Pos
	data    []byte
}

// batchSize returns the encoded size of a ChunkBatch message carrying count
// columns totalling n bytes.
func batchSize(count, n int) int {
	return mcnet.VarIntSize(packet.ChunkBatch{}.PacketID()) + mcnet.VarIntSize(int32(count)) + n
}

func (b *batch) add(pos chunk.Pos, data []byte) {
	b.pos = append(b.pos, pos)
	b.data = append(b.data, data...)
}

func (b *batch) reset() {
	b.pos = nil
	b.data = nil
}
