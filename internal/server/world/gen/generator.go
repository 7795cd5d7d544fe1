package gen

import (
	"fmt"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Block states are blockID<<4 | metadata.
const (
	stateBedrock   chunk.State = 7 << 4
	stateStone     chunk.State = 1 << 4
	stateGrass     chunk.State = 2 << 4
	stateDirt      chunk.State = 3 << 4
	stateWater     chunk.State = 9 << 4 // stationary
	stateSand      chunk.State = 12 << 4
	stateGravel    chunk.State = 13 << 4
	stateSandstone chunk.State = 24 << 4
)

const seaLevel = 62

// Generator fills freshly created columns with terrain. Generate must be
// deterministic for a given seed and position, and must not retain c.
type Generator interface {
	Generate(c *chunk.Chunk)
	HeightAt(blockX, blockZ int) int
}

// New returns the generator registered under name.
func New(name string, seed int64) (Generator, error) {
	switch name {
	case "default", "":
		return NewDefaultGenerator(seed), nil
	case "flat":
		return NewFlatGenerator(seed), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", name)
	}
}

// columnWriter writes blocks into a column whose table is fully locked.
type columnWriter struct {
	l *chunk.Locked
}

// set stores a generator state. Generator states are non-negative, so Set
// cannot fail.
func (w columnWriter) set(x, y, z int, s chunk.State) {
	_ = w.l.Section(y>>4).Set(chunk.Index(x, y&0xF, z), s)
}

// fill generates the column through fn with every section locked.
func fill(c *chunk.Chunk, fn func(w columnWriter)) {
	_ = c.Table().WithAll(func(l *chunk.Locked) error {
		fn(columnWriter{l: l})
		return nil
	})
}
