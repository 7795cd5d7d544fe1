package gen

import "github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"

var flatLayers = [...]chunk.State{stateBedrock, stateStone, stateStone, stateDirt, stateGrass}

// FlatGenerator generates a superflat world: bedrock at y=0, stone y=1..2,
// dirt y=3, grass y=4.
type FlatGenerator struct{}

func NewFlatGenerator(_ int64) *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) Generate(c *chunk.Chunk) {
	fill(c, func(w columnWriter) {
		for x := range 16 {
			for z := range 16 {
				for y, s := range flatLayers {
					w.set(x, y, z, s)
				}
			}
		}
	})
	for x := range 16 {
		for z := range 16 {
			c.SetBiome(x, z, biomePlains)
		}
	}
}

func (g *FlatGenerator) HeightAt(_, _ int) int {
	return len(flatLayers) - 1
}
