package gen

import "github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"

// DefaultGenerator produces rolling simplex terrain whose amplitude and
// surface depend on the biome.
type DefaultGenerator struct {
	terrain  *NoiseGenerator
	detail   *NoiseGenerator
	biomeGen *BiomeGenerator
}

func NewDefaultGenerator(seed int64) *DefaultGenerator {
	return &DefaultGenerator{
		terrain:  NewNoiseGenerator(seed),
		detail:   NewNoiseGenerator(seed + 1),
		biomeGen: NewBiomeGenerator(seed),
	}
}

func (g *DefaultGenerator) Generate(c *chunk.Chunk) {
	pos := c.Pos()
	var biomes [16][16]byte

	fill(c, func(w columnWriter) {
		for x := range 16 {
			for z := range 16 {
				bx, bz := int(pos.X)*16+x, int(pos.Z)*16+z
				biome := g.biomeGen.BiomeAt(bx, bz)
				biomes[x][z] = biome
				g.fillColumn(w, x, z, g.terrainHeight(bx, bz, biome), biome)
			}
		}
	})

	for x := range 16 {
		for z := range 16 {
			c.SetBiome(x, z, biomes[x][z])
		}
	}
}

func (g *DefaultGenerator) HeightAt(blockX, blockZ int) int {
	return g.terrainHeight(blockX, blockZ, g.biomeGen.BiomeAt(blockX, blockZ))
}

// terrainHeight returns the surface height at a block coordinate, clamped
// to 1..250.
func (g *DefaultGenerator) terrainHeight(bx, bz int, biome byte) int {
	base := g.terrain.OctaveNoise2D(float64(bx)/128, float64(bz)/128, 6, 0.5)
	detail := g.detail.OctaveNoise2D(float64(bx)/32, float64(bz)/32, 3, 0.5)

	amplitude, baseHeight := biomeTerrainParams(biome)
	return min(max(int(baseHeight+base*amplitude+detail*4), 1), 250)
}

// biomeTerrainParams returns the noise amplitude and base height of a biome.
func biomeTerrainParams(biome byte) (amplitude, baseHeight float64) {
	switch biome {
	case biomeOcean:
		return 8, 40
	case biomePlains, biomeSavanna, biomeTundra:
		return 12, seaLevel
	case biomeForest, biomeDarkForest:
		return 16, seaLevel + 2
	case biomeTaiga, biomeSnowyTaiga, biomeJungle:
		return 18, seaLevel + 4
	case biomeDesert:
		return 10, seaLevel + 2
	case biomeMountains:
		return 40, seaLevel + 10
	case biomeBeach:
		return 3, seaLevel
	default:
		return 14, seaLevel
	}
}

func (g *DefaultGenerator) fillColumn(w columnWriter, x, z, height int, biome byte) {
	w.set(x, 0, z, stateBedrock)
	for y := 1; y <= 3; y++ {
		if g.terrain.Noise2D(float64(x+y*7)*0.5, float64(z)*0.5) > 0 {
			w.set(x, y, z, stateBedrock)
		} else {
			w.set(x, y, z, stateStone)
		}
	}

	stoneTop := max(height-surfaceDepth(biome), 4)
	for y := 4; y <= stoneTop && y <= height; y++ {
		w.set(x, y, z, stateStone)
	}

	applySurface(w, x, z, height, biome)

	for y := height + 1; y <= seaLevel; y++ {
		w.set(x, y, z, stateWater)
	}
}
