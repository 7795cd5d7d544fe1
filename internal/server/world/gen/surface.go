package gen

import "github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"

func surfaceDepth(biome byte) int {
	if biome == biomeDesert {
		return 5
	}
	return 4
}

// applySurface replaces the top of a stone column with the biome's surface
// blocks. Layers never reach below y=4.
func applySurface(w columnWriter, x, z, height int, biome byte) {
	layer := func(from, depth int, s chunk.State) {
		for y := from; y > from-depth && y > 3; y-- {
			w.set(x, y, z, s)
		}
	}

	switch biome {
	case biomeDesert:
		layer(height, 4, stateSand)
		layer(height-4, 2, stateSandstone)
	case biomeBeach:
		layer(height, 4, stateSand)
		layer(height-4, 1, stateSandstone)
	case biomeOcean:
		layer(height, 3, stateGravel)
		layer(height-3, 2, stateDirt)
	case biomeMountains:
		if height > 100 {
			layer(height, 4, stateStone) // bare peaks
			return
		}
		fallthrough
	default:
		if height <= 3 {
			return
		}
		top := stateDirt
		if height > seaLevel {
			top = stateGrass
		}
		layer(height, 1, top)
		layer(height-1, 3, stateDirt)
	}
}
