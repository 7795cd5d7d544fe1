package gen

// Biome IDs as sent in the column payload.
const (
	biomeOcean      byte = 0
	biomePlains     byte = 1
	biomeDesert     byte = 2
	biomeMountains  byte = 3 // extreme hills
	biomeForest     byte = 4
	biomeTaiga      byte = 5
	biomeTundra     byte = 12
	biomeBeach      byte = 16
	biomeJungle     byte = 21
	biomeDarkForest byte = 29
	biomeSnowyTaiga byte = 30
	biomeSavanna    byte = 35
)

// BiomeGenerator picks biomes from temperature and rainfall noise, with
// oceans and beaches wherever the base terrain dips below sea level.
type BiomeGenerator struct {
	temp    *NoiseGenerator
	rain    *NoiseGenerator
	terrain *NoiseGenerator
}

func NewBiomeGenerator(seed int64) *BiomeGenerator {
	return &BiomeGenerator{
		temp:    NewNoiseGenerator(seed + 100),
		rain:    NewNoiseGenerator(seed + 200),
		terrain: NewNoiseGenerator(seed),
	}
}

// BiomeAt returns the biome at a block coordinate.
func (bg *BiomeGenerator) BiomeAt(bx, bz int) byte {
	height := seaLevel + bg.terrain.OctaveNoise2D(float64(bx)/128, float64(bz)/128, 6, 0.5)*8
	switch {
	case height < seaLevel-8:
		return biomeOcean
	case height < seaLevel-2:
		return biomeBeach
	}

	tx, tz := float64(bx)/512, float64(bz)/512
	temp := bg.temp.OctaveNoise2D(tx, tz, 4, 0.5)*0.8 + 0.75
	rain := bg.rain.OctaveNoise2D(tx+100, tz+100, 4, 0.5)*0.5 + 0.5
	return selectBiome(temp, rain)
}

var biomeTable = [4][3]byte{
	{biomeTundra, biomeSnowyTaiga, biomeTaiga},  // cold
	{biomePlains, biomeForest, biomeDarkForest}, // mild
	{biomeSavanna, biomePlains, biomeJungle},    // warm
	{biomeDesert, biomeDesert, biomeJungle},     // hot
}

// selectBiome maps temperature (cold <0.3, mild <0.7, warm <1.2, hot) and
// rainfall (dry <0.3, medium <0.6, wet) to a biome.
func selectBiome(temp, rain float64) byte {
	row := 3
	switch {
	case temp < 0.3:
		row = 0
	case temp < 0.7:
		row = 1
	case temp < 1.2:
		row = 2
	}
	col := 2
	switch {
	case rain < 0.3:
		col = 0
	case rain < 0.6:
		col = 1
	}
	return biomeTable[row][col]
}
