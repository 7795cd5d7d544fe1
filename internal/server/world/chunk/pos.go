package chunk

import "fmt"

// Pos identifies a 16×16 chunk column by its X and Z chunk coordinates.
type Pos struct {
	X, Z int32
}

// PosOf returns the position of the chunk column containing the block at
// blockX, blockZ.
func PosOf(blockX, blockZ int) Pos {
	return Pos{X: int32(blockX >> 4), Z: int32(blockZ >> 4)}
}

// Chebyshev returns the chessboard distance between p and o in chunks.
func (p Pos) Chebyshev(o Pos) int32 {
	return max(abs(p.X-o.X), abs(p.Z-o.Z))
}

// Add returns p offset by dx, dz chunks.
func (p Pos) Add(dx, dz int32) Pos {
	return Pos{X: p.X + dx, Z: p.Z + dz}
}

// Packed returns the position as a single 64-bit value, X in the high half.
func (p Pos) Packed() uint64 {
	return uint64(uint32(p.X))<<32 | uint64(uint32(p.Z))
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Z)
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
