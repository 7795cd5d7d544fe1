package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
)

const (
	Height     = SectionCount * 16
	biomeBytes = 16 * 16
)

var (
	// ErrOutOfRange is returned for local coordinates outside the column.
	ErrOutOfRange = errors.New("coordinates out of range")
	// ErrCorruptColumn is returned when a column payload cannot be decoded.
	ErrCorruptColumn = errors.New("corrupt column payload")
)

// Chunk is one 16×256×16 column of the world.
type Chunk struct {
	pos      Pos
	table    *Table
	skylight bool

	biomeMu deadlock.RWMutex
	biomes  [biomeBytes]byte

	unloaded atomic.Bool
}

// New returns an all-air column at pos. skylight is set for dimensions that
// carry sky light on the wire.
func New(pos Pos, skylight bool) *Chunk {
	return &Chunk{pos: pos, table: NewTable(), skylight: skylight}
}

func (c *Chunk) Pos() Pos {
	return c.pos
}

// Table returns the per-section lock table of the column.
func (c *Chunk) Table() *Table {
	return c.table
}

func (c *Chunk) Skylight() bool {
	return c.skylight
}

// SetBlock stores state at local x, z (0..15) and world height y (0..255),
// locking only the section containing y.
func (c *Chunk) SetBlock(x, y, z int, state State) error {
	if !inColumn(x, y, z) {
		return fmt.Errorf("set block %d,%d,%d in %s: %w", x, y, z, c.pos, ErrOutOfRange)
	}
	return ModifyValue(c.table, y>>4, func(s *Section) error {
		return s.Set(Index(x, y&0xF, z), state)
	})
}

// Block returns the state at local x, z and height y. Positions outside the
// column read as air.
func (c *Chunk) Block(x, y, z int) State {
	if !inColumn(x, y, z) {
		return Air
	}
	return ModifyValue(c.table, y>>4, func(s *Section) State {
		return s.Get(Index(x, y&0xF, z))
	})
}

// HighestBlock returns the y of the highest non-air block at local x, z, or
// -1 if the column is empty there.
func (c *Chunk) HighestBlock(x, z int) int {
	for sy := SectionCount - 1; sy >= 0; sy-- {
		y := ModifyValue(c.table, sy, func(s *Section) int {
			if s.Empty() {
				return -1
			}
			for ly := 15; ly >= 0; ly-- {
				if s.Get(Index(x, ly, z)) != Air {
					return sy<<4 | ly
				}
			}
			return -1
		})
		if y >= 0 {
			return y
		}
	}
	return -1
}

func (c *Chunk) SetBiome(x, z int, biome byte) {
	c.biomeMu.Lock()
	c.biomes[z<<4|x] = biome
	c.biomeMu.Unlock()
}

func (c *Chunk) Biome(x, z int) byte {
	c.biomeMu.RLock()
	defer c.biomeMu.RUnlock()
	return c.biomes[z<<4|x]
}

// MarkUnloaded flags the column as evicted. It returns false if the column
// was already marked.
func (c *Chunk) MarkUnloaded() bool {
	return c.unloaded.CompareAndSwap(false, true)
}

// Unloaded reports whether the column has been evicted. Holders of a stale
// pointer use this to detect that writes will no longer be persisted.
func (c *Chunk) Unloaded() bool {
	return c.unloaded.Load()
}

// AsPacket encodes the full column payload: int32 X, int32 Z, bool
// ground-up, varint section bitmask, varint data length, the sections in
// the bitmask followed by the biome bytes, and a varint block entity count.
// The whole column is locked while sections are encoded.
func (c *Chunk) AsPacket() ([]byte, error) {
	var (
		data bytes.Buffer
		mask int32
	)
	err := c.table.WithAll(func(l *Locked) error {
		for i := range SectionCount {
			if !l.Section(i).Empty() {
				mask |= 1 << i
			}
		}
		// An all-air column still sends its bottom section.
		if mask == 0 {
			mask = 1
		}
		for i := range SectionCount {
			if mask&(1<<i) == 0 {
				continue
			}
			if err := l.Section(i).Encode(&data, c.skylight); err != nil {
				return fmt.Errorf("encode section %d of %s: %w", i, c.pos, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.biomeMu.RLock()
	data.Write(c.biomes[:])
	c.biomeMu.RUnlock()

	buf := make([]byte, 0, 9+2*5+data.Len()+1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(c.pos.X))
	buf = binary.BigEndian.AppendUint32(buf, uint32(c.pos.Z))
	buf = append(buf, 1) // ground-up
	buf = mcnet.AppendVarInt(buf, mask)
	buf = mcnet.AppendVarInt(buf, int32(data.Len()))
	buf = append(buf, data.Bytes()...)
	buf = mcnet.AppendVarInt(buf, 0) // block entities
	return buf, nil
}

// DecodeColumn rebuilds a column from an AsPacket payload.
func DecodeColumn(payload []byte, skylight bool) (*Chunk, error) {
	r := bytes.NewReader(payload)

	var head struct {
		X, Z     int32
		GroundUp bool
	}
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, fmt.Errorf("read column header: %w", err)
	}
	if !head.GroundUp {
		return nil, fmt.Errorf("partial column: %w", ErrCorruptColumn)
	}
	c := New(Pos{X: head.X, Z: head.Z}, skylight)

	mask, _, err := mcnet.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read section mask: %w", err)
	}
	if mask < 0 || mask >= 1<<SectionCount {
		return nil, fmt.Errorf("section mask %#x: %w", mask, ErrCorruptColumn)
	}
	size, _, err := mcnet.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read data length: %w", err)
	}
	if size < biomeBytes || int(size) > r.Len() {
		return nil, fmt.Errorf("data length %d: %w", size, ErrCorruptColumn)
	}

	data := io.LimitReader(r, int64(size)-biomeBytes)
	for i := range SectionCount {
		if mask&(1<<i) == 0 {
			continue
		}
		s, err := ReadSection(data, skylight)
		if err != nil {
			return nil, fmt.Errorf("read section %d of %s: %w", i, c.pos, err)
		}
		c.table.slots[i].section = s
	}
	if n, _ := io.Copy(io.Discard, data); n != 0 {
		return nil, fmt.Errorf("%d trailing section bytes: %w", n, ErrCorruptColumn)
	}

	if _, err := io.ReadFull(r, c.biomes[:]); err != nil {
		return nil, fmt.Errorf("read biomes: %w", err)
	}
	if _, _, err := mcnet.ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("read block entity count: %w", err)
	}
	return c, nil
}

func inColumn(x, y, z int) bool {
	return x >= 0 && x < 16 && z >= 0 && z < 16 && y >= 0 && y < Height
}
