package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/brentp/intintmap"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
)

const (
	SectionSize  = 16 * 16 * 16   // 4096 blocks
	LightBytes   = SectionSize / 2 // 2048 bytes: 4096 nibbles
	SectionCount = 16              // sections per column, y = 0..255
)

// Bits per block of the three storage layouts a Section switches between.
const (
	smallBits  = 4  // palette of up to 16 states
	wideBits   = 8  // palette of up to 256 states
	directBits = 32 // raw state codes, no palette
)

// State is a numeric block state code. The zero State is air.
type State int32

// Air is the empty block state. It always occupies palette index 0.
const Air State = 0

var (
	// ErrUnrepresentable is returned when a state cannot be stored in any
	// section layout.
	ErrUnrepresentable = errors.New("block state not representable")
	// ErrCorruptSection is returned when a section's storage does not match
	// its layout and therefore cannot be encoded or decoded.
	ErrCorruptSection = errors.New("corrupt section")
)

// Section is a 16×16×16 slab of block states stored as palette indices
// packed into 64-bit words, plus block and sky light nibbles.
//
// A Section is not safe for concurrent use. Callers go through the owning
// Table, which serialises access per section.
type Section struct {
	bits    int
	palette []State
	lookup  *intintmap.Map // state → palette index
	data    []uint64

	blockCount int

	blockLight [LightBytes]byte
	skyLight   [LightBytes]byte
}

// NewSection returns an all-air section with full sky light and no block light.
func NewSection() *Section {
	s := &Section{
		bits:    smallBits,
		palette: []State{Air},
		lookup:  intintmap.New(1<<smallBits, 0.6),
		data:    make([]uint64, dataLen(smallBits)),
	}
	s.lookup.Put(int64(Air), 0)
	s.FillSkyLight(0xF)
	return s
}

// Index returns the block index of local coordinates x, y, z (each 0..15).
func Index(x, y, z int) int {
	return y<<8 | z<<4 | x
}

// Get returns the state at index.
func (s *Section) Get(index int) State {
	v := load(s.data, s.bits, index)
	if s.bits == directBits {
		return State(v)
	}
	return s.palette[v]
}

// Set stores state at index. An existing palette entry for state is reused;
// otherwise state is appended to the palette, widening the storage when the
// palette no longer fits. Existing palette entries never move.
func (s *Section) Set(index int, state State) error {
	if state < 0 {
		return fmt.Errorf("set state %d: %w", state, ErrUnrepresentable)
	}
	prev := s.Get(index)
	if prev == state {
		return nil
	}

	// paletteIndex may widen the storage, so data and bits are read after it.
	idx := s.paletteIndex(state)
	store(s.data, s.bits, index, idx)

	switch {
	case prev == Air:
		s.blockCount++
	case state == Air:
		s.blockCount--
	}
	return nil
}

// paletteIndex returns the value to store for state, adding it to the palette
// and growing the storage if needed.
func (s *Section) paletteIndex(state State) uint64 {
	if s.bits != directBits {
		if i, ok := s.lookup.Get(int64(state)); ok {
			return uint64(i)
		}
		s.palette = append(s.palette, state)
		s.lookup.Put(int64(state), int64(len(s.palette)-1))
		if len(s.palette) <= 1<<s.bits {
			return uint64(len(s.palette) - 1)
		}
		s.grow()
		if s.bits != directBits {
			return uint64(len(s.palette) - 1)
		}
	}
	return uint64(uint32(state))
}

// grow re-packs all indices into the next wider layout.
func (s *Section) grow() {
	next := wideBits
	if s.bits == wideBits {
		next = directBits
	}

	data := make([]uint64, dataLen(next))
	for i := range SectionSize {
		v := load(s.data, s.bits, i)
		if next == directBits {
			v = uint64(uint32(s.palette[v]))
		}
		store(data, next, i, v)
	}
	s.bits, s.data = next, data

	if next == directBits {
		s.palette, s.lookup = nil, nil
	}
}

// BitsPerBlock returns the width of one packed index.
func (s *Section) BitsPerBlock() int {
	return s.bits
}

// PaletteLen returns the number of palette entries, 0 for direct storage.
func (s *Section) PaletteLen() int {
	return len(s.palette)
}

// Palette returns a copy of the palette.
func (s *Section) Palette() []State {
	return slices.Clone(s.palette)
}

// BlockCount returns the number of non-air blocks.
func (s *Section) BlockCount() int {
	return s.blockCount
}

// Empty reports whether the section holds only air.
func (s *Section) Empty() bool {
	return s.blockCount == 0
}

// BlockLight returns the block light level at index.
func (s *Section) BlockLight(index int) uint8 {
	return getNibble(s.blockLight[:], index)
}

// SetBlockLight sets the block light level at index.
func (s *Section) SetBlockLight(index int, level uint8) {
	setNibble(s.blockLight[:], index, level)
}

// SkyLight returns the sky light level at index.
func (s *Section) SkyLight(index int) uint8 {
	return getNibble(s.skyLight[:], index)
}

// SetSkyLight sets the sky light level at index.
func (s *Section) SetSkyLight(index int, level uint8) {
	setNibble(s.skyLight[:], index, level)
}

// FillSkyLight sets the sky light of every block to level.
func (s *Section) FillSkyLight(level uint8) {
	b := level&0xF | level<<4
	for i := range s.skyLight {
		s.skyLight[i] = b
	}
}

// EncodedLen returns the number of bytes Encode writes.
func (s *Section) EncodedLen(skylight bool) int {
	n := 1 + mcnet.VarIntSize(int32(len(s.palette)))
	for _, st := range s.palette {
		n += mcnet.VarIntSize(int32(st))
	}
	n += mcnet.VarIntSize(int32(len(s.data))) + len(s.data)*8 + LightBytes
	if skylight {
		n += LightBytes
	}
	return n
}

// Encode writes the section in wire format: byte bits per block, varint
// palette length, varint palette entries, varint word count, big-endian
// words, block light, and sky light if skylight is set.
func (s *Section) Encode(w io.Writer, skylight bool) error {
	if err := s.validate(); err != nil {
		return err
	}

	buf := make([]byte, 0, s.EncodedLen(skylight))
	buf = append(buf, byte(s.bits))
	buf = mcnet.AppendVarInt(buf, int32(len(s.palette)))
	for _, st := range s.palette {
		buf = mcnet.AppendVarInt(buf, int32(st))
	}
	buf = mcnet.AppendVarInt(buf, int32(len(s.data)))
	for _, word := range s.data {
		buf = binary.BigEndian.AppendUint64(buf, word)
	}
	buf = append(buf, s.blockLight[:]...)
	if skylight {
		buf = append(buf, s.skyLight[:]...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write section: %w", err)
	}
	return nil
}

func (s *Section) validate() error {
	switch s.bits {
	case smallBits, wideBits:
		if len(s.palette) == 0 || len(s.palette) > 1<<s.bits {
			return fmt.Errorf("palette of %d entries at %d bits: %w", len(s.palette), s.bits, ErrCorruptSection)
		}
	case directBits:
		if len(s.palette) != 0 {
			return fmt.Errorf("palette of %d entries in direct storage: %w", len(s.palette), ErrCorruptSection)
		}
	default:
		return fmt.Errorf("%d bits per block: %w", s.bits, ErrCorruptSection)
	}
	if len(s.data) != dataLen(s.bits) {
		return fmt.Errorf("%d data words at %d bits: %w", len(s.data), s.bits, ErrCorruptSection)
	}
	return nil
}

// ReadSection decodes a section written by Encode.
func ReadSection(r io.Reader, skylight bool) (*Section, error) {
	var bits [1]byte
	if _, err := io.ReadFull(r, bits[:]); err != nil {
		return nil, fmt.Errorf("read bits per block: %w", err)
	}
	s := &Section{bits: int(bits[0])}

	n, _, err := mcnet.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read palette length: %w", err)
	}
	if n < 0 || n > 1<<wideBits {
		return nil, fmt.Errorf("palette length %d: %w", n, ErrCorruptSection)
	}
	if n > 0 {
		s.palette = make([]State, n)
		s.lookup = intintmap.New(int(n), 0.6)
	}
	for i := range s.palette {
		v, _, err := mcnet.ReadVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("read palette entry %d: %w", i, err)
		}
		s.palette[i] = State(v)
		s.lookup.Put(int64(v), int64(i))
	}

	words, _, err := mcnet.ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read data length: %w", err)
	}
	if words < 0 || int(words) > dataLen(directBits) {
		return nil, fmt.Errorf("data length %d: %w", words, ErrCorruptSection)
	}
	raw := make([]byte, int(words)*8)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	s.data = make([]uint64, words)
	for i := range s.data {
		s.data[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, s.blockLight[:]); err != nil {
		return nil, fmt.Errorf("read block light: %w", err)
	}
	if skylight {
		if _, err := io.ReadFull(r, s.skyLight[:]); err != nil {
			return nil, fmt.Errorf("read sky light: %w", err)
		}
	}

	for i := range SectionSize {
		v := load(s.data, s.bits, i)
		if s.bits != directBits && v >= uint64(len(s.palette)) {
			return nil, fmt.Errorf("palette index %d at block %d: %w", v, i, ErrCorruptSection)
		}
		if s.Get(i) != Air {
			s.blockCount++
		}
	}
	return s, nil
}

func dataLen(bits int) int {
	return SectionSize * bits / 64
}

// load returns the packed value at index. Values never straddle words.
func load(data []uint64, bits, index int) uint64 {
	perWord := 64 / bits
	shift := uint(index%perWord) * uint(bits)
	return data[index/perWord] >> shift & (1<<uint(bits) - 1)
}

// store overwrites the packed value at index, clearing the old bits first.
func store(data []uint64, bits, index int, v uint64) {
	perWord := 64 / bits
	shift := uint(index%perWord) * uint(bits)
	mask := uint64(1<<uint(bits)-1) << shift
	w := &data[index/perWord]
	*w = *w&^mask | v<<shift&mask
}

func getNibble(arr []byte, index int) uint8 {
	if index&1 == 0 {
		return arr[index>>1] & 0x0F
	}
	return arr[index>>1] >> 4
}

func setNibble(arr []byte, index int, v uint8) {
	i := index >> 1
	if index&1 == 0 {
		arr[i] = arr[i]&0xF0 | v&0x0F
	} else {
		arr[i] = arr[i]&0x0F | v<<4
	}
}
