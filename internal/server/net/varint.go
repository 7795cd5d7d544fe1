package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxVarIntLen  = 5
	maxVarLongLen = 10
	maxStringLen  = 32767 * 4
)

// ErrVarIntTooLong is returned when a varint runs past its maximum width.
var ErrVarIntTooLong = errors.New("varint too long")

// ReadVarInt reads a 32-bit varint and returns it with the number of bytes
// consumed.
func ReadVarInt(r io.Reader) (int32, int, error) {
	v, n, err := readVarUint(r, maxVarIntLen)
	return int32(uint32(v)), n, err
}

// ReadVarLong reads a 64-bit varint.
func ReadVarLong(r io.Reader) (int64, int, error) {
	v, n, err := readVarUint(r, maxVarLongLen)
	return int64(v), n, err
}

func readVarUint(r io.Reader, maxLen int) (uint64, int, error) {
	var (
		result uint64
		b      [1]byte
	)
	for n := 0; n < maxLen; n++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, n, err
		}
		result |= uint64(b[0]&0x7F) << (7 * n)
		if b[0]&0x80 == 0 {
			return result, n + 1, nil
		}
	}
	return 0, maxLen, ErrVarIntTooLong
}

// WriteVarInt writes value as a varint.
func WriteVarInt(w io.Writer, value int32) (int, error) {
	var buf [maxVarIntLen]byte
	return w.Write(AppendVarInt(buf[:0], value))
}

// WriteVarLong writes value as a 64-bit varint.
func WriteVarLong(w io.Writer, value int64) (int, error) {
	var buf [maxVarLongLen]byte
	return w.Write(appendVarUint(buf[:0], uint64(value)))
}

// PutVarInt encodes value into buf and returns the number of bytes written.
// buf must have room for VarIntSize(value) bytes.
func PutVarInt(buf []byte, value int32) int {
	return copy(buf, AppendVarInt(make([]byte, 0, maxVarIntLen), value))
}

// AppendVarInt appends the varint encoding of value to buf.
func AppendVarInt(buf []byte, value int32) []byte {
	return appendVarUint(buf, uint64(uint32(value)))
}

func appendVarUint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// VarIntSize returns the encoded length of value.
func VarIntSize(value int32) int {
	v := uint32(value)
	size := 1
	for v >= 0x80 {
		v >>= 7
		size++
	}
	return size
}

// EncodePosition packs block coordinates as x:26, y:12, z:26 bits.
func EncodePosition(x, y, z int) int64 {
	return (int64(x)&0x3FFFFFF)<<38 | (int64(y)&0xFFF)<<26 | int64(z)&0x3FFFFFF
}

// DecodePosition reverses EncodePosition, sign-extending each field.
func DecodePosition(val int64) (x, y, z int) {
	x = int(val >> 38)
	y = int(val << 26 >> 52)
	z = int(val << 38 >> 38)
	return x, y, z
}

func ReadString(r io.Reader) (string, error) {
	length, _, err := ReadVarInt(r)
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if length < 0 || length > maxStringLen {
		return "", fmt.Errorf("string length out of range: %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read string data: %w", err)
	}
	return string(buf), nil
}

func WriteString(w io.Writer, s string) (int, error) {
	return WriteByteArray(w, []byte(s))
}

func ReadByteArray(r io.Reader) ([]byte, error) {
	length, _, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read byte array length: %w", err)
	}
	if length < 0 || length > MaxPacketSize {
		return nil, fmt.Errorf("byte array length out of range: %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read byte array data: %w", err)
	}
	return buf, nil
}

func WriteByteArray(w io.Writer, data []byte) (int, error) {
	n1, err := WriteVarInt(w, int32(len(data)))
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(data)
	return n1 + n2, err
}

// readFixed reads a big-endian fixed-width value into a new T.
func readFixed[T bool | int8 | uint8 | int16 | uint16 | int32 | int64 | float32 | float64](r io.Reader) (T, error) {
	var v T
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
