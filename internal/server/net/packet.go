package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize is the largest frame body accepted or produced: 2 MiB.
const MaxPacketSize = 1 << 21

// ErrPacketTooLarge is returned for frames over MaxPacketSize.
var ErrPacketTooLarge = errors.New("packet too large")

// Packet is a typed message with a fixed ID in the current state.
type Packet interface {
	PacketID() int32
}

// ReadRawPacket reads one length-prefixed frame and splits off the packet ID.
func ReadRawPacket(r io.Reader) (packetID int32, data []byte, err error) {
	length, _, err := ReadVarInt(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read packet length: %w", err)
	}
	if length < 1 {
		return 0, nil, fmt.Errorf("packet length too small: %d", length)
	}
	if length > MaxPacketSize {
		return 0, nil, fmt.Errorf("read %d bytes: %w", length, ErrPacketTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read packet payload: %w", err)
	}

	buf := bytes.NewReader(payload)
	packetID, n, err := ReadVarInt(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("read packet ID: %w", err)
	}
	return packetID, payload[n:], nil
}

// WriteRawPacket frames data under packetID and writes it with one Write call.
func WriteRawPacket(w io.Writer, packetID int32, data []byte) error {
	total := VarIntSize(packetID) + len(data)
	if total > MaxPacketSize {
		return fmt.Errorf("write packet 0x%02X of %d bytes: %w", packetID, total, ErrPacketTooLarge)
	}

	buf := make([]byte, 0, VarIntSize(int32(total))+total)
	buf = AppendVarInt(buf, int32(total))
	buf = AppendVarInt(buf, packetID)
	buf = append(buf, data...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("flush packet: %w", err)
	}
	return nil
}

func WritePacket(w io.Writer, p Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet 0x%02X: %w", p.PacketID(), err)
	}
	return WriteRawPacket(w, p.PacketID(), data)
}

func ReadPacket(r io.Reader, p Packet) error {
	packetID, data, err := ReadRawPacket(r)
	if err != nil {
		return err
	}
	if packetID != p.PacketID() {
		return fmt.Errorf("expected packet 0x%02X, got 0x%02X", p.PacketID(), packetID)
	}
	return Unmarshal(data, p)
}

// WriteField encodes val according to its mc struct tag.
func WriteField(w io.Writer, tag string, val any) error {
	switch tag {
	case "varint":
		_, err := WriteVarInt(w, val.(int32))
		return err
	case "varlong":
		_, err := WriteVarLong(w, val.(int64))
		return err
	case "i8", "u8", "i16", "u16", "i32", "i64", "f32", "f64", "bool", "position":
		return binary.Write(w, binary.BigEndian, val)
	case "string":
		_, err := WriteString(w, val.(string))
		return err
	case "uuid":
		u := val.([16]byte)
		_, err := w.Write(u[:])
		return err
	case "bytearray":
		_, err := WriteByteArray(w, val.([]byte))
		return err
	case "rest":
		_, err := w.Write(val.([]byte))
		return err
	default:
		return fmt.Errorf("unknown field tag: %q", tag)
	}
}

// ReadField decodes one value for an mc struct tag.
func ReadField(r io.Reader, tag string) (any, error) {
	switch tag {
	case "varint":
		v, _, err := ReadVarInt(r)
		return v, err
	case "varlong":
		v, _, err := ReadVarLong(r)
		return v, err
	case "i8":
		return readFixed[int8](r)
	case "u8":
		return readFixed[uint8](r)
	case "i16":
		return readFixed[int16](r)
	case "u16":
		return readFixed[uint16](r)
	case "i32":
		return readFixed[int32](r)
	case "i64", "position":
		return readFixed[int64](r)
	case "f32":
		return readFixed[float32](r)
	case "f64":
		return readFixed[float64](r)
	case "bool":
		return readFixed[bool](r)
	case "string":
		return ReadString(r)
	case "uuid":
		var u [16]byte
		_, err := io.ReadFull(r, u[:])
		return u, err
	case "bytearray":
		return ReadByteArray(r)
	case "rest":
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown field tag: %q", tag)
	}
}
