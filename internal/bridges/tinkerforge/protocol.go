package tinkerforge

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// TFP framing constants.
const (
	// HeaderSize is the fixed TFP header length.
	HeaderSize = 8

	// MaxPacketSize is the largest packet brickd sends (header + 64 byte payload).
	MaxPacketSize = 80

	// maxSequence is the highest sequence number; 0 is reserved for callbacks.
	maxSequence = 15

	responseExpectedBit = 0x08
)

// Broadcast function IDs handled by every device.
const (
	FunctionEnumerate uint8 = 254
	CallbackEnumerate uint8 = 253

	broadcastUID         uint32 = 0
	enumeratePayloadSize        = 26
	uidFieldSize                = 8
)

// Device error codes carried in the header's flags byte.
const (
	ErrorCodeOK                   uint8 = 0
	ErrorCodeInvalidParameter     uint8 = 1
	ErrorCodeFunctionNotSupported uint8 = 2
)

// Header is the decoded 8-byte TFP packet header.
type Header struct {
	UID              uint32
	Length           uint8
	FunctionID       uint8
	Sequence         uint8
	ResponseExpected bool
	ErrorCode        uint8
}

// Packet is a full TFP packet.
type Packet struct {
	Header
	Payload []byte
}

// IsCallback reports whether the packet is an unsolicited callback.
func (p Packet) IsCallback() bool {
	return p.Sequence == 0
}

// EncodePacket builds the wire form of a packet. The length field is
// derived from the payload.
func EncodePacket(uid uint32, functionID, sequence uint8, responseExpected bool, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uid)
	buf[4] = uint8(len(buf)) //nolint:gosec // payload bounded by MaxPacketSize
	buf[5] = functionID
	buf[6] = (sequence & 0x0F) << 4
	if responseExpected {
		buf[6] |= responseExpectedBit
	}
	buf[7] = 0
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of a packet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrInvalidPacket, HeaderSize, len(b))
	}
	h := Header{
		UID:              binary.LittleEndian.Uint32(b[0:4]),
		Length:           b[4],
		FunctionID:       b[5],
		Sequence:         b[6] >> 4,
		ResponseExpected: b[6]&responseExpectedBit != 0,
		ErrorCode:        b[7] >> 6,
	}
	if h.Length < HeaderSize || h.Length > MaxPacketSize {
		return Header{}, fmt.Errorf("%w: length %d out of range", ErrInvalidPacket, h.Length)
	}
	return h, nil
}

// DecodePacket parses a complete packet.
func DecodePacket(b []byte) (Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Packet{}, err
	}
	if int(h.Length) != len(b) {
		return Packet{}, fmt.Errorf("%w: length field %d, have %d bytes", ErrInvalidPacket, h.Length, len(b))
	}
	payload := make([]byte, len(b)-HeaderSize)
	copy(payload, b[HeaderSize:])
	return Packet{Header: h, Payload: payload}, nil
}

const base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// Base58Encode renders a numeric UID the way Tinkerforge prints it.
func Base58Encode(value uint64) string {
	if value == 0 {
		return string(base58Alphabet[0])
	}
	var out []byte
	for value > 0 {
		out = append(out, base58Alphabet[value%58])
		value /= 58
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Base58Decode parses a UID string into its 64-bit value.
func Base58Decode(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidUID)
	}
	var value uint64
	for _, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return 0, fmt.Errorf("%w: %q contains %q", ErrInvalidUID, s, r)
		}
		if value > (math.MaxUint64-uint64(idx))/58 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidUID, s)
		}
		value = value*58 + uint64(idx)
	}
	return value, nil
}

// ParseUID converts a UID string to the 32-bit value used in packet
// headers. Long UIDs are folded the same way brickd does.
func ParseUID(s string) (uint32, error) {
	v, err := Base58Decode(s)
	if err != nil {
		return 0, err
	}
	if v <= 0xFFFFFFFF {
		return uint32(v), nil
	}
	v1 := uint32(v & 0xFFFFFFFF)
	v2 := uint32(v >> 32)
	uid := v1 & 0x00000FFF
	uid |= (v1 & 0x0F000000) >> 12
	uid |= (v2 & 0x0000003F) << 16
	uid |= (v2 & 0x000F0000) << 6
	uid |= (v2 & 0x3F000000) << 2
	return uid, nil
}

// FormatUID renders a header UID as base58.
func FormatUID(uid uint32) string {
	return Base58Encode(uint64(uid))
}

// readFixedString reads a NUL padded string field.
func readFixedString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
