package tinkerforge

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Device identifiers meinHeim knows by name.
const (
	DeviceMasterBrick  uint16 = 13
	DeviceAmbientLight uint16 = 21
	DeviceDistanceUS   uint16 = 229
	DeviceRemoteSwitch uint16 = 235
)

// Function IDs of the bricklets in use.
const (
	// Remote Switch Bricklet.
	functionSwitchSocketB uint8 = 7
	functionDimSocketB    uint8 = 8

	// Ambient Light Bricklet: illuminance in lux/10.
	functionGetIlluminance uint8 = 1

	// Distance US Bricklet: raw distance value.
	functionGetDistanceValue uint8 = 1
)

// EnumerationType says why an enumerate callback was sent.
type EnumerationType uint8

// Enumeration types.
const (
	EnumerationAvailable    EnumerationType = 0
	EnumerationConnected    EnumerationType = 1
	EnumerationDisconnected EnumerationType = 2
)

// String implements fmt.Stringer.
func (t EnumerationType) String() string {
	switch t {
	case EnumerationAvailable:
		return "available"
	case EnumerationConnected:
		return "connected"
	case EnumerationDisconnected:
		return "disconnected"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// DeviceEntry is one device reported by an enumerate callback.
type DeviceEntry struct {
	UID              string          `json:"uid"`
	ConnectedUID     string          `json:"connected_uid"`
	Position         string          `json:"position"`
	HardwareVersion  [3]uint8        `json:"hardware_version"`
	FirmwareVersion  [3]uint8        `json:"firmware_version"`
	DeviceIdentifier uint16          `json:"device_identifier"`
	EnumerationType  EnumerationType `json:"-"`
}

// Label is the human-readable device name shown in the UI.
func (d DeviceEntry) Label() string {
	return DeviceLabel(d.DeviceIdentifier)
}

// DeviceLabel maps a device identifier to its display name.
func DeviceLabel(id uint16) string {
	switch id {
	case DeviceMasterBrick:
		return "Master Brick"
	case DeviceAmbientLight:
		return "Ambient Light Bricklet"
	case DeviceDistanceUS:
		return "Distance US Bricklet"
	case DeviceRemoteSwitch:
		return "RemoteSwitchBricklet"
	default:
		return "device_identifier = " + strconv.Itoa(int(id))
	}
}

// ParseEnumerate decodes the payload of an enumerate callback.
func ParseEnumerate(payload []byte) (DeviceEntry, error) {
	if len(payload) != enumeratePayloadSize {
		return DeviceEntry{}, fmt.Errorf("%w: enumerate payload is %d bytes, want %d",
			ErrInvalidPacket, len(payload), enumeratePayloadSize)
	}
	var e DeviceEntry
	e.UID = readFixedString(payload[0:uidFieldSize])
	e.ConnectedUID = readFixedString(payload[uidFieldSize : 2*uidFieldSize])
	off := 2 * uidFieldSize
	e.Position = readFixedString(payload[off : off+1])
	off++
	copy(e.HardwareVersion[:], payload[off:off+3])
	off += 3
	copy(e.FirmwareVersion[:], payload[off:off+3])
	off += 3
	e.DeviceIdentifier = binary.LittleEndian.Uint16(payload[off : off+2])
	off += 2
	e.EnumerationType = EnumerationType(payload[off])
	return e, nil
}
