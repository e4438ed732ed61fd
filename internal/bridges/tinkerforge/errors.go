package tinkerforge

import "errors"

// Domain errors for the Tinkerforge bridge.
var (
	// ErrNotConnected is returned when the client has no live connection to brickd.
	ErrNotConnected = errors.New("tinkerforge: not connected to brickd")

	// ErrConnectionFailed is returned when dialling brickd fails.
	ErrConnectionFailed = errors.New("tinkerforge: connection to brickd failed")

	// ErrInvalidUID is returned when a base58 UID cannot be decoded.
	ErrInvalidUID = errors.New("tinkerforge: invalid uid")

	// ErrInvalidPacket is returned for a malformed TFP packet.
	ErrInvalidPacket = errors.New("tinkerforge: invalid packet")

	// ErrRequestFailed is returned when a request cannot be written.
	ErrRequestFailed = errors.New("tinkerforge: request failed")

	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("tinkerforge: response timed out")

	// ErrDeviceError is returned when the device answers with a non-zero error code.
	ErrDeviceError = errors.New("tinkerforge: device returned error")

	// ErrUnexpectedResponse is returned when a response payload has the wrong size.
	ErrUnexpectedResponse = errors.New("tinkerforge: unexpected response")
)
