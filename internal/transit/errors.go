package transit

import "errors"

var (
	// ErrUnknownStation means BVG answered with its station search form.
	ErrUnknownStation = errors.New("transit: unknown station")

	// ErrNoResults means the page had no departure table.
	ErrNoResults = errors.New("transit: no result table")

	// ErrBadStatus is returned for a non-2xx response.
	ErrBadStatus = errors.New("transit: unexpected HTTP status")

	// ErrEncoding means the station name cannot be expressed in ISO-8859-1.
	ErrEncoding = errors.New("transit: station not encodable")
)
