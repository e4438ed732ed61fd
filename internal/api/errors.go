package api

import "errors"

var errNotConnected = errors.New("not connected")
