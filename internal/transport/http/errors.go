package http

import "errors"

var errConnectionClosed = errors.New("connection closed")
