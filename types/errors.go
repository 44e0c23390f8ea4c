package types

import "errors"

var errInvalidVarint = errors.New("types: invalid varint")

// Collaborator-facing error kinds (§7 of the design). No code in this
// module returns these; the router package returns its own sentinels of
// the same names (router/errors.go).
var (
	ErrMissingSignature = errors.New("types: announcement carries no signatures")
	ErrInvalidFrame     = errors.New("types: invalid frame")
	ErrConnectionClosed = errors.New("types: connection closed")
)
