package router

import "errors"

// Collaborator-facing error kinds (§7). Every error that can cross the
// peer-transport or local-channel boundary has a sentinel here so callers
// can switch on it with errors.Is.
var (
	ErrMissingSignature   = errors.New("router: first frame from peer carried no signature")
	ErrInvalidFrame       = errors.New("router: invalid frame")
	ErrConnectionClosed   = errors.New("router: connection closed")
	ErrNoFreePorts        = errors.New("router: no free ports")
	ErrNoRoute            = errors.New("router: no route to destination")
	ErrLocalChannelClosed = errors.New("router: local channel closed")
)
