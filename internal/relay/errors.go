package relay

import "errors"

var (
	// ErrRejected is returned by Dial when the server refuses the client id.
	ErrRejected = errors.New("connection rejected by relay server")

	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("relay client closed")

	// ErrInvalidClientID is returned when the id is not a valid UUID.
	ErrInvalidClientID = errors.New("invalid client id")
)

// Handshake reply bytes.
const (
	replyReject byte = 0
	replyAccept byte = 1
)

// idLength is the length of a UUID in its canonical text form.
const idLength = 36
