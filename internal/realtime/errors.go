package realtime

import "errors"

var (
	ErrAlreadyConnected = errors.New("realtime session already connected")
	ErrNotConnected     = errors.New("realtime session not connected")
	ErrNotInRoom        = errors.New("not in a room")
	ErrNotAuthenticated = errors.New("no access credential for realtime handshake")
	// ErrHandshakeUnauthorized means the server rejected the websocket
	// handshake because of the presented credential.
	ErrHandshakeUnauthorized = errors.New("realtime handshake unauthorized")
)
