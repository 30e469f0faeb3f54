package soe

import (
	"errors"

	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

// Wire-level decode failures are owned by the codec. They are re-exported
// here so callers of the session layer can match every failure kind
// against one package.
var (
	ErrMalformedPacket  = protocol.ErrMalformedPacket
	ErrChecksumMismatch = protocol.ErrChecksumMismatch
	ErrUnknownOpcode    = protocol.ErrUnknownOpcode
)

var (
	// ErrSessionNotFound indicates a session-bound packet from an endpoint
	// with no active session. Such packets are dropped without reply.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimit indicates the session table is at capacity.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrSessionNotConnected indicates a send on a session that has not
	// completed the handshake or is already tearing down.
	ErrSessionNotConnected = errors.New("session not connected")
)
