package sessions

import "errors"

var (
	// ErrUnsupportedAgentType fails session creation for unknown agent
	// types. Transports map it to a 400-class response.
	ErrUnsupportedAgentType = errors.New("unsupported agent type")

	// ErrSessionNotFound fails lookups for absent session ids. Transports
	// map it to a 404-class response.
	ErrSessionNotFound = errors.New("session not found")
)
