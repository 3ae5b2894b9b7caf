package bus

import "errors"

// ErrShutdown rejects calls caught by a Bus shutdown.
var ErrShutdown = errors.New("bus shut down")

// UnauthorizedAPI occurs when a bridge call targets an API group that
// isn't whitelisted.
type UnauthorizedAPI struct {
	API string
}

func (e *UnauthorizedAPI) Error() string {
	return `bridge api "` + e.API + `" not authorized`
}

// UnknownAPI occurs when a bridge call targets an unknown API group
// or method.
type UnknownAPI struct {
	API string
}

func (e *UnknownAPI) Error() string {
	return `bridge api "` + e.API + `" unknown`
}

// BridgeTimeout occurs when no matching response arrives in time.
type BridgeTimeout struct {
	API string
}

func (e *BridgeTimeout) Error() string {
	return `bridge call to "` + e.API + `" timed out`
}

// ClientGone occurs when the owning client isn't connected, or
// disconnects while a call is outstanding.
type ClientGone struct {
	ClientID string
}

func (e *ClientGone) Error() string {
	return `client "` + e.ClientID + `" disconnected`
}
