package bolt

import (
	"errors"
	"fmt"
)

// ErrNoCompatibleVersion is returned when the server rejects every proposed
// protocol version during the handshake.
var ErrNoCompatibleVersion = errors.New("bolt: no compatible protocol version")

// ErrClosed is returned when an operation is attempted on a closed connection.
var ErrClosed = errors.New("bolt: connection closed")

// ConnectionError wraps a transport-level failure: dial, handshake, read or
// write. A connection that produced one is unusable and must not be pooled.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bolt: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError indicates a malformed message, unknown marker or framing
// violation. The connection state is indeterminate and the link is evicted.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bolt: protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bolt: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError indicates the server rejected the HELLO credentials.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("bolt: authentication failed: %s (%s)", e.Message, e.Code)
}

// QueryError carries a server FAILURE received during RUN or PULL, with the
// server's status code and human-readable message.
type QueryError struct {
	Code    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("bolt: query failed: %s (%s)", e.Message, e.Code)
}

// TransactionError indicates an operation attempted against a transaction
// that cannot accept it: committed, rolled back, or poisoned by an earlier
// failure. Nothing is sent to the server.
type TransactionError struct {
	State TxState
	Op    string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("bolt: cannot %s transaction in state %s", e.Op, e.State)
}
