package coordinator

import "fmt"

// TransportError reports an I/O failure, a decode failure or an unexpected
// packet type during a protocol exchange. Transport faults are always fatal
// to the connection: the handle that observes one fires its disconnect event
// and requests its own eviction, and the operation is never retried.
type TransportError struct {
	// Op names the operation whose exchange failed.
	Op string

	// Err is the underlying I/O or decode error.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport fault during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// RemoteFault is an application-level failure reported by the worker itself,
// such as "unit not loadable" or "execution raised". It does not imply a
// dead connection: the handle stays live and admitted.
type RemoteFault struct {
	// Op names the operation the worker rejected.
	Op string

	// Reason classifies the fault.
	Reason string

	// Detail carries the worker-reported error text, when the protocol
	// exchange includes one. May be empty.
	Detail string
}

// Error implements error.
func (e *RemoteFault) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Reason, e.Detail)
}
