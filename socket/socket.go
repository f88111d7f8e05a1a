// File: socket/socket.go
//
// Socket is the external collaborator every scheduler mode ultimately
// calls down to: the physical (or simulated) radio link. It is deliberately
// minimal — non-blocking byte transfer plus a blocking toggle — mirroring
// the handful of socket methods scheduler/modes.py actually uses
// (setblocking, send, recv).
package socket

// Socket is a non-blocking-capable byte transport.
type Socket interface {
	// SetBlocking toggles whether Recv waits for data or returns
	// immediately with a nil slice when none is available.
	SetBlocking(blocking bool)

	// Send transmits data, blocking according to the current mode.
	Send(data []byte) error

	// Recv returns the next available chunk, up to maxSize bytes. In
	// non-blocking mode a nil, nil result means no data is currently
	// available (not an error).
	Recv(maxSize int) ([]byte, error)

	Close() error
}
