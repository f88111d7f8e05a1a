// File: socket/loopback.go
//
// Loopback is an in-process Socket simulator: two endpoints created by
// NewLoopbackPair feed each other's Recv from their own Send, so a channel
// stack can be exercised end-to-end without real radio hardware.
//
// Grounded on fake/transport.go's mutex-guarded fake with Set*Error knobs
// and a buffered inbox, adapted from a bidirectional single-instance fake
// to a connected pair (the spec's wire link always has two ends).
package socket

import (
	"sync"

	"github.com/meshwire/cuttlefish/api"
)

// Loopback is a Socket backed by an in-memory inbox fed by its peer.
type Loopback struct {
	mu       sync.Mutex
	inbox    [][]byte
	blocking bool
	closed   bool
	sendErr  error
	recvErr  error

	peer *Loopback
}

// NewLoopbackPair returns two connected Sockets: a.Send delivers to
// b.Recv and vice versa.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{blocking: true}
	b := &Loopback{blocking: true}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) SetBlocking(blocking bool) {
	l.mu.Lock()
	l.blocking = blocking
	l.mu.Unlock()
}

// Send delivers data to the peer's inbox.
func (l *Loopback) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrChannelClosed
	}
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	l.peer.mu.Lock()
	l.peer.inbox = append(l.peer.inbox, cp)
	l.peer.mu.Unlock()
	return nil
}

// Recv pops the oldest queued chunk, truncated to maxSize (the remainder
// stays queued for the next call). A nil, nil result means the inbox is
// currently empty.
func (l *Loopback) Recv(maxSize int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, api.ErrChannelClosed
	}
	if l.recvErr != nil {
		return nil, l.recvErr
	}
	if len(l.inbox) == 0 {
		return nil, nil
	}

	chunk := l.inbox[0]
	if maxSize > 0 && len(chunk) > maxSize {
		l.inbox[0] = chunk[maxSize:]
		return chunk[:maxSize], nil
	}
	l.inbox = l.inbox[1:]
	return chunk, nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// SetSendError configures Send to fail with err until cleared with nil.
func (l *Loopback) SetSendError(err error) {
	l.mu.Lock()
	l.sendErr = err
	l.mu.Unlock()
}

// SetRecvError configures Recv to fail with err until cleared with nil.
func (l *Loopback) SetRecvError(err error) {
	l.mu.Lock()
	l.recvErr = err
	l.mu.Unlock()
}

// PendingLen reports how many chunks are currently queued, for tests.
func (l *Loopback) PendingLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inbox)
}
