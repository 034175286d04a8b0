package utils

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// ErrReaderClosed is returned by ReadFrame once the socket has stopped delivering frames.
var ErrReaderClosed = errors.New("can reader closed")

// CANReader yields frames received from the bus.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// SocketCANReader drains the socket on a single goroutine so ReadFrame can
// honour context cancellation without leaking a reader per call.
type SocketCANReader struct {
	conn   net.Conn
	frames chan can.Frame
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewSocketCANReader opens iface and starts receiving in the background.
func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := dialCAN(ctx, iface)
	if err != nil {
		return nil, err
	}
	r := &SocketCANReader{
		conn:   conn,
		frames: make(chan can.Frame, 64),
		done:   make(chan struct{}),
	}
	go r.receive(socketcan.NewReceiver(conn))
	return r, nil
}

func (r *SocketCANReader) receive(recv *socketcan.Receiver) {
	defer close(r.done)
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		select {
		case r.frames <- recv.Frame():
		default:
			// consumer is behind, drop the frame
		}
	}
	r.mu.Lock()
	r.err = recv.Err()
	r.mu.Unlock()
}

// ReadFrame returns the next frame, or ErrReaderClosed once the socket is gone.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.err != nil {
			return can.Frame{}, errors.Wrap(r.err, "socketcan receive")
		}
		return can.Frame{}, ErrReaderClosed
	}
}

// Close closes the socket, which ends the receive goroutine.
func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
