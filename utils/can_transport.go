package utils

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CANWriter sends frames onto the bus.
type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// dialCAN opens a raw CAN socket on iface, shared by the reader and the writer.
func dialCAN(ctx context.Context, iface string) (net.Conn, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	return conn, nil
}

// SocketCANWriter transmits frames on one socket. Writes are serialized so
// frames from concurrent publishers never interleave on the socket.
type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSocketCANWriter opens iface for transmitting.
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := dialCAN(ctx, iface)
	if err != nil {
		return nil, err
	}
	return &SocketCANWriter{conn: conn, tx: socketcan.NewTransmitter(conn)}, nil
}

// WriteFrame sends frame unless ctx is already done.
func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.tx.TransmitFrame(ctx, frame); err != nil {
		return errors.Wrapf(err, "transmit 0x%X", frame.ID)
	}
	return nil
}

// Close closes the socket; later calls return the first result.
func (w *SocketCANWriter) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.conn.Close() })
	return w.closeErr
}
