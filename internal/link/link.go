package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"lamportring/internal/wire"
)

var (
	// ErrConnect wraps bind, listen, accept and dial failures.
	ErrConnect = errors.New("link: connect failed")
	// ErrClosed is returned when sending on a closed link.
	ErrClosed = errors.New("link: closed")
	// ErrPeerGone is returned by Receive when the stream ends without a
	// shutdown message.
	ErrPeerGone = errors.New("link: peer closed without shutdown")
)

// Role says which side of the connection this node is on.
type Role string

const (
	// Server is the link accepted from the predecessor.
	Server Role = "server"
	// Client is the link dialed to the successor.
	Client Role = "client"
)

// Link is a connected duplex stream. Send may run concurrently with Receive,
// and a single Receive loop is expected per link.
type Link struct {
	role   Role
	conn   net.Conn
	reader *wire.Reader

	sendMu sync.Mutex
	closed bool

	shutdownOnce  sync.Once
	shutdownsSent atomic.Int32
	peerShutdown  atomic.Bool
	closeOnce     sync.Once
}

// New wraps an established connection.
func New(role Role, conn net.Conn) *Link {
	return &Link{
		role:   role,
		conn:   conn,
		reader: wire.NewReader(conn),
	}
}

// Role returns the link's role.
func (l *Link) Role() Role {
	return l.role
}

// RemoteAddr returns the peer address.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

// Send writes one message as a single frame.
func (l *Link) Send(msg wire.Message) error {
	frame, err := wire.AppendFrame(nil, msg)
	if err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("%s link to %s: send %s: %w", l.role, l.RemoteAddr(), msg, err)
	}
	return nil
}

// SendShutdown sends the shutdown message. Only the first call writes to the
// connection; later calls return nil.
func (l *Link) SendShutdown() error {
	var err error
	l.shutdownOnce.Do(func() {
		err = l.Send(wire.ShutdownMessage())
		if err == nil {
			l.shutdownsSent.Add(1)
		}
	})
	return err
}

// ShutdownsSent returns how many shutdown messages were written (0 or 1).
func (l *Link) ShutdownsSent() int {
	return int(l.shutdownsSent.Load())
}

// PeerShutdown reports whether the peer's shutdown message was received.
func (l *Link) PeerShutdown() bool {
	return l.peerShutdown.Load()
}

// Receive is the receiver task. It blocks reading frames and hands every
// data value to push until the peer's shutdown message arrives, in which case
// it returns nil. Cancelling ctx closes the connection to unblock the read
// and returns the context error. A malformed frame returns an error wrapping
// wire.ErrDecode.
func (l *Link) Receive(ctx context.Context, push func(int64)) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		msg, err := l.reader.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%s link from %s: %w", l.role, l.RemoteAddr(), ErrPeerGone)
			}
			return fmt.Errorf("%s link from %s: %w", l.role, l.RemoteAddr(), err)
		}

		switch msg.Kind {
		case wire.Shutdown:
			l.peerShutdown.Store(true)
			return nil
		case wire.Data:
			push(msg.Value)
		}
	}
}

// Close closes the connection. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.sendMu.Lock()
		l.closed = true
		l.sendMu.Unlock()
		err = l.conn.Close()
	})
	return err
}
