package link

import (
	"context"
	"fmt"
	"net"
)

// Listener is a bound server socket that accepts exactly one peer.
type Listener struct {
	ln net.Listener
}

// Listen binds addr.
func Listen(ctx context.Context, addr string) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", ErrConnect, addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Accept blocks until one peer connects, then stops listening. Cancelling
// ctx aborts the wait.
func (l *Listener) Accept(ctx context.Context) (*Link, error) {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	l.ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: accept on %s: %v", ErrConnect, l.Addr(), err)
	}
	return New(Server, conn), nil
}

// Close releases the socket if Accept was never called.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial makes a single connection attempt to addr.
func Dial(ctx context.Context, addr string) (*Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnect, addr, err)
	}
	return New(Client, conn), nil
}
