package flowgate

import (
	"fmt"
	"log/slog"
	"net"
	"syscall"
)

// Listener interposes the gate on every accepted connection. The wrapped
// listener's Accept result is always forwarded unchanged: scheduling-side
// failures are logged, never surfaced to the application.
type Listener struct {
	inner net.Listener
	gate  *Gate
}

// Listen starts a gated TCP listener on addr (e.g. ":9000").
func Listen(addr string, gate *Gate) (*Listener, error) {
	tcpL, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("flowgate: listening on %q: %w", addr, err)
	}
	slog.Info("listen: started", "addr", tcpL.Addr())
	return WrapListener(tcpL, gate), nil
}

// WrapListener gates an existing listener.
func WrapListener(l net.Listener, gate *Gate) *Listener {
	return &Listener{inner: l, gate: gate}
}

// Accept accepts from the wrapped listener and feeds the new connection
// through the gate's accept shim.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}

	fd, ferr := connFD(conn)
	if ferr != nil {
		// Not a descriptor-backed connection; pass it through unscheduled.
		slog.Warn("listen: cannot gate connection", "remote", conn.RemoteAddr(), "err", ferr)
		return conn, nil
	}

	if aerr := l.gate.OnAccept(fd); aerr != nil {
		slog.Warn("listen: connection accepted unscheduled",
			"fd", fd,
			"remote", conn.RemoteAddr(),
			"err", aerr,
		)
	}
	return newGatedConn(conn, fd, l.gate), nil
}

// Addr returns the wrapped listener's address.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

// Close closes the wrapped listener. Accepted connections are unaffected.
func (l *Listener) Close() error {
	return l.inner.Close()
}

// connFD extracts the socket descriptor backing conn. The descriptor is
// only used as a registry key and for sockopt calls while the connection
// is open; no ownership is taken.
func connFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("flowgate: %T does not expose a raw descriptor", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("flowgate: raw descriptor: %w", err)
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, fmt.Errorf("flowgate: raw descriptor control: %w", err)
	}
	return fd, nil
}
