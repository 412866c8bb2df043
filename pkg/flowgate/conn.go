package flowgate

import (
	"net"
	"sync"
)

// gatedConn forwards everything to the underlying connection and runs the
// gate's close shim after a successful Close. If the real Close fails its
// error is propagated unchanged and the flow stays registered, exactly as
// if close had not been called.
type gatedConn struct {
	net.Conn
	fd        int
	gate      *Gate
	closeOnce sync.Once
}

func newGatedConn(conn net.Conn, fd int, gate *Gate) *gatedConn {
	return &gatedConn{Conn: conn, fd: fd, gate: gate}
}

func (c *gatedConn) Close() error {
	err := c.Conn.Close()
	if err != nil {
		return err
	}
	// The descriptor may be reused by the OS immediately, so the registry
	// entry must be gone before Close returns.
	c.closeOnce.Do(func() {
		c.gate.OnClose(c.fd)
	})
	return nil
}
